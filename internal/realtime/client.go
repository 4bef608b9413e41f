package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatcore/internal/apperrors"
)

const (
	maxMessageSize = 64 * 1024 // inbound socket frames are small JSON event envelopes
	sendBufferSize = 256
)

// Router dispatches a decoded inbound event to its handler (in cmd/server
// this is internal/coordinator, which handles message, typing and
// read-receipt events alike). Implementations reply asynchronously via the Hub
// (DeliverToUser), not by returning a value here — an inbound event can
// fan out to several recipients, not just the sender.
type Router interface {
	Route(userID, sessionID, eventType string, payload json.RawMessage)
}

// Client is the per-connection middleman between a WebSocket and the Hub.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	userID       string
	sessionID    string
	router       Router
	writeWait    time.Duration
	pongWait     time.Duration
	connMutex    sync.Mutex
	onConnect    func(c *Client)
	onDisconnect func(c *Client, lastSocketForUser bool)
	onHeartbeat  func(c *Client)
}

// NewClient creates a new Client bound to an already-upgraded connection.
// onConnect is invoked once the client is registered with the Hub (the
// natural place for the caller to join chat rooms and mark presence
// online); onDisconnect once it is unregistered; onHeartbeat on every
// ping tick, so the caller can refresh the presence socket TTL in step
// with the same cadence the WebSocket keepalive already uses.
func NewClient(hub *Hub, conn *websocket.Conn, userID, sessionID string, router Router, writeWait, pongWait time.Duration,
	onConnect func(c *Client), onDisconnect func(c *Client, lastSocketForUser bool), onHeartbeat func(c *Client)) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		userID:       userID,
		sessionID:    sessionID,
		router:       router,
		writeWait:    writeWait,
		pongWait:     pongWait,
		onConnect:    onConnect,
		onDisconnect: onDisconnect,
		onHeartbeat:  onHeartbeat,
	}
}

// ReadPump pumps inbound frames from the connection to the router. Run as a
// goroutine; returns when the connection closes.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[realtime] read error for user %s: %v", c.userID, err)
			}
			break
		}
		var envelope struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(message, &envelope); err != nil {
			c.enqueueEnvelope(Envelope{Type: "error", Data: map[string]string{"message": "invalid event envelope"}})
			continue
		}
		if envelope.Type == "ping" {
			c.enqueueEnvelope(Envelope{Type: "pong"})
			continue
		}
		c.router.Route(c.userID, c.sessionID, envelope.Type, envelope.Data)
	}
}

// WritePump pumps outbound frames from the send channel to the connection,
// and drives the ping/pong keepalive. Run as a goroutine.
func (c *Client) WritePump() {
	pingPeriod := c.pongWait / 2
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, message); err != nil {
				log.Printf("[realtime] write error for user %s: %v", c.userID, err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				log.Printf("[realtime] ping error for user %s: %v", c.userID, err)
				return
			}
			if c.onHeartbeat != nil {
				c.onHeartbeat(c)
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// Close sends a close frame carrying the given code and reason, then closes
// the connection without waiting for the read pump to notice.
func (c *Client) Close(code int, reason string) {
	c.connMutex.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	msg := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteMessage(websocket.CloseMessage, msg)
	c.connMutex.Unlock()
	c.conn.Close()
}

func (c *Client) enqueueEnvelope(e Envelope) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	c.enqueue(payload, e.Type)
}

// enqueue sends with a 2s grace period; if the send buffer is still full
// after that, the frame is dropped so a slow socket cannot back-pressure the
// whole node. Only the frame is dropped: the socket itself stays open, however
// many frames it has lost.
func (c *Client) enqueue(payload []byte, eventType string) {
	select {
	case c.send <- payload:
	case <-time.After(2 * time.Second):
		log.Printf("[realtime] send buffer full for user %s, dropping %s event", c.userID, eventType)
	}
}

func (c *Client) closeSend() {
	close(c.send)
}

func (c *Client) onRegistered() {
	if c.onConnect != nil {
		c.onConnect(c)
	}
}

func (c *Client) onUnregistered(lastSocketForUser bool) {
	if c.onDisconnect != nil {
		c.onDisconnect(c, lastSocketForUser)
	}
}

// UserID returns the authenticated user ID this client belongs to.
func (c *Client) UserID() string { return c.userID }

// SessionID returns the socket-level session identifier, used as the
// presence "socket ID" distinguishing a user's concurrent devices.
func (c *Client) SessionID() string { return c.sessionID }

// JoinRoom subscribes this client to a chat room's fan-out list via its
// owning Hub.
func (c *Client) JoinRoom(chatID string) { c.hub.JoinRoom(chatID, c) }

// CloseCodeForAuthError maps an apperrors.Error produced by internal/authgate
// to the WebSocket close code SPEC_FULL.md §4.1 specifies: 1008 (policy
// violation) for a structurally invalid token, 1011 (internal error) is
// reserved for unexpected server faults, not auth rejection, so an expired
// token also closes with 1008 — the client's remedy in both cases is to
// re-authenticate.
func CloseCodeForAuthError(err error) int {
	if appErr, ok := apperrors.As(err); ok && appErr.Kind == apperrors.Unauthorized {
		return websocket.ClosePolicyViolation
	}
	return websocket.CloseInternalServerErr
}
