package handlers

import (
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatcore/internal/coordinator"
	"chatcore/internal/database"
	"chatcore/internal/presence"
	"chatcore/internal/realtime"
)

// socketSessionTTL bounds how long a socket's Session row stays valid if the
// connection is never cleanly closed (crash, network partition). The expiry
// is fixed at creation: heartbeats refresh presence keys, not the Session row.
const socketSessionTTL = 24 * time.Hour

// WSHandler upgrades an authenticated request to a WebSocket and wires the
// resulting Client into the Hub, the room set the user currently belongs
// to, and the presence registry, mirroring the teacher's WSHandler.ServeWs
// but generalized for multi-device presence and room-based fan-out.
type WSHandler struct {
	Hub         *realtime.Hub
	DB          *database.DB
	Coordinator *coordinator.Coordinator
	Presence    *presence.Registry
	WriteWait   time.Duration
	PongWait    time.Duration
	upgrader    websocket.Upgrader
}

// NewWSHandler constructs a WSHandler with an origin-checking upgrader built
// from the configured CORS allow-list, following the teacher's
// NewWSHandler convention.
func NewWSHandler(hub *realtime.Hub, db *database.DB, coord *coordinator.Coordinator, reg *presence.Registry,
	writeWait, pongWait time.Duration, allowedOrigins string) *WSHandler {
	origins := strings.Split(allowedOrigins, ",")
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			originURL, err := url.Parse(origin)
			if err != nil {
				return false
			}
			for _, allowed := range origins {
				if strings.EqualFold(strings.TrimSpace(allowed), originURL.String()) ||
					strings.EqualFold(strings.TrimSpace(allowed), originURL.Hostname()) {
					return true
				}
			}
			log.Printf("[handlers] WebSocket connection from disallowed origin rejected: %s", origin)
			return false
		},
	}
	return &WSHandler{Hub: hub, DB: db, Coordinator: coord, Presence: reg, WriteWait: writeWait, PongWait: pongWait, upgrader: upgrader}
}

// ServeWs upgrades the connection, mints a per-socket Session row, and
// starts the client's read/write pumps.
func (h *WSHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[handlers] WebSocket upgrade failed for user %s: %v", userID, err)
		return
	}

	socketID := uuid.NewString()
	deviceID := r.URL.Query().Get("deviceId")
	ua := r.UserAgent()
	ip := clientIP(r)
	session, err := h.DB.CreateSession(userID, socketID, database.DeviceInfo{
		DeviceID:  nonEmpty(deviceID),
		UserAgent: nonEmpty(ua),
		IPAddress: nonEmpty(ip),
	}, time.Now().UTC().Add(socketSessionTTL))
	if err != nil {
		log.Printf("[handlers] failed to create session for user %s: %v", userID, err)
		conn.Close()
		return
	}
	if err := h.DB.AttachSocket(session.ID, socketID); err != nil {
		log.Printf("[handlers] failed to attach socket to session %s: %v", session.ID, err)
	}

	client := realtime.NewClient(h.Hub, conn, userID, socketID, h.Coordinator, h.WriteWait, h.PongWait,
		h.onConnect, h.onDisconnect(session.SessionToken), h.onHeartbeat)

	h.Hub.Register(client)
	go client.WritePump()
	go client.ReadPump()

	log.Printf("[handlers] socket %s connected for user %s", socketID, userID)
}

func (h *WSHandler) onConnect(c *realtime.Client) {
	if err := h.Presence.Connect(c.UserID(), c.SessionID()); err != nil {
		log.Printf("[handlers] presence connect failed for user %s: %v", c.UserID(), err)
	}
	chatIDs, err := h.DB.ActiveChatIDsForUser(c.UserID())
	if err != nil {
		log.Printf("[handlers] failed to load chats for user %s: %v", c.UserID(), err)
	}
	for _, chatID := range chatIDs {
		c.JoinRoom(chatID)
	}

	h.Hub.DeliverToUser(c.UserID(), realtime.Envelope{Type: "connection:success", Data: map[string]any{
		"userId":    c.UserID(),
		"timestamp": time.Now().UTC(),
	}})

	if err := h.Coordinator.FlushPending(c.UserID()); err != nil {
		log.Printf("[handlers] failed to flush pending deliveries for user %s: %v", c.UserID(), err)
	}
}

func (h *WSHandler) onDisconnect(sessionToken string) func(c *realtime.Client, lastSocketForUser bool) {
	return func(c *realtime.Client, lastSocketForUser bool) {
		h.Presence.Disconnect(c.UserID(), c.SessionID())
		if err := h.DB.Invalidate(sessionToken); err != nil {
			log.Printf("[handlers] failed to invalidate session %s: %v", sessionToken, err)
		}
		log.Printf("[handlers] socket %s disconnected for user %s (last socket: %v)", c.SessionID(), c.UserID(), lastSocketForUser)
	}
}

func (h *WSHandler) onHeartbeat(c *realtime.Client) {
	if err := h.Presence.Heartbeat(c.UserID(), c.SessionID()); err != nil {
		log.Printf("[handlers] presence heartbeat failed for user %s: %v", c.UserID(), err)
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
