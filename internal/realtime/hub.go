// Package realtime implements the WebSocket communication layer described
// in SPEC_FULL.md §4.4: the socket registry (Hub), and the per-connection
// read/write pumps (Client). The Hub is this node's local view of which
// users have an open socket; fleet-wide presence and cross-node delivery
// are internal/presence and internal/pubsub's job respectively.
package realtime

import (
	"encoding/json"
	"log"
	"sync"

	"chatcore/internal/metrics"
)

// Envelope is the wire format for every outbound socket event.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Hub manages the lifecycle of all WebSocket clients connected to this
// node, keyed by user ID so an event addressed to a user reaches every
// device they're connected from. It also keeps chat rooms — a subscription
// list per chat ID — so a message fan-out can address "everyone currently
// watching this chat" without the caller re-deriving it from the
// participant list on every send.
type Hub struct {
	clients map[string]map[*Client]bool
	rooms   map[string]map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
}

// NewHub creates and initializes a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Register enqueues a client for registration with the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Run starts the hub's single-threaded event loop. Call as a goroutine.
func (h *Hub) Run() {
	log.Println("[realtime] hub running")
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.userID]; !ok {
				h.clients[client.userID] = make(map[*Client]bool)
			}
			h.clients[client.userID][client] = true
			h.mu.Unlock()
			metrics.ActiveConnections.Inc()
			client.onRegistered()

		case client := <-h.unregister:
			h.mu.Lock()
			if userClients, ok := h.clients[client.userID]; ok {
				if _, exists := userClients[client]; exists {
					delete(userClients, client)
					client.closeSend()
					if len(userClients) == 0 {
						delete(h.clients, client.userID)
					}
				}
			}
			for chatID, roomClients := range h.rooms {
				if _, ok := roomClients[client]; ok {
					delete(roomClients, client)
					if len(roomClients) == 0 {
						delete(h.rooms, chatID)
					}
				}
			}
			h.mu.Unlock()
			metrics.ActiveConnections.Dec()
			client.onUnregistered(len(h.clients[client.userID]) == 0)
		}
	}
}

// JoinRoom subscribes client to a chat room's fan-out list, typically
// called once per active chat a user belongs to, right after their socket
// registers.
func (h *Hub) JoinRoom(chatID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[chatID]; !ok {
		h.rooms[chatID] = make(map[*Client]bool)
	}
	h.rooms[chatID][client] = true
}

// LeaveRoom removes client from a chat room's fan-out list, e.g. when a
// user leaves the chat without disconnecting their socket.
func (h *Hub) LeaveRoom(chatID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if roomClients, ok := h.rooms[chatID]; ok {
		delete(roomClients, client)
		if len(roomClients) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// DeliverToRoom pushes an envelope to every local socket subscribed to a
// chat room, optionally skipping one user (typically the sender, who
// already has the authoritative copy of what they just sent).
func (h *Hub) DeliverToRoom(chatID string, envelope Envelope, excludeUserID string) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("[realtime] failed to marshal envelope type %s: %v", envelope.Type, err)
		return
	}

	h.mu.RLock()
	roomClients := h.rooms[chatID]
	targets := make([]*Client, 0, len(roomClients))
	for c := range roomClients {
		if c.userID != excludeUserID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(payload, envelope.Type)
	}
}

// Unregister enqueues a client for removal from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// IsOnline reports whether userID has at least one live socket on this
// node.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// SocketCount returns how many live sockets userID holds on this node.
func (h *Hub) SocketCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// DeliverToUser pushes an envelope to every local socket userID holds.
// It implements internal/coordinator's Broadcaster interface and is a
// no-op (not an error) if the user has no local socket — the caller falls
// back to internal/pubsub for cross-node fan-out and internal/delivery for
// durable redelivery.
func (h *Hub) DeliverToUser(userID string, envelope Envelope) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("[realtime] failed to marshal envelope type %s: %v", envelope.Type, err)
		return
	}

	h.mu.RLock()
	userClients := h.clients[userID]
	targets := make([]*Client, 0, len(userClients))
	for c := range userClients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(payload, envelope.Type)
	}
}

// DeliverRaw pushes a pre-marshaled payload to every local socket userID
// holds, used by internal/pubsub when relaying an event that originated on
// another node (already-marshaled, so it is not re-encoded).
func (h *Hub) DeliverRaw(userID string, payload []byte, eventType string) {
	h.mu.RLock()
	userClients := h.clients[userID]
	targets := make([]*Client, 0, len(userClients))
	for c := range userClients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(payload, eventType)
	}
}
