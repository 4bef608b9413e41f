package realtime

import (
	"encoding/json"
	"testing"
	"time"
)

func newTestClient(userID string) *Client {
	return &Client{userID: userID, send: make(chan []byte, 8)}
}

func drain(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case payload := <-c.send:
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("failed to unmarshal delivered payload: %v", err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
		return Envelope{}
	}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload := <-c.send:
		t.Fatalf("expected no delivery, got %s", payload)
	default:
	}
}

func TestHubDeliverToRoomFanOutAndExclude(t *testing.T) {
	h := NewHub()
	alice := newTestClient("alice")
	bob := newTestClient("bob")
	h.JoinRoom("chat-1", alice)
	h.JoinRoom("chat-1", bob)

	h.DeliverToRoom("chat-1", Envelope{Type: "message:new"}, "alice")

	assertEmpty(t, alice)
	env := drain(t, bob)
	if env.Type != "message:new" {
		t.Errorf("bob received type %q, want message:new", env.Type)
	}
}

func TestHubDeliverToRoomNoExclusion(t *testing.T) {
	h := NewHub()
	alice := newTestClient("alice")
	h.JoinRoom("chat-1", alice)

	h.DeliverToRoom("chat-1", Envelope{Type: "message:new"}, "")

	env := drain(t, alice)
	if env.Type != "message:new" {
		t.Errorf("alice received type %q, want message:new", env.Type)
	}
}

func TestHubLeaveRoomStopsDelivery(t *testing.T) {
	h := NewHub()
	alice := newTestClient("alice")
	h.JoinRoom("chat-1", alice)
	h.LeaveRoom("chat-1", alice)

	h.DeliverToRoom("chat-1", Envelope{Type: "message:new"}, "")

	assertEmpty(t, alice)
}

func TestHubDeliverToUserReachesAllSockets(t *testing.T) {
	h := NewHub()
	h.clients["alice"] = map[*Client]bool{}
	device1 := newTestClient("alice")
	device2 := newTestClient("alice")
	h.clients["alice"][device1] = true
	h.clients["alice"][device2] = true

	h.DeliverToUser("alice", Envelope{Type: "presence:update"})

	drain(t, device1)
	drain(t, device2)
}

func TestHubIsOnlineAndSocketCount(t *testing.T) {
	h := NewHub()
	if h.IsOnline("alice") {
		t.Fatal("expected alice to be offline before any socket registers")
	}

	h.clients["alice"] = map[*Client]bool{newTestClient("alice"): true, newTestClient("alice"): true}

	if !h.IsOnline("alice") {
		t.Error("expected alice to be online with sockets registered")
	}
	if got := h.SocketCount("alice"); got != 2 {
		t.Errorf("SocketCount(alice) = %d, want 2", got)
	}
	if got := h.SocketCount("bob"); got != 0 {
		t.Errorf("SocketCount(bob) = %d, want 0", got)
	}
}
