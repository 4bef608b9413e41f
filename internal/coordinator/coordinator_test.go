package coordinator

import (
	"testing"

	"chatcore/internal/realtime"
)

// fakeBroadcaster records every envelope handed to it, standing in for
// *realtime.Hub in tests that don't need a live socket registry.
type fakeBroadcaster struct {
	toUser []userDelivery
	toRoom []roomDelivery
}

type userDelivery struct {
	userID   string
	envelope realtime.Envelope
}

type roomDelivery struct {
	chatID, excludeUserID string
	envelope              realtime.Envelope
}

func (f *fakeBroadcaster) DeliverToUser(userID string, envelope realtime.Envelope) {
	f.toUser = append(f.toUser, userDelivery{userID, envelope})
}

func (f *fakeBroadcaster) DeliverToRoom(chatID string, envelope realtime.Envelope, excludeUserID string) {
	f.toRoom = append(f.toRoom, roomDelivery{chatID, excludeUserID, envelope})
}

func TestWithoutSelf(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		self string
		want []string
	}{
		{"removes self from middle", []string{"a", "b", "c"}, "b", []string{"a", "c"}},
		{"self not present", []string{"a", "b"}, "z", []string{"a", "b"}},
		{"empty input", nil, "a", []string{}},
		{"all entries are self", []string{"a", "a"}, "a", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := withoutSelf(tt.ids, tt.self)
			if len(got) != len(tt.want) {
				t.Fatalf("withoutSelf(%v, %q) = %v, want %v", tt.ids, tt.self, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("withoutSelf(%v, %q)[%d] = %q, want %q", tt.ids, tt.self, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestContentTypeOf(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"image", "image"},
		{"system", "system"},
		{"text", "text"},
		{"bogus", "text"},
		{"", "text"},
	}
	for _, tt := range tests {
		if got := string(contentTypeOf(tt.in)); got != tt.want {
			t.Errorf("contentTypeOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDeliverTypingStartAndStop(t *testing.T) {
	hub := &fakeBroadcaster{}
	c := &Coordinator{hub: hub}

	c.DeliverTyping("chat-1", "user-1", true)
	c.DeliverTyping("chat-1", "user-1", false)

	if len(hub.toRoom) != 2 {
		t.Fatalf("got %d room deliveries, want 2", len(hub.toRoom))
	}
	if hub.toRoom[0].envelope.Type != "typing:start" {
		t.Errorf("first delivery type = %q, want typing:start", hub.toRoom[0].envelope.Type)
	}
	if hub.toRoom[1].envelope.Type != "typing:stop" {
		t.Errorf("second delivery type = %q, want typing:stop", hub.toRoom[1].envelope.Type)
	}
	if hub.toRoom[0].chatID != "chat-1" {
		t.Errorf("chatID = %q, want chat-1", hub.toRoom[0].chatID)
	}
	if hub.toRoom[0].excludeUserID != "user-1" {
		t.Errorf("excludeUserID = %q, want user-1 (typing author shouldn't echo to itself)", hub.toRoom[0].excludeUserID)
	}
}
