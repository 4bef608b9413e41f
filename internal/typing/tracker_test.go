package typing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"chatcore/internal/cache"
)

// fakePublisher records every typing transition handed to it, standing in
// for *pubsub.Bridge.
type fakePublisher struct {
	events []publishedTyping
}

type publishedTyping struct {
	chatID, userID string
	isTyping       bool
}

func (f *fakePublisher) PublishTyping(ctx context.Context, chatID, userID string, isTyping bool) error {
	f.events = append(f.events, publishedTyping{chatID, userID, isTyping})
	return nil
}

func newTestTracker(t *testing.T, ttl time.Duration) (*Tracker, *miniredis.Miniredis, *fakePublisher) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	pub := &fakePublisher{}
	return New(&cache.Cache{Client: client}, pub, ttl, 2*time.Second), mr, pub
}

func TestTrackerStartPublishesOnlyOnce(t *testing.T) {
	tr, _, pub := newTestTracker(t, 5*time.Second)

	transitioned, err := tr.Start("chat-1", "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !transitioned {
		t.Error("first Start should report a transition")
	}
	transitioned, err = tr.Start("chat-1", "user-1")
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if transitioned {
		t.Error("repeated Start should not report a transition")
	}

	if len(pub.events) != 1 {
		t.Fatalf("got %d publish events, want 1 (repeated Start calls should not spam)", len(pub.events))
	}
	if !pub.events[0].isTyping {
		t.Errorf("first event isTyping = false, want true")
	}

	isTyping, err := tr.IsTyping("chat-1", "user-1")
	if err != nil {
		t.Fatalf("IsTyping: %v", err)
	}
	if !isTyping {
		t.Error("expected IsTyping to report true after Start")
	}
}

func TestTrackerStopPublishesOnlyWhenTyping(t *testing.T) {
	tr, _, pub := newTestTracker(t, 5*time.Second)

	transitioned, err := tr.Stop("chat-1", "user-1")
	if err != nil {
		t.Fatalf("Stop on never-started key: %v", err)
	}
	if transitioned {
		t.Error("Stop on an absent key should not report a transition")
	}
	if len(pub.events) != 0 {
		t.Fatalf("got %d publish events from Stop on an absent key, want 0", len(pub.events))
	}

	if _, err := tr.Start("chat-1", "user-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	transitioned, err = tr.Stop("chat-1", "user-1")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !transitioned {
		t.Error("Stop on a live key should report a transition")
	}

	if len(pub.events) != 2 {
		t.Fatalf("got %d publish events, want 2 (one start, one stop)", len(pub.events))
	}
	if pub.events[1].isTyping {
		t.Errorf("second event isTyping = true, want false")
	}

	isTyping, err := tr.IsTyping("chat-1", "user-1")
	if err != nil {
		t.Fatalf("IsTyping: %v", err)
	}
	if isTyping {
		t.Error("expected IsTyping to report false after Stop")
	}
}

func TestTrackerKeyExpiresWithoutRefresh(t *testing.T) {
	tr, mr, _ := newTestTracker(t, 5*time.Second)

	if _, err := tr.Start("chat-1", "user-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mr.FastForward(6 * time.Second)

	isTyping, err := tr.IsTyping("chat-1", "user-1")
	if err != nil {
		t.Fatalf("IsTyping: %v", err)
	}
	if isTyping {
		t.Error("expected typing key to have expired without a refresh")
	}
}
