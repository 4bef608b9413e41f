package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"chatcore/internal/cache"
	"chatcore/internal/models"
)

type fakePublisher struct {
	snapshots []models.PresenceSnapshot
}

func (f *fakePublisher) PublishPresence(ctx context.Context, snapshot models.PresenceSnapshot) error {
	f.snapshots = append(f.snapshots, snapshot)
	return nil
}

func newTestRegistry(t *testing.T, graceWindow time.Duration) (*Registry, *fakePublisher) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	pub := &fakePublisher{}
	return New(&cache.Cache{Client: client}, pub, graceWindow, 2*time.Second), pub
}

func TestRegistryConnectPublishesOnlyOnFirstSocket(t *testing.T) {
	reg, pub := newTestRegistry(t, 50*time.Millisecond)

	if err := reg.Connect("user-1", "socket-a"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := reg.Connect("user-1", "socket-b"); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	if len(pub.snapshots) != 1 {
		t.Fatalf("got %d presence publications, want 1 (second socket is the same user)", len(pub.snapshots))
	}
	if pub.snapshots[0].Status != models.StatusOnline {
		t.Errorf("status = %v, want online", pub.snapshots[0].Status)
	}

	online, err := reg.IsOnline(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("IsOnline: %v", err)
	}
	if !online {
		t.Error("expected user-1 to be online")
	}
	if got := reg.LocalSocketCount("user-1"); got != 2 {
		t.Errorf("LocalSocketCount = %d, want 2", got)
	}
}

func TestRegistryDisconnectDebouncesOffline(t *testing.T) {
	reg, pub := newTestRegistry(t, 100*time.Millisecond)

	if err := reg.Connect("user-1", "socket-a"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	reg.Disconnect("user-1", "socket-a")

	// A disconnect starts the grace-window timer; the user should not flip
	// offline immediately.
	online, err := reg.IsOnline(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("IsOnline immediately after disconnect: %v", err)
	}
	if !online {
		t.Error("expected user-1 to still be online during the grace window")
	}

	time.Sleep(250 * time.Millisecond)

	online, err = reg.IsOnline(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("IsOnline after grace window: %v", err)
	}
	if online {
		t.Error("expected user-1 to be offline once the grace window elapsed with no reconnect")
	}

	if len(pub.snapshots) != 2 {
		t.Fatalf("got %d presence publications, want 2 (online, then offline)", len(pub.snapshots))
	}
	if pub.snapshots[1].Status != models.StatusOffline {
		t.Errorf("final status = %v, want offline", pub.snapshots[1].Status)
	}
}

func TestRegistryReconnectDuringGraceWindowStaysOnline(t *testing.T) {
	reg, pub := newTestRegistry(t, 150*time.Millisecond)

	if err := reg.Connect("user-1", "socket-a"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	reg.Disconnect("user-1", "socket-a")
	if err := reg.Connect("user-1", "socket-b"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	time.Sleep(250 * time.Millisecond)

	online, err := reg.IsOnline(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("IsOnline: %v", err)
	}
	if !online {
		t.Error("expected user-1 to remain online: reconnected before the grace window elapsed")
	}

	for _, snap := range pub.snapshots {
		if snap.Status == models.StatusOffline {
			t.Error("did not expect an offline publication: the reconnect should have canceled the debounce timer")
		}
	}
}
