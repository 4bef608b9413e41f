package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"chatcore/internal/cache"
	"chatcore/internal/models"
)

// fakeDeliverer fails its first N attempts for a given message, then
// succeeds, so tests can exercise the retry and dead-letter paths without a
// real Coordinator.
type fakeDeliverer struct {
	mu         sync.Mutex
	failBudget map[string]int
	attempts   int32
}

func (f *fakeDeliverer) Deliver(ctx context.Context, unit models.DeliveryUnit) error {
	atomic.AddInt32(&f.attempts, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBudget[unit.MessageID] > 0 {
		f.failBudget[unit.MessageID]--
		return errors.New("simulated delivery failure")
	}
	return nil
}

func newTestQueue(t *testing.T, deliverer Deliverer, maxAttempts int, retryBackoff time.Duration) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	c := &cache.Cache{Client: client}
	q := New(c, deliverer, 2, maxAttempts, retryBackoff, 2*time.Second, "test-node")
	t.Cleanup(q.Stop)
	ctx := context.Background()
	if err := q.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	return q, mr
}

func TestQueueEnqueueIncreasesDepth(t *testing.T) {
	q, _ := newTestQueue(t, &fakeDeliverer{failBudget: map[string]int{}}, 3, 10*time.Millisecond)
	ctx := context.Background()

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("initial depth = %d, want 0", depth)
	}

	if err := q.Enqueue(ctx, models.DeliveryUnit{MessageID: "msg-1", ChatID: "chat-1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	depth, err = q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth after enqueue: %v", err)
	}
	if depth != 1 {
		t.Fatalf("depth after one enqueue = %d, want 1", depth)
	}
}

func TestQueueDeliversSuccessfully(t *testing.T) {
	deliverer := &fakeDeliverer{failBudget: map[string]int{}}
	q, _ := newTestQueue(t, deliverer, 3, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go q.Run(ctx)

	if err := q.Enqueue(context.Background(), models.DeliveryUnit{MessageID: "msg-1", ChatID: "chat-1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&deliverer.attempts) >= 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&deliverer.attempts); got < 1 {
		t.Fatalf("deliverer was invoked %d times, want at least 1", got)
	}
}

func TestQueueRetriesThenSucceeds(t *testing.T) {
	deliverer := &fakeDeliverer{failBudget: map[string]int{"msg-1": 2}}
	q, _ := newTestQueue(t, deliverer, 5, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go q.Run(ctx)

	if err := q.Enqueue(context.Background(), models.DeliveryUnit{MessageID: "msg-1", ChatID: "chat-1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&deliverer.attempts) >= 3 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&deliverer.attempts); got < 3 {
		t.Fatalf("deliverer was invoked %d times, want at least 3 (2 failures + 1 success)", got)
	}
}

func TestQueueDeadLettersAfterExhaustingAttempts(t *testing.T) {
	deliverer := &fakeDeliverer{failBudget: map[string]int{"msg-1": 100}}
	q, _ := newTestQueue(t, deliverer, 2, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go q.Run(ctx)

	if err := q.Enqueue(context.Background(), models.DeliveryUnit{MessageID: "msg-1", ChatID: "chat-1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	var length int64
	for time.Now().Before(deadline) {
		var err error
		length, err = q.cache.Client.XLen(context.Background(), cache.DeliveryDeadLetterKey).Result()
		if err != nil {
			t.Fatalf("XLen on dead-letter stream: %v", err)
		}
		if length > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if length == 0 {
		t.Fatal("expected the unit to be dead-lettered after exhausting its retry budget")
	}
}
