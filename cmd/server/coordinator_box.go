package main

import (
	"context"
	"sync/atomic"

	"chatcore/internal/coordinator"
	"chatcore/internal/models"
)

// coordinatorBox is a late-bound pointer to the *coordinator.Coordinator,
// letting the pub/sub bridge and the delivery queue be constructed (and
// handed a stable reference) before the Coordinator itself exists. Both
// sides of the dependency are real — the Coordinator fans out through the
// bridge and the queue, and the bridge/queue relay back into the
// Coordinator on an inbound event — so something has to be built last;
// this box is that seam, set exactly once during wiring in main.
type coordinatorBox struct {
	v atomic.Pointer[coordinator.Coordinator]
}

func (b *coordinatorBox) set(c *coordinator.Coordinator) { b.v.Store(c) }

func (b *coordinatorBox) Deliver(ctx context.Context, unit models.DeliveryUnit) error {
	return b.v.Load().Deliver(ctx, unit)
}

func (b *coordinatorBox) DeliverTyping(chatID, userID string, isTyping bool) {
	b.v.Load().DeliverTyping(chatID, userID, isTyping)
}

func (b *coordinatorBox) DeliverPresence(snapshot models.PresenceSnapshot) {
	b.v.Load().DeliverPresence(snapshot)
}
