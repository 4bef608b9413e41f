// Package delivery implements the durable DeliveryQueue described in
// SPEC_FULL.md §4.6: a Redis Stream consumer group gives at-least-once
// delivery across node restarts, and an alitto/pond worker pool bounds how
// many deliveries run concurrently per node. A unit that exhausts its
// retry budget is moved to a dead-letter stream instead of being dropped.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/alitto/pond"
	"github.com/redis/go-redis/v9"

	"chatcore/internal/cache"
	"chatcore/internal/metrics"
	"chatcore/internal/models"
)

// Deliverer performs the actual push of a DeliveryUnit to its recipients
// (local hub delivery, pubsub relay, or both) and reports whether it
// succeeded. internal/coordinator supplies the concrete implementation so
// this package stays free of realtime/pubsub imports.
type Deliverer interface {
	Deliver(ctx context.Context, unit models.DeliveryUnit) error
}

// DeadLetterUnit is a DeliveryUnit that exhausted its retry budget,
// recorded for operator inspection (SPEC_FULL.md §3).
type DeadLetterUnit struct {
	Unit      models.DeliveryUnit `json:"unit"`
	LastError string              `json:"lastError"`
	FailedAt  time.Time           `json:"failedAt"`
}

// Queue wraps a Redis Streams consumer group with a bounded worker pool.
type Queue struct {
	cache        *cache.Cache
	pool         *pond.WorkerPool
	consumer     string
	maxAttempts  int
	retryBackoff time.Duration
	callTimeout  time.Duration
	deliverer    Deliverer
}

// New constructs a Queue. consumerName should be unique per node (e.g.
// hostname+pid) so XPENDING/XCLAIM can tell which node owned a stalled
// entry.
func New(c *cache.Cache, deliverer Deliverer, workerCount int, maxAttempts int, retryBackoff, callTimeout time.Duration, consumerName string) *Queue {
	if workerCount <= 0 {
		workerCount = 8
	}
	return &Queue{
		cache:        c,
		pool:         pond.New(workerCount, workerCount*4, pond.MinWorkers(1), pond.IdleTimeout(30*time.Second)),
		consumer:     consumerName,
		maxAttempts:  maxAttempts,
		retryBackoff: retryBackoff,
		callTimeout:  callTimeout,
		deliverer:    deliverer,
	}
}

// EnsureGroup creates the consumer group if it does not already exist.
// Must be called once before Run.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.cache.Client.XGroupCreateMkStream(ctx, cache.DeliveryStreamKey, cache.DeliveryConsumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create delivery consumer group: %w", err)
	}
	return nil
}

// Enqueue adds a DeliveryUnit to the stream for at-least-once processing.
func (q *Queue) Enqueue(ctx context.Context, unit models.DeliveryUnit) error {
	payload, err := json.Marshal(unit)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery unit: %w", err)
	}
	err = q.cache.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: cache.DeliveryStreamKey,
		Values: map[string]interface{}{"unit": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue delivery unit: %w", err)
	}
	return nil
}

// Run starts the consume loop, blocking until ctx is canceled. Run as a
// goroutine; it also starts a background reclaimer for entries abandoned
// by a crashed node.
func (q *Queue) Run(ctx context.Context) {
	go q.reclaimLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			q.pool.StopAndWait()
			return
		default:
		}

		streams, err := q.cache.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    cache.DeliveryConsumerGroup,
			Consumer: q.consumer,
			Streams:  []string{cache.DeliveryStreamKey, ">"},
			Count:    32,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[delivery] XReadGroup error: %v", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				msg := msg
				q.pool.Submit(func() { q.process(ctx, msg) })
			}
		}
	}
}

func (q *Queue) process(ctx context.Context, msg redis.XMessage) {
	raw, ok := msg.Values["unit"].(string)
	if !ok {
		log.Printf("[delivery] malformed stream entry %s, acking to drop it", msg.ID)
		q.ack(msg.ID)
		return
	}
	var unit models.DeliveryUnit
	if err := json.Unmarshal([]byte(raw), &unit); err != nil {
		log.Printf("[delivery] failed to decode stream entry %s: %v, dropping", msg.ID, err)
		q.ack(msg.ID)
		return
	}

	deliverCtx, cancel := context.WithTimeout(ctx, q.callTimeout)
	err := q.deliverer.Deliver(deliverCtx, unit)
	cancel()

	if err == nil {
		q.ack(msg.ID)
		return
	}

	unit.Attempt++
	if unit.Attempt >= q.maxAttempts {
		q.deadLetter(ctx, unit, err)
		q.ack(msg.ID)
		return
	}

	delay := q.retryBackoff << (unit.Attempt - 1) // exponential: doubles per failed attempt
	log.Printf("[delivery] delivery of message %s attempt %d failed: %v, retrying in %s",
		unit.MessageID, unit.Attempt, err, delay)
	time.AfterFunc(delay, func() {
		if reErr := q.Enqueue(context.Background(), unit); reErr != nil {
			log.Printf("[delivery] failed to re-enqueue message %s: %v", unit.MessageID, reErr)
		}
	})
	q.ack(msg.ID)
}

func (q *Queue) ack(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), q.callTimeout)
	defer cancel()
	if err := q.cache.Client.XAck(ctx, cache.DeliveryStreamKey, cache.DeliveryConsumerGroup, id).Err(); err != nil {
		log.Printf("[delivery] failed to ack entry %s: %v", id, err)
	}
}

func (q *Queue) deadLetter(ctx context.Context, unit models.DeliveryUnit, cause error) {
	dl := DeadLetterUnit{Unit: unit, LastError: cause.Error(), FailedAt: time.Now().UTC()}
	payload, err := json.Marshal(dl)
	if err != nil {
		log.Printf("[delivery] failed to marshal dead letter for message %s: %v", unit.MessageID, err)
		return
	}
	addCtx, cancel := context.WithTimeout(ctx, q.callTimeout)
	defer cancel()
	if err := q.cache.Client.XAdd(addCtx, &redis.XAddArgs{
		Stream: cache.DeliveryDeadLetterKey,
		Values: map[string]interface{}{"unit": payload},
	}).Err(); err != nil {
		log.Printf("[delivery] failed to dead-letter message %s: %v", unit.MessageID, err)
		return
	}
	metrics.DeliveryDeadLettered.Inc()
}

// Depth reports the approximate number of entries on the delivery stream,
// for periodic sampling into DeliveryQueueDepth.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	length, err := q.cache.Client.XLen(ctx, cache.DeliveryStreamKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delivery stream length: %w", err)
	}
	return length, nil
}

// reclaimLoop periodically claims stream entries whose consumer has held
// them idle for too long (a crashed node's in-flight work), so they are
// retried by a live consumer instead of being stuck pending forever.
func (q *Queue) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(q.retryBackoff)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.reclaimStalled(ctx)
		}
	}
}

func (q *Queue) reclaimStalled(ctx context.Context) {
	pending, err := q.cache.Client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: cache.DeliveryStreamKey,
		Group:  cache.DeliveryConsumerGroup,
		Start:  "-",
		End:    "+",
		Count:  50,
		Idle:   2 * q.retryBackoff,
	}).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[delivery] XPENDING error: %v", err)
		}
		return
	}
	if len(pending) == 0 {
		return
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}

	claimed, err := q.cache.Client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   cache.DeliveryStreamKey,
		Group:    cache.DeliveryConsumerGroup,
		Consumer: q.consumer,
		MinIdle:  2 * q.retryBackoff,
		Messages: ids,
	}).Result()
	if err != nil {
		log.Printf("[delivery] XCLAIM error: %v", err)
		return
	}

	for _, msg := range claimed {
		msg := msg
		q.pool.Submit(func() { q.process(ctx, msg) })
	}
}

// Stop blocks until all in-flight deliveries finish.
func (q *Queue) Stop() {
	q.pool.StopAndWait()
}
