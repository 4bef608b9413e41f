// Package cache wraps the Redis client shared by every fleet-wide concern
// of the delivery core: presence sets, typing TTL
// keys, rate-limit counters, pub/sub, and the delivery stream. Centralizing
// the client here keeps key-namespacing conventions (SPEC_FULL.md §6) in
// one place instead of scattered string literals.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a *redis.Client with the key-building helpers the rest of the
// delivery core uses.
type Cache struct {
	Client *redis.Client
}

// New parses redisURL and returns a connected Cache, pinging to fail fast.
func New(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Cache{Client: client}, nil
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.Client.Close()
}

// Ready reports whether Redis is reachable, for the /health/ready endpoint.
func (c *Cache) Ready(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

// --- Key namespacing (SPEC_FULL.md §6) ---

// SessionKey is the key name for a cached session token lookup. Nothing
// reads or writes it: session lookups go to Postgres directly and are not
// cached in Redis.
func SessionKey(token string) string { return "session:" + token }

// OnlineSetKey is the fleet-wide set of currently-online user IDs.
const OnlineSetKey = "user:online"

// PresenceSocketKey is the per-(user,socket) TTL heartbeat key (60s TTL,
// refreshed every 30s per SPEC_FULL.md §4.3), whose expiry without renewal
// signals that socket went away uncleanly.
func PresenceSocketKey(userID, socketID string) string { return "presence:" + userID + ":" + socketID }

// PresenceSocketPattern is the SCAN/KEYS pattern matching every live socket
// key for a user, used to decide whether any of their sockets are still
// within their heartbeat window.
func PresenceSocketPattern(userID string) string { return "presence:" + userID + ":*" }

// TypingKey is the per-(chat,user) TTL key representing "is typing".
func TypingKey(chatID, userID string) string { return "typing:" + chatID + ":" + userID }

// RateLimitKey is the fixed-window counter key for a (bucket, identity)
// pair, e.g. bucket "message" and identity a user ID or IP.
func RateLimitKey(bucket, identity string) string { return "ratelimit:" + bucket + ":" + identity }

// PubSubChannel is the Redis Pub/Sub channel a chat's fan-out is published
// on.
func PubSubChannel(chatID string) string { return "chat:" + chatID }

// PresenceChannel is the Redis Pub/Sub channel presence transitions are
// published on, fleet-wide (not chat-scoped).
const PresenceChannel = "presence:events"

// DeliveryStreamKey is the Redis Stream backing the durable DeliveryQueue.
const DeliveryStreamKey = "message-delivery-stream"

// DeliveryDeadLetterKey is the Redis Stream holding DeadLetterUnits that
// exhausted their retry budget.
const DeliveryDeadLetterKey = "message-delivery-deadletter"

// DeliveryConsumerGroup is the consumer group every node's workers share
// when reading DeliveryStreamKey.
const DeliveryConsumerGroup = "delivery-workers"
