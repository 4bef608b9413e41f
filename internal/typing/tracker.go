// Package typing implements the TypingTracker described in SPEC_FULL.md
// §4.9: short-TTL Redis keys per (chat, user) representing "is currently
// typing", auto-expiring so a crashed client never leaves a stale typing
// indicator stuck on.
package typing

import (
	"context"
	"fmt"
	"time"

	"chatcore/internal/cache"
)

// Publisher is the narrow slice of internal/pubsub's Bridge the tracker
// needs.
type Publisher interface {
	PublishTyping(ctx context.Context, chatID, userID string, isTyping bool) error
}

// Tracker records typing state with a bounded TTL and publishes a start only
// when the (chat, user) key was absent; a repeated start while the key is
// live refreshes the TTL and is never republished. There is no time-based
// debounce window and no in-process state.
type Tracker struct {
	cache       *cache.Cache
	publisher   Publisher
	ttl         time.Duration
	callTimeout time.Duration
}

// New constructs a Tracker.
func New(c *cache.Cache, publisher Publisher, ttl, callTimeout time.Duration) *Tracker {
	return &Tracker{cache: c, publisher: publisher, ttl: ttl, callTimeout: callTimeout}
}

// Start marks userID as typing in chatID, refreshing the TTL, and
// publishes a typing(started) event if the key was not already set (a
// client resending "start" every keystroke should not spam recipients).
// The returned bool reports whether this call caused that fresh
// transition, so callers delivering locally as well as publishing (the
// Coordinator, for same-node recipients) only do so once per transition.
func (t *Tracker) Start(chatID, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.callTimeout)
	defer cancel()

	key := cache.TypingKey(chatID, userID)
	wasSet, err := t.cache.Client.SetNX(ctx, key, 1, t.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set typing key: %w", err)
	}
	if !wasSet {
		// Already typing: just refresh the TTL, no re-publish.
		if err := t.cache.Client.Expire(ctx, key, t.ttl).Err(); err != nil {
			return false, fmt.Errorf("failed to refresh typing TTL: %w", err)
		}
		return false, nil
	}

	if err := t.publisher.PublishTyping(ctx, chatID, userID, true); err != nil {
		return false, err
	}
	return true, nil
}

// Stop clears userID's typing state in chatID and publishes a
// typing(stopped) event, provided they were actually marked typing. The
// returned bool reports whether a live key was actually cleared.
func (t *Tracker) Stop(chatID, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.callTimeout)
	defer cancel()

	key := cache.TypingKey(chatID, userID)
	deleted, err := t.cache.Client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to clear typing key: %w", err)
	}
	if deleted == 0 {
		return false, nil
	}
	if err := t.publisher.PublishTyping(ctx, chatID, userID, false); err != nil {
		return false, err
	}
	return true, nil
}

// IsTyping reports whether userID currently holds an unexpired typing key
// for chatID.
func (t *Tracker) IsTyping(chatID, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.callTimeout)
	defer cancel()
	count, err := t.cache.Client.Exists(ctx, cache.TypingKey(chatID, userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check typing key: %w", err)
	}
	return count > 0, nil
}
