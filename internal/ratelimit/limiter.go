// Package ratelimit implements the fleet-wide fixed-window RateLimiter
// described in SPEC_FULL.md §4.8: each window starts at a key's first hit
// and the count resets when the key expires, so it is not a sliding window.
// Unlike golang.org/x/time/rate (rejected,
// see DESIGN.md — it is process-local and would let a user exhaust their
// budget once per node instead of once fleet-wide), this counts against a
// single Redis INCR+PEXPIRE key shared by every node.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"chatcore/internal/apperrors"
	"chatcore/internal/cache"
)

// Bucket names the named rate-limit buckets from SPEC_FULL.md §4.8.
type Bucket string

const (
	BucketAPI            Bucket = "api"
	BucketAuth           Bucket = "auth"
	BucketMessage        Bucket = "message"
	BucketUpload         Bucket = "upload"
	BucketSearch         Bucket = "search"
	BucketContactRequest Bucket = "contact-request"
)

// limits pairs each bucket with its (max requests, window) budget.
var limits = map[Bucket]struct {
	Max    int64
	Window time.Duration
}{
	BucketAPI:            {Max: 100, Window: time.Minute},
	BucketAuth:           {Max: 5, Window: 15 * time.Minute},
	BucketMessage:        {Max: 10, Window: time.Second},
	BucketUpload:         {Max: 10, Window: time.Minute},
	BucketSearch:         {Max: 30, Window: time.Minute},
	BucketContactRequest: {Max: 50, Window: 24 * time.Hour},
}

// Limiter enforces the named buckets' budgets against a shared Redis
// counter, keyed by (bucket, identity) where identity is typically a user
// ID, falling back to a connecting IP for unauthenticated buckets.
type Limiter struct {
	cache       *cache.Cache
	callTimeout time.Duration
}

// New constructs a Limiter.
func New(c *cache.Cache, callTimeout time.Duration) *Limiter {
	return &Limiter{cache: c, callTimeout: callTimeout}
}

// Allow increments the counter for (bucket, identity) and reports whether
// the caller is within budget. On rejection, the returned error is an
// *apperrors.Error of Kind RateLimited carrying RetryAfter in milliseconds.
func (l *Limiter) Allow(bucket Bucket, identity string) error {
	budget, ok := limits[bucket]
	if !ok {
		return fmt.Errorf("unknown rate limit bucket %q", bucket)
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.callTimeout)
	defer cancel()

	key := cache.RateLimitKey(string(bucket), identity)
	count, err := l.cache.Client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	if count == 1 {
		if err := l.cache.Client.PExpire(ctx, key, budget.Window).Err(); err != nil {
			return fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	if count > budget.Max {
		ttl, err := l.cache.Client.PTTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = budget.Window
		}
		return apperrors.New(apperrors.RateLimited, fmt.Sprintf("%s rate limit exceeded", bucket)).
			WithRetryAfter(ttl.Milliseconds())
	}

	return nil
}
