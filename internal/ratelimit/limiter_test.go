package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"chatcore/internal/apperrors"
	"chatcore/internal/cache"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(&cache.Cache{Client: client}, 2*time.Second), mr
}

func TestLimiterAllowsWithinBudget(t *testing.T) {
	l, _ := newTestLimiter(t)

	for i := 0; i < int(limits[BucketMessage].Max); i++ {
		if err := l.Allow(BucketMessage, "user-1"); err != nil {
			t.Fatalf("request %d unexpectedly rate limited: %v", i+1, err)
		}
	}
}

func TestLimiterRejectsOverBudget(t *testing.T) {
	l, _ := newTestLimiter(t)

	budget := int(limits[BucketMessage].Max)
	for i := 0; i < budget; i++ {
		if err := l.Allow(BucketMessage, "user-1"); err != nil {
			t.Fatalf("request %d unexpectedly rate limited: %v", i+1, err)
		}
	}

	err := l.Allow(BucketMessage, "user-1")
	if err == nil {
		t.Fatal("expected the request past budget to be rejected")
	}
	if apperrors.KindOf(err) != apperrors.RateLimited {
		t.Errorf("KindOf(err) = %v, want RateLimited", apperrors.KindOf(err))
	}
	appErr, _ := apperrors.As(err)
	if appErr.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %d, want > 0", appErr.RetryAfter)
	}
}

func TestLimiterBucketsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)

	budget := int(limits[BucketMessage].Max)
	for i := 0; i < budget; i++ {
		if err := l.Allow(BucketMessage, "user-1"); err != nil {
			t.Fatalf("message request %d unexpectedly rate limited: %v", i+1, err)
		}
	}
	if err := l.Allow(BucketMessage, "user-1"); err == nil {
		t.Fatal("expected message bucket to be exhausted")
	}

	if err := l.Allow(BucketAPI, "user-1"); err != nil {
		t.Errorf("unrelated bucket BucketAPI was unexpectedly rejected: %v", err)
	}
}

func TestLimiterIdentitiesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)

	budget := int(limits[BucketMessage].Max)
	for i := 0; i < budget; i++ {
		if err := l.Allow(BucketMessage, "user-1"); err != nil {
			t.Fatalf("user-1 request %d unexpectedly rate limited: %v", i+1, err)
		}
	}

	if err := l.Allow(BucketMessage, "user-2"); err != nil {
		t.Errorf("a different identity was unexpectedly rejected: %v", err)
	}
}

func TestLimiterUnknownBucket(t *testing.T) {
	l, _ := newTestLimiter(t)
	if err := l.Allow(Bucket("nonexistent"), "user-1"); err == nil {
		t.Fatal("expected an error for an unregistered bucket")
	}
}
