package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T, limit int) (*FixedWindowLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", limit, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	// Pin the clock to the start of a window so the test never straddles two.
	limiter.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }
	return limiter, mr
}

func TestFixedWindowLimiterBlocksAfterLimit(t *testing.T) {
	limiter, _ := newLimiter(t, 2)
	ctx := context.Background()
	if !limiter.Allow(ctx, "203.0.113.5") || !limiter.Allow(ctx, "203.0.113.5") {
		t.Fatalf("first two attempts should pass")
	}
	if limiter.Allow(ctx, "203.0.113.5") {
		t.Fatalf("third attempt should be blocked")
	}
	if !limiter.Allow(ctx, "203.0.113.6") {
		t.Fatalf("other clients keep their own budget")
	}
}

func TestFixedWindowLimiterNextWindow(t *testing.T) {
	limiter, _ := newLimiter(t, 1)
	ctx := context.Background()
	if !limiter.Allow(ctx, "ip") || limiter.Allow(ctx, "ip") {
		t.Fatalf("expected one allowed attempt")
	}
	limiter.now = func() time.Time { return time.Date(2026, 3, 1, 8, 1, 0, 0, time.UTC) }
	if !limiter.Allow(ctx, "ip") {
		t.Fatalf("new window should reset the budget")
	}
}

func TestFixedWindowLimiterFailsClosed(t *testing.T) {
	limiter, mr := newLimiter(t, 1)
	mr.Close()
	if limiter.Allow(context.Background(), "ip") {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRetryAfter(t *testing.T) {
	limiter, _ := newLimiter(t, 1)
	limiter.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 15, 500, time.UTC) }
	if got := limiter.RetryAfter(); got != 45*time.Second {
		t.Fatalf("retry after = %v, want 45s", got)
	}
}

func TestNewFixedWindowLimiterValidation(t *testing.T) {
	if _, err := NewFixedWindowLimiter(nil, "", 1, time.Second); err == nil {
		t.Fatalf("expected error without client")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if _, err := NewFixedWindowLimiter(client, "", 0, time.Second); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}
