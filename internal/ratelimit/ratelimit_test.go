package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiterCapsPolls(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewLimiter(client, 2, 1, time.Minute)

	allowed, err := limiter.Allow(ctx, "u1")
	if err != nil || !allowed {
		t.Fatalf("expected first poll allowed, got allowed=%v err=%v", allowed, err)
	}
	allowed, _ = limiter.Allow(ctx, "u1")
	if !allowed {
		t.Fatalf("expected second poll allowed")
	}
	allowed, _ = limiter.Allow(ctx, "u1")
	if allowed {
		t.Fatalf("expected third poll rejected")
	}

	// Buckets are per owner.
	allowed, _ = limiter.Allow(ctx, "u2")
	if !allowed {
		t.Fatalf("expected a different owner to have a fresh bucket")
	}

	// Note: refill cannot be tested with miniredis.FastForward() because the
	// script takes its clock from Go's time.Now(), not Redis.
}
