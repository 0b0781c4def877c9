package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper claims (record_id, new_status) keys in Redis with a TTL. The
// store delivers triggers at least once and without ordering guarantees across
// mutations of the same record; a short-lived claim per terminal status keeps
// a duplicate or reordered delivery from double-notifying.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper builds a deduper with the given claim TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) key(k string) string {
	return "notify:seen:" + k
}

// FirstDelivery atomically claims the key, returning false if it was already
// claimed within the TTL window.
func (d *RedisDeduper) FirstDelivery(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.key(key), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim dedupe key: %w", err)
	}
	return ok, nil
}
