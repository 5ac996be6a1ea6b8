package caswriter

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"scriptforge/internal/script"
)

// RedisIdempotencyCache is a write-through front for a WriteOpStore,
// adapted from the orchestrator's RedisDedupeStore: the op-id ledger lookup
// UpdateWithCAS does on every call is exactly the Get/Set-with-TTL shape
// that store was built for, so a cache hit here skips the round trip to
// Postgres entirely instead of hitting it on every replayed request.
type RedisIdempotencyCache struct {
	client *redis.Client
	ttl    time.Duration
	next   script.WriteOpStore
}

// NewRedisIdempotencyCache wraps next with a Redis front cache. addr is a
// "host:port" Redis address; ttl controls how long a cached write-op entry
// is served before falling back to next.
func NewRedisIdempotencyCache(addr string, ttl time.Duration, next script.WriteOpStore) (*RedisIdempotencyCache, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("caswriter: redis ping failed: %w", err)
	}
	return &RedisIdempotencyCache{client: c, ttl: ttl, next: next}, nil
}

func (c *RedisIdempotencyCache) Close() error { return c.client.Close() }

func (c *RedisIdempotencyCache) GetWriteOp(ctx context.Context, opID string) (script.WriteOp, bool, error) {
	val, err := c.client.Get(ctx, opID).Bytes()
	if err == nil {
		return script.WriteOp{OpID: opID, Result: val}, true, nil
	}
	if err != redis.Nil {
		return script.WriteOp{}, false, fmt.Errorf("caswriter: redis get %s: %w", opID, err)
	}
	return c.next.GetWriteOp(ctx, opID)
}

func (c *RedisIdempotencyCache) SaveWriteOp(ctx context.Context, w script.WriteOp) error {
	if err := c.next.SaveWriteOp(ctx, w); err != nil {
		return err
	}
	if err := c.client.Set(ctx, w.OpID, w.Result, c.ttl).Err(); err != nil {
		return fmt.Errorf("caswriter: redis set %s: %w", w.OpID, err)
	}
	return nil
}

func (c *RedisIdempotencyCache) GCWriteOpsOlderThan(ctx context.Context, olderThanDays int) (int, error) {
	return c.next.GCWriteOpsOlderThan(ctx, olderThanDays)
}
