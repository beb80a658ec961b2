package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	redisClient "github.com/roadcall/roadside-dispatch/pkg/redis"
)

// Deduper remembers processed event IDs. Delivery is at-least-once, so
// every consumer marks before acting; a second delivery of the same event
// is a no-op.
type Deduper interface {
	// MarkProcessed returns true if this is the first time the event ID is
	// seen.
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
}

const dedupTTL = 24 * time.Hour

// RedisDeduper backs deduplication with Redis SETNX so restarts and
// multiple engine replicas share one memory.
type RedisDeduper struct {
	redis redisClient.ClientInterface
}

// NewRedisDeduper creates a Redis-backed deduper.
func NewRedisDeduper(redis redisClient.ClientInterface) *RedisDeduper {
	return &RedisDeduper{redis: redis}
}

func (d *RedisDeduper) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	return d.redis.SetIfAbsent(ctx, fmt.Sprintf("dispatch:event:%s", eventID), "1", dedupTTL)
}

// MemoryDeduper is an in-process deduper for tests and single-instance
// deployments without Redis.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryDeduper creates an in-memory deduper.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]struct{})}
}

func (d *MemoryDeduper) MarkProcessed(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[eventID]; ok {
		return false, nil
	}
	d.seen[eventID] = struct{}{}
	return true, nil
}
