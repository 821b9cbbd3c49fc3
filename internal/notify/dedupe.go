package notify

import (
	"context"
	"sync"
	"time"

	"familycall-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper keys alert idempotency off Redis so replays are suppressed
// across instances. Keys expire; a redelivery after the window is treated as
// a fresh alert, which matches push-provider redelivery horizons.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

func (d *RedisDeduper) MarkOnce(ctx context.Context, key string) (bool, error) {
	return utils.MarkOnce(ctx, d.rdb, key, d.ttl)
}

// MemoryDeduper is process-local; for tests and single-node runs.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]struct{})}
}

func (d *MemoryDeduper) MarkOnce(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = struct{}{}
	return true, nil
}
