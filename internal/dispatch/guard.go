package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const guardKeyPrefix = "dispatch:guard:"

// Guard is the redis-backed idempotency barrier: one successful acquisition
// per run key within the TTL. A second dispatcher (crashed-and-restarted
// scheduler, overlapping manual trigger) finds the key set and skips.
type Guard struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewGuard(rdb redis.UniversalClient, ttl time.Duration) *Guard {
	return &Guard{rdb: rdb, ttl: ttl}
}

// Acquire attempts to claim the run key. Returns false when another dispatch
// already claimed it.
func (g *Guard) Acquire(ctx context.Context, runKey string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, guardKeyPrefix+runKey, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("guard acquire %s: %w", runKey, err)
	}
	return ok, nil
}

// Release frees the run key early so a failed dispatch can be retried by a
// later run without waiting out the TTL.
func (g *Guard) Release(ctx context.Context, runKey string) error {
	if err := g.rdb.Del(ctx, guardKeyPrefix+runKey).Err(); err != nil {
		return fmt.Errorf("guard release %s: %w", runKey, err)
	}
	return nil
}
