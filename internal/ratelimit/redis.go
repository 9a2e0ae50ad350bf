// Package ratelimit provides the backing stores for the per-client request
// budget enforced by the HTTP middleware. Production uses Redis fixed-window
// counters; local development and tests use the in-memory store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"crosswatch/internal/core"
	"crosswatch/internal/types"
)

// keyPrefix namespaces rate limit counters in a shared Redis instance.
const keyPrefix = "crosswatch:ratelimit:"

// redisCommander is the subset of redis.Cmdable the store uses, abstracted
// for testability. Production code passes a *redis.Client.
type redisCommander interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	ExpireNX(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// RedisStore implements core.RateLimitStore on Redis fixed-window counters.
//
// Each key is INCRed per request; the window TTL is attached with ExpireNX so
// the first increment of a window starts the clock and a crash between INCR
// and EXPIRE self-heals on the next request. The caller decides what happens
// on errors (the middleware fails open).
type RedisStore struct {
	rdb   redisCommander
	clock types.Clock
}

// NewRedisStore creates a RedisStore over the given client. The client's
// lifecycle (and Close) belongs to the caller.
func NewRedisStore(rdb redisCommander, clock types.Clock) *RedisStore {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &RedisStore{rdb: rdb, clock: clock}
}

// IncrementAndCheck atomically increments the counter for key and reports
// whether the request fits the limit within the current window.
func (s *RedisStore) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (core.RateLimitResult, error) {
	rkey := keyPrefix + key

	count, err := s.rdb.Incr(ctx, rkey).Result()
	if err != nil {
		return core.RateLimitResult{}, fmt.Errorf("ratelimit: failed to increment %s: %w", rkey, err)
	}

	if err := s.rdb.ExpireNX(ctx, rkey, window).Err(); err != nil {
		return core.RateLimitResult{}, fmt.Errorf("ratelimit: failed to set window on %s: %w", rkey, err)
	}

	// PTTL tells us when this window resets. A negative reply means the key
	// lost its TTL between calls; treat the window as starting now.
	ttl, err := s.rdb.PTTL(ctx, rkey).Result()
	if err != nil {
		return core.RateLimitResult{}, fmt.Errorf("ratelimit: failed to read window of %s: %w", rkey, err)
	}
	if ttl < 0 {
		ttl = window
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return core.RateLimitResult{
		Allowed:   count <= int64(limit),
		Remaining: remaining,
		ResetAt:   s.clock.Now().Add(ttl),
	}, nil
}

var _ core.RateLimitStore = (*RedisStore)(nil)
