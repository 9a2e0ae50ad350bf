package ratelimit

import (
	"context"
	"sync"
	"time"

	"crosswatch/internal/core"
	"crosswatch/internal/types"
)

// memoryWindow is one client's counter within the current fixed window.
type memoryWindow struct {
	count   int
	resetAt time.Time
}

// MemoryStore implements core.RateLimitStore with in-process fixed windows.
// It exists for local development and tests; counters are per-process and
// vanish on restart, which is exactly wrong for a fleet behind a load
// balancer. Use RedisStore in production.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	clock   types.Clock
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(clock types.Clock) *MemoryStore {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MemoryStore{
		windows: make(map[string]*memoryWindow),
		clock:   clock,
	}
}

// IncrementAndCheck increments the counter for key, starting a fresh window
// when the previous one has expired.
func (s *MemoryStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (core.RateLimitResult, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		s.windows[key] = w
	}
	w.count++

	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}

	return core.RateLimitResult{
		Allowed:   w.count <= limit,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}, nil
}

var _ core.RateLimitStore = (*MemoryStore)(nil)
