package core

import (
	"context"
	"sync"
	"time"
)

// --- MockRateLimitStore ---

// MockRateLimitStore implements the RateLimitStore interface for testing.
// It allows injecting a predefined result or error to simulate rate limiting.
//
// Usage:
//
//	mock := &MockRateLimitStore{
//	    Result: RateLimitResult{Allowed: true, Remaining: 99, ResetAt: time.Now().Add(time.Minute)},
//	}
//	result, err := mock.IncrementAndCheck(ctx, "203.0.113.7", 120, time.Minute)
//
// To simulate rate limit exceeded:
//
//	mock := &MockRateLimitStore{
//	    Result: RateLimitResult{Allowed: false, Remaining: 0, ResetAt: time.Now().Add(30 * time.Second)},
//	}
type MockRateLimitStore struct {
	// Result is the predefined RateLimitResult returned by IncrementAndCheck.
	Result RateLimitResult

	// Err is the error returned by IncrementAndCheck. When set, Result is still
	// returned alongside the error (consistent with typical Go patterns where
	// partial results may accompany errors).
	Err error

	// IncrementAndCheckFunc is an optional function that overrides the default behavior.
	// When set, it takes precedence over Result and Err fields.
	IncrementAndCheckFunc func(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)

	// mu protects Calls for concurrent access.
	mu sync.Mutex

	// Calls records every invocation for assertion purposes.
	Calls []RateLimitCall
}

// RateLimitCall records the arguments of a single IncrementAndCheck invocation.
type RateLimitCall struct {
	Key    string
	Limit  int
	Window time.Duration
}

// IncrementAndCheck implements the RateLimitStore interface.
// It records the call, then delegates to IncrementAndCheckFunc if set,
// otherwise returns Result and Err.
func (m *MockRateLimitStore) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RateLimitCall{Key: key, Limit: limit, Window: window})
	m.mu.Unlock()

	if m.IncrementAndCheckFunc != nil {
		return m.IncrementAndCheckFunc(ctx, key, limit, window)
	}
	return m.Result, m.Err
}

// --- MockMetricsCollector ---

// MockMetricsCollector implements the MetricsCollector interface for testing.
// It records every request observation for assertion.
type MockMetricsCollector struct {
	// mu protects Requests for concurrent access.
	mu sync.Mutex

	// Requests stores all calls to RecordRequest for assertion purposes.
	Requests []RecordedRequest
}

// RecordedRequest records the arguments of a single RecordRequest invocation.
type RecordedRequest struct {
	Method   string
	Endpoint string
	Status   string
	Duration time.Duration
}

// RecordRequest implements the MetricsCollector interface.
func (m *MockMetricsCollector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, RecordedRequest{
		Method:   method,
		Endpoint: endpoint,
		Status:   status,
		Duration: duration,
	})
}

// Recorded returns a copy of the recorded requests, safe to inspect while
// other goroutines may still be recording.
func (m *MockMetricsCollector) Recorded() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.Requests))
	copy(out, m.Requests)
	return out
}

// Compile-time interface assertions.
var (
	_ RateLimitStore   = (*MockRateLimitStore)(nil)
	_ MetricsCollector = (*MockMetricsCollector)(nil)
)
