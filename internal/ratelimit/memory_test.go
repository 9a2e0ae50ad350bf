package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_AllowsWithinLimit(t *testing.T) {
	store := NewMemoryStore(newFakeClock(limitInstant))

	for i := 0; i < 5; i++ {
		result, err := store.IncrementAndCheck(context.Background(), "10.0.0.1", 5, time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Allowed {
			t.Errorf("call %d: Allowed = false inside the limit", i)
		}
	}
}

func TestMemoryStore_DeniesBeyondLimit(t *testing.T) {
	store := NewMemoryStore(newFakeClock(limitInstant))

	for i := 0; i < 2; i++ {
		if _, err := store.IncrementAndCheck(context.Background(), "10.0.0.1", 2, time.Minute); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	result, err := store.IncrementAndCheck(context.Background(), "10.0.0.1", 2, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Error("Allowed = true beyond the limit")
	}
}

func TestMemoryStore_WindowExpiryResets(t *testing.T) {
	clk := newFakeClock(limitInstant)
	store := NewMemoryStore(clk)

	for i := 0; i < 2; i++ {
		if _, err := store.IncrementAndCheck(context.Background(), "10.0.0.1", 2, time.Minute); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	clk.Advance(61 * time.Second)

	result, err := store.IncrementAndCheck(context.Background(), "10.0.0.1", 2, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Error("expired window must reset the counter")
	}
	if result.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1 in the fresh window", result.Remaining)
	}
	if want := limitInstant.Add(61 * time.Second).Add(time.Minute); !result.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", result.ResetAt, want)
	}
}

func TestMemoryStore_ResetAtStableWithinWindow(t *testing.T) {
	clk := newFakeClock(limitInstant)
	store := NewMemoryStore(clk)

	first, err := store.IncrementAndCheck(context.Background(), "10.0.0.1", 10, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clk.Advance(20 * time.Second)

	second, err := store.IncrementAndCheck(context.Background(), "10.0.0.1", 10, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.ResetAt.Equal(second.ResetAt) {
		t.Errorf("ResetAt moved inside a window: %v then %v", first.ResetAt, second.ResetAt)
	}
}

func TestMemoryStore_ClientsAreIndependent(t *testing.T) {
	store := NewMemoryStore(newFakeClock(limitInstant))

	for i := 0; i < 3; i++ {
		if _, err := store.IncrementAndCheck(context.Background(), "10.0.0.1", 3, time.Minute); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	result, err := store.IncrementAndCheck(context.Background(), "10.0.0.2", 3, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed || result.Remaining != 2 {
		t.Errorf("fresh client result = %+v, want a full window", result)
	}
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	store := NewMemoryStore(newFakeClock(limitInstant))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.IncrementAndCheck(context.Background(), "10.0.0.1", 100, time.Minute)
		}()
	}
	wg.Wait()

	result, err := store.IncrementAndCheck(context.Background(), "10.0.0.1", 100, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 50 concurrent plus this one.
	if result.Remaining != 100-51 {
		t.Errorf("Remaining = %d, want %d", result.Remaining, 100-51)
	}
}
