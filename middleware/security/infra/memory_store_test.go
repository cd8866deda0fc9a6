package infra

import (
	"context"
	"testing"
	"time"
)

type testClock struct{ t time.Time }

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryStore_IncrementCountsPerKey(t *testing.T) {
	s := NewMemoryCounterStore()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := s.Increment(ctx, "a", time.Minute)
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if n != int64(i) {
			t.Fatalf("expected %d, got %d", i, n)
		}
	}
	if n, _ := s.Increment(ctx, "b", time.Minute); n != 1 {
		t.Fatalf("expected independent key to start at 1, got %d", n)
	}
}

func TestMemoryStore_EntryExpiresAfterTTL(t *testing.T) {
	clk := newTestClock()
	s := NewMemoryCounterStore(WithStoreClock(clk.Now))
	ctx := context.Background()

	_, _ = s.Increment(ctx, "k", time.Second)
	_, _ = s.Increment(ctx, "k", time.Second)

	clk.Advance(time.Second)

	if n, _ := s.Get(ctx, "k"); n != 0 {
		t.Fatalf("expected expired key to read 0, got %d", n)
	}
	if n, _ := s.Increment(ctx, "k", time.Second); n != 1 {
		t.Fatalf("expected fresh counter after expiry, got %d", n)
	}
}

func TestMemoryStore_DecrementNeverGoesNegative(t *testing.T) {
	s := NewMemoryCounterStore()
	ctx := context.Background()

	if n, _ := s.Decrement(ctx, "missing"); n != 0 {
		t.Fatalf("expected 0 for missing key, got %d", n)
	}

	_, _ = s.Increment(ctx, "k", time.Minute)
	_, _ = s.Decrement(ctx, "k")
	n, _ := s.Decrement(ctx, "k")
	if n != 0 {
		t.Fatalf("expected floor at 0, got %d", n)
	}
}

func TestMemoryStore_ResetDeletesKey(t *testing.T) {
	s := NewMemoryCounterStore()
	ctx := context.Background()

	_, _ = s.Increment(ctx, "k", time.Minute)
	if err := s.Reset(ctx, "k"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d entries", s.Len())
	}
}

func TestMemoryStore_CleanupRemovesExpired(t *testing.T) {
	clk := newTestClock()
	s := NewMemoryCounterStore(WithStoreClock(clk.Now), WithCleanupEvery(0))
	ctx := context.Background()

	_, _ = s.Increment(ctx, "short", time.Second)
	_, _ = s.Increment(ctx, "long", time.Hour)

	clk.Advance(2 * time.Second)
	s.Cleanup()

	if s.Len() != 1 {
		t.Fatalf("expected 1 live entry after cleanup, got %d", s.Len())
	}
}
