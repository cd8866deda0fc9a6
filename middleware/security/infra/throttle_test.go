package infra

import (
	"testing"
	"time"
)

func TestThrottle_BurstThenDeny(t *testing.T) {
	th := NewThrottle(0.001, 2)

	if !th.Allow("k") || !th.Allow("k") {
		t.Fatalf("expected burst of 2 to be allowed")
	}
	if th.Allow("k") {
		t.Fatalf("expected third immediate Allow to be false")
	}
	if !th.Allow("other") {
		t.Fatalf("expected independent key to have its own bucket")
	}
}

func TestThrottle_CleanupRemovesIdleEntries(t *testing.T) {
	th := NewThrottle(10, 1, WithIdleTTL(2*time.Millisecond), WithThrottleCleanupEvery(0))

	th.Allow("k")
	time.Sleep(4 * time.Millisecond)
	th.Cleanup()

	if th.Len() != 0 {
		t.Fatalf("expected idle entry removed, got %d", th.Len())
	}
}
