package infra

import (
	"context"
	"testing"
	"time"
)

func TestChanPool_AcquireRespectsCapacity(t *testing.T) {
	p := NewChanPool(1)

	release, ok := p.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected first acquire to succeed")
	}
	if p.InFlight() != 1 {
		t.Fatalf("expected 1 in flight, got %d", p.InFlight())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, ok := p.Acquire(ctx); ok {
		t.Fatalf("expected acquire to fail while pool is full")
	}

	release()
	if _, ok := p.Acquire(context.Background()); !ok {
		t.Fatalf("expected acquire after release to succeed")
	}
}

func TestChanPool_ReleaseIsIdempotent(t *testing.T) {
	p := NewChanPool(2)

	first, _ := p.Acquire(context.Background())
	_, _ = p.Acquire(context.Background())

	first()
	first()
	if p.InFlight() != 1 {
		t.Fatalf("expected double release to free a single slot, got %d in flight", p.InFlight())
	}
}
