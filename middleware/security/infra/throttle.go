package infra

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle é um token bucket por chave (x/time/rate) com cache e limpeza de
// chaves ociosas. O dispatcher de alertas usa um por cliente para que um único
// atacante não inunde o destino de monitoramento.
type Throttle struct {
	mu           sync.Mutex
	entries      map[string]*throttleEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type throttleEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type ThrottleOption func(*Throttle)

func WithIdleTTL(d time.Duration) ThrottleOption {
	return func(t *Throttle) { t.idleTTL = d }
}

func WithThrottleCleanupEvery(d time.Duration) ThrottleOption {
	return func(t *Throttle) { t.cleanupEvery = d }
}

func NewThrottle(rps float64, burst int, opts ...ThrottleOption) *Throttle {
	if burst <= 0 {
		burst = 1
	}
	t := &Throttle{
		entries:      make(map[string]*throttleEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Throttle) Allow(key string) bool {
	return t.limiter(key).Allow()
}

func (t *Throttle) limiter(key string) *rate.Limiter {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if ent, ok := t.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(t.rps, t.burst)
	t.entries[key] = &throttleEntry{lim: lim, lastSeen: now}
	return lim
}

func (t *Throttle) Cleanup() {
	cutoff := time.Now().Add(-t.idleTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	for k, ent := range t.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(t.entries, k)
		}
	}
}

func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Throttle) StartJanitor(ctx context.Context) {
	startTicker(ctx, t.cleanupEvery, t.Cleanup)
}
