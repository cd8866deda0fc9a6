package infra

import (
	"context"
	"sync"
	"time"

	"security-gateway/middleware/security/domain"
)

const DefaultSuspiciousRetention = 24 * time.Hour

// SuspiciousRegistry é a watchlist local do processo (não compartilhada).
//
// A expiração é verificada na leitura; StartSweeper é opcional e só libera memória.
type SuspiciousRegistry struct {
	mu        sync.RWMutex
	entries   map[string]domain.SuspiciousEntry
	retention time.Duration
	now       func() time.Time
}

var _ domain.SuspiciousRegistry = (*SuspiciousRegistry)(nil)

type RegistryOption func(*SuspiciousRegistry)

func WithRetention(d time.Duration) RegistryOption {
	return func(r *SuspiciousRegistry) {
		if d > 0 {
			r.retention = d
		}
	}
}

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *SuspiciousRegistry) { r.now = now }
}

func NewSuspiciousRegistry(opts ...RegistryOption) *SuspiciousRegistry {
	r := &SuspiciousRegistry{
		entries:   make(map[string]domain.SuspiciousEntry),
		retention: DefaultSuspiciousRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *SuspiciousRegistry) Retention() time.Duration { return r.retention }

// MarkSuspicious insere o cliente se ausente (ou expirado). Uma entrada viva
// não tem a expiração estendida.
func (r *SuspiciousRegistry) MarkSuspicious(clientID string) bool {
	if clientID == "" {
		return false
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[clientID]; ok && now.Before(e.ExpiresAt) {
		return false
	}
	r.entries[clientID] = domain.SuspiciousEntry{
		ClientID:  clientID,
		AddedAt:   now,
		ExpiresAt: now.Add(r.retention),
	}
	return true
}

func (r *SuspiciousRegistry) IsSuspicious(clientID string) bool {
	now := r.now()

	r.mu.RLock()
	e, ok := r.entries[clientID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if now.Before(e.ExpiresAt) {
		return true
	}

	// expirada: remove se ninguém reinseriu nesse meio tempo
	r.mu.Lock()
	if cur, ok := r.entries[clientID]; ok && !now.Before(cur.ExpiresAt) {
		delete(r.entries, clientID)
	}
	r.mu.Unlock()
	return false
}

// Entry retorna a entrada viva do cliente, se houver.
func (r *SuspiciousRegistry) Entry(clientID string) (domain.SuspiciousEntry, bool) {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[clientID]
	if !ok || !now.Before(e.ExpiresAt) {
		return domain.SuspiciousEntry{}, false
	}
	return e, true
}

// Count conta apenas entradas vivas.
func (r *SuspiciousRegistry) Count() int {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if now.Before(e.ExpiresAt) {
			n++
		}
	}
	return n
}

// Sweep remove entradas expiradas e retorna quantas saíram.
func (r *SuspiciousRegistry) Sweep() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if !now.Before(e.ExpiresAt) {
			delete(r.entries, id)
			n++
		}
	}
	return n
}

func (r *SuspiciousRegistry) StartSweeper(ctx context.Context, every time.Duration) {
	startTicker(ctx, every, func() { r.Sweep() })
}
