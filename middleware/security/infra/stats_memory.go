package infra

import (
	"context"
	"sync"

	"security-gateway/middleware/security/domain"
)

type Counters struct {
	Allowed  int64 `json:"allowed"`
	Denied   int64 `json:"denied"`
	Blocked  int64 `json:"blocked"`
	Degraded int64 `json:"degraded"`
}

func (c *Counters) add(o domain.Outcome) {
	switch o {
	case domain.OutcomeAllowed:
		c.Allowed++
	case domain.OutcomeDenied:
		c.Denied++
	case domain.OutcomeBlocked:
		c.Blocked++
	case domain.OutcomeDegraded:
		c.Degraded++
	}
}

// MemoryStatsStore é uma implementação simples em memória.
//
// Não faz expiração; com trackClients a cardinalidade cresce com os clientes.
type MemoryStatsStore struct {
	mu       sync.Mutex
	total    Counters
	byTier   map[domain.Tier]Counters
	byClient map[string]Counters

	trackClients bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackClients(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackClients = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byTier:   make(map[domain.Tier]Counters),
		byClient: make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Outcome)

	if ev.Tier != "" {
		c := s.byTier[ev.Tier]
		c.add(ev.Outcome)
		s.byTier[ev.Tier] = c
	}
	if s.trackClients && ev.Client != "" {
		c := s.byClient[ev.Client]
		c.add(ev.Outcome)
		s.byClient[ev.Client] = c
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByTier() map[domain.Tier]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Tier]Counters, len(s.byTier))
	for k, v := range s.byTier {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByClient() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byClient))
	for k, v := range s.byClient {
		out[k] = v
	}
	return out
}
