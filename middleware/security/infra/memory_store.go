package infra

import (
	"context"
	"sync"
	"time"

	"security-gateway/middleware/security/domain"
)

// MemoryCounterStore é um CounterStore local ao processo, com TTL por chave e
// limpeza periódica. Útil para testes, desenvolvimento e instância única.
//
// Com várias instâncias atrás de um load balancer use o RedisCounterStore.
type MemoryCounterStore struct {
	mu           sync.Mutex
	entries      map[string]*counterEntry
	now          func() time.Time
	cleanupEvery time.Duration
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

var _ domain.CounterStore = (*MemoryCounterStore)(nil)

type MemoryStoreOption func(*MemoryCounterStore)

func WithStoreClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryCounterStore) { s.now = now }
}

func WithCleanupEvery(d time.Duration) MemoryStoreOption {
	return func(s *MemoryCounterStore) { s.cleanupEvery = d }
}

func NewMemoryCounterStore(opts ...MemoryStoreOption) *MemoryCounterStore {
	s := &MemoryCounterStore{
		entries:      make(map[string]*counterEntry),
		now:          time.Now,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// live retorna a entrada se ainda não expirou. Chamar com mu travado.
func (s *MemoryCounterStore) live(key string, now time.Time) *counterEntry {
	ent, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !now.Before(ent.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return ent
}

// Increment espelha INCR+PEXPIRE: cria com 1 e renova o TTL a cada chamada.
func (s *MemoryCounterStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.live(key, now)
	if ent == nil {
		ent = &counterEntry{}
		s.entries[key] = ent
	}
	ent.count++
	ent.expiresAt = now.Add(ttl)
	return ent.count, nil
}

func (s *MemoryCounterStore) Decrement(_ context.Context, key string) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.live(key, now)
	if ent == nil {
		return 0, nil
	}
	if ent.count > 0 {
		ent.count--
	}
	return ent.count, nil
}

func (s *MemoryCounterStore) Get(_ context.Context, key string) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent := s.live(key, now); ent != nil {
		return ent.count, nil
	}
	return 0, nil
}

func (s *MemoryCounterStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryCounterStore) Ping(context.Context) error { return nil }

// Len retorna o número de chaves armazenadas (inclusive expiradas ainda não limpas).
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryCounterStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if !now.Before(ent.expiresAt) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor agenda Cleanup a cada cleanupEvery enquanto ctx estiver vivo.
func (s *MemoryCounterStore) StartJanitor(ctx context.Context) {
	startTicker(ctx, s.cleanupEvery, s.Cleanup)
}

// startTicker roda fn a cada intervalo até ctx encerrar. every <= 0 não agenda nada.
func startTicker(ctx context.Context, every time.Duration, fn func()) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	}()
}
