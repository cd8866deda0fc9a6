package infra

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"security-gateway/middleware/security/domain"
)

// AsyncStatsStore tira a gravação de estatísticas do caminho da requisição.
// Fila cheia descarta o evento.
type AsyncStatsStore struct {
	next    domain.StatsStore
	events  chan domain.StatsEvent
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

func NewAsyncStatsStore(next domain.StatsStore, queue int, log zerolog.Logger) *AsyncStatsStore {
	if queue <= 0 {
		queue = 4096
	}
	s := &AsyncStatsStore{
		next:    next,
		events:  make(chan domain.StatsEvent, queue),
		timeout: time.Second,
		log:     log,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (s *AsyncStatsStore) run() {
	defer close(s.done)
	for ev := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.next.Record(ctx, ev); err != nil {
			s.log.Debug().Err(err).Msg("stats record failed")
		}
		cancel()
	}
}

func (s *AsyncStatsStore) Dropped() int64 { return s.dropped.Load() }

func (s *AsyncStatsStore) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()
	<-s.done
}
