package application

import (
	"context"
	"time"

	"security-gateway/middleware/security/domain"
)

// ConcurrencyService limita requisições em voo (inclusive as que estão
// suspensas pelo SpeedLimiter), sem saber nada sobre HTTP.
type ConcurrencyService struct {
	pool           domain.SlotPool
	acquireTimeout time.Duration
}

// NewConcurrencyService aceita pool nil (sem limite).
//   - acquireTimeout <= 0: espera até o ctx da requisição encerrar.
//   - acquireTimeout > 0: desiste depois desse tempo.
func NewConcurrencyService(pool domain.SlotPool, acquireTimeout time.Duration) *ConcurrencyService {
	return &ConcurrencyService{pool: pool, acquireTimeout: acquireTimeout}
}

// Acquire retorna a função de release ou domain.ErrNoSlot.
func (s *ConcurrencyService) Acquire(ctx context.Context) (func(), error) {
	if s == nil || s.pool == nil {
		return func() {}, nil
	}

	if s.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.acquireTimeout)
		defer cancel()
	}

	release, ok := s.pool.Acquire(ctx)
	if !ok {
		return nil, domain.ErrNoSlot
	}
	return release, nil
}
