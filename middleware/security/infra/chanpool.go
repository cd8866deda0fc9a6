package infra

import (
	"context"
	"sync"

	"security-gateway/middleware/security/domain"
)

// ChanPool limita requisições em voo com um channel bufferizado: cada vaga
// ocupada é um elemento no buffer.
type ChanPool struct {
	slots chan struct{}
}

var _ domain.SlotPool = (*ChanPool)(nil)

func NewChanPool(size int) *ChanPool {
	if size < 1 {
		size = 1
	}
	return &ChanPool{slots: make(chan struct{}, size)}
}

// Acquire espera por uma vaga até ctx encerrar. O release devolvido é
// idempotente: chamar duas vezes não libera a vaga de outra requisição.
func (p *ChanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-p.slots })
	}, true
}

// InFlight é o número de vagas ocupadas agora.
func (p *ChanPool) InFlight() int { return len(p.slots) }

func (p *ChanPool) Cap() int { return cap(p.slots) }
