package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"security-gateway/middleware/security/domain"
)

// SpeedLimiter calcula o atraso artificial por cliente. Usa contador próprio
// (namespace diferente do RateLimiter) no mesmo store.
type SpeedLimiter struct {
	cfg     domain.SpeedConfig
	store   domain.CounterStore
	prefix  string
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger
	onError StoreErrorHook
}

func NewSpeedLimiter(cfg domain.SpeedConfig, store domain.CounterStore, opts ...LimiterOption) (*SpeedLimiter, error) {
	if store == nil {
		return nil, fmt.Errorf("speed limiter: store is required")
	}
	s := newSettings("gw:sl", opts)
	return &SpeedLimiter{
		cfg:     cfg.WithDefaults(),
		store:   store,
		prefix:  s.prefix,
		timeout: s.timeout,
		now:     s.now,
		log:     s.log,
		onError: s.onError,
	}, nil
}

func (s *SpeedLimiter) Config() domain.SpeedConfig { return s.cfg }

// DelayFor incrementa o contador do cliente e retorna o atraso a aplicar.
// Falha do store resulta em atraso zero.
func (s *SpeedLimiter) DelayFor(ctx context.Context, clientKey string) time.Duration {
	now := s.now()
	start, reset := windowBounds(now, s.cfg.Window)
	key := windowKey(s.prefix, domain.TierGeneral, clientKey, start)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	count, err := s.store.Increment(ctx, key, reset.Sub(now)+ttlGrace)
	if err != nil {
		s.log.Warn().Err(err).
			Str("op", "speed_increment").
			Str("key", key).
			Bool("fail_open", true).
			Msg("counter store error, skipping delay")
		if s.onError != nil {
			s.onError("speed_increment", err)
		}
		return 0
	}
	return ComputeDelay(count, s.cfg)
}

// ComputeDelay: zero até DelayAfter; depois cresce (count-DelayAfter)*DelayStep,
// limitado a MaxDelay. Não decrescente em count. DelayAfter negativo
// (DelayFromFirst) conta como zero.
func ComputeDelay(count int64, cfg domain.SpeedConfig) time.Duration {
	over := count - int64(max(cfg.DelayAfter, 0))
	if over <= 0 || cfg.DelayStep <= 0 {
		return 0
	}
	if over > int64(cfg.MaxDelay/cfg.DelayStep) {
		return cfg.MaxDelay
	}
	return min(time.Duration(over)*cfg.DelayStep, cfg.MaxDelay)
}
