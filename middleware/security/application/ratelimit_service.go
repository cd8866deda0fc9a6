package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"security-gateway/middleware/security/domain"
)

const (
	defaultStoreTimeout = 50 * time.Millisecond
	// ttlGrace mantém o registro um pouco além do fim da janela.
	ttlGrace = time.Second
)

// StoreErrorHook é chamado a cada falha do store (ex.: métrica).
type StoreErrorHook func(op string, err error)

// RateLimiter concentra a regra de janela fixa de um tier.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// O contador vive no CounterStore compartilhado; o incremento é a própria
// decisão, sem leitura-e-escrita local.
type RateLimiter struct {
	tier    domain.Tier
	cfg     domain.TierConfig
	store   domain.CounterStore
	prefix  string
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger
	onError StoreErrorHook
}

type LimiterOption func(*limiterSettings)

type limiterSettings struct {
	prefix  string
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger
	onError StoreErrorHook
}

func WithKeyPrefix(prefix string) LimiterOption {
	return func(s *limiterSettings) { s.prefix = strings.Trim(prefix, ":") }
}

func WithStoreTimeout(d time.Duration) LimiterOption {
	return func(s *limiterSettings) { s.timeout = d }
}

func WithClock(now func() time.Time) LimiterOption {
	return func(s *limiterSettings) { s.now = now }
}

func WithLogger(l zerolog.Logger) LimiterOption {
	return func(s *limiterSettings) { s.log = l }
}

func WithStoreErrorHook(h StoreErrorHook) LimiterOption {
	return func(s *limiterSettings) { s.onError = h }
}

func newSettings(prefix string, opts []LimiterOption) limiterSettings {
	s := limiterSettings{
		prefix:  prefix,
		timeout: defaultStoreTimeout,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.timeout <= 0 {
		s.timeout = defaultStoreTimeout
	}
	return s
}

func NewRateLimiter(tier domain.Tier, cfg domain.TierConfig, store domain.CounterStore, opts ...LimiterOption) (*RateLimiter, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTier, tier)
	}
	if store == nil {
		return nil, fmt.Errorf("rate limiter %s: store is required", tier)
	}
	s := newSettings("gw:rl", opts)
	return &RateLimiter{
		tier:    tier,
		cfg:     cfg.WithDefaults(tier),
		store:   store,
		prefix:  s.prefix,
		timeout: s.timeout,
		now:     s.now,
		log:     s.log,
		onError: s.onError,
	}, nil
}

func (l *RateLimiter) Tier() domain.Tier         { return l.tier }
func (l *RateLimiter) Config() domain.TierConfig { return l.cfg }
func (l *RateLimiter) NeedsSettle() bool         { return l.cfg.SkipSuccessful || l.cfg.ResetOnSuccess }
func (l *RateLimiter) windowKey(client string, start time.Time) string {
	return windowKey(l.prefix, l.tier, client, start)
}

// Check incrementa atomicamente o contador da janela atual e decide.
//
// Falha do store (inclusive timeout) vira fail-open: allowed=true, Degraded=true.
func (l *RateLimiter) Check(ctx context.Context, clientKey string) domain.Decision {
	now := l.now()
	start, reset := windowBounds(now, l.cfg.Window)
	dec := domain.Decision{
		Tier:    l.tier,
		Limit:   l.cfg.MaxRequests,
		ResetAt: reset,
		Key:     l.windowKey(clientKey, start),
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	count, err := l.store.Increment(ctx, dec.Key, reset.Sub(now)+ttlGrace)
	if err != nil {
		l.failOpen("increment", clientKey, err)
		dec.Allowed = true
		dec.Degraded = true
		dec.Remaining = l.cfg.MaxRequests
		return dec
	}

	dec.Count = count
	dec.Allowed = count <= int64(l.cfg.MaxRequests)
	dec.Remaining = max(l.cfg.MaxRequests-int(count), 0)
	return dec
}

// Settle aplica SkipSuccessful/ResetOnSuccess depois que a resposta é conhecida.
// Usa um contexto próprio: a requisição pode já ter terminado.
func (l *RateLimiter) Settle(ctx context.Context, dec domain.Decision, status int) {
	if !l.NeedsSettle() || dec.Degraded || !dec.Allowed || dec.Key == "" {
		return
	}
	if status <= 0 || status >= 400 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	if l.cfg.ResetOnSuccess {
		if err := l.store.Reset(ctx, dec.Key); err != nil {
			l.failOpen("reset", dec.Key, err)
		}
		return
	}
	if _, err := l.store.Decrement(ctx, dec.Key); err != nil {
		l.failOpen("decrement", dec.Key, err)
	}
}

func (l *RateLimiter) failOpen(op, key string, err error) {
	l.log.Warn().Err(err).
		Str("tier", string(l.tier)).
		Str("op", op).
		Str("key", key).
		Bool("fail_open", true).
		Msg("counter store error, allowing request")
	if l.onError != nil {
		l.onError(op, err)
	}
}

// windowBounds alinha a janela ao relógio (épocas múltiplas de window).
func windowBounds(now time.Time, window time.Duration) (start, reset time.Time) {
	w := window.Milliseconds()
	if w <= 0 {
		w = 1
	}
	ms := now.UnixMilli()
	startMs := ms - ms%w
	start = time.UnixMilli(startMs)
	return start, start.Add(time.Duration(w) * time.Millisecond)
}

func windowKey(prefix string, tier domain.Tier, client string, start time.Time) string {
	client = strings.ToLower(strings.TrimSpace(client))
	if client == "" {
		client = "unknown"
	}
	return fmt.Sprintf("%s:%s:%s:%d", prefix, tier, client, start.UnixMilli())
}
