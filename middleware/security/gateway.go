package security

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"security-gateway/middleware/security/application"
	"security-gateway/middleware/security/domain"
	"security-gateway/middleware/security/infra"
)

// DefaultCleanupEvery é o intervalo padrão de limpeza dos stores em memória.
const DefaultCleanupEvery = time.Minute

// Features liga/desliga estágios do pipeline. Todos ligados por padrão.
type Features struct {
	ThreatDetection bool `json:"threatDetection"`
	Sanitization    bool `json:"sanitization"`
	RateLimiting    bool `json:"rateLimiting"`
	SpeedLimiting   bool `json:"speedLimiting"`
	Alerting        bool `json:"alerting"`
}

func DefaultFeatures() Features {
	return Features{
		ThreatDetection: true,
		Sanitization:    true,
		RateLimiting:    true,
		SpeedLimiting:   true,
		Alerting:        true,
	}
}

// StatsReporter expõe totais agregados para o health.
type StatsReporter interface {
	Total() infra.Counters
}

type Options struct {
	// Store guarda os contadores de janela. nil => MemoryCounterStore.
	Store domain.CounterStore
	// Registry é a watchlist. nil => SuspiciousRegistry com retenção de 24h.
	Registry domain.SuspiciousRegistry
	Alerts   domain.AlertSink
	Stats    domain.StatsStore
	// StatsReport, se presente, entra no health.
	StatsReport StatsReporter
	Metrics     *infra.Metrics

	Classifier domain.Classifier
	Sanitizer  *application.Sanitizer

	// Tiers sobrescreve a configuração inteira de cada tier informado.
	// Tiers ausentes usam domain.DefaultTierConfig.
	Tiers map[domain.Tier]domain.TierConfig
	Speed domain.SpeedConfig

	ClientKeyFn        ClientKeyFunc
	KeyHeader          string
	TrustXForwardedFor bool

	TierFn         TierFunc
	AuthPrefixes   []string
	UploadPrefixes []string

	MaxBodyBytes int64
	StoreTimeout time.Duration
	// CleanupEvery é o intervalo de limpeza dos stores em memória criados
	// por New (ver Start). <= 0 => DefaultCleanupEvery.
	CleanupEvery time.Duration
	// Features nil => DefaultFeatures.
	Features *Features

	Logger *zerolog.Logger
	Clock  func() time.Time
}

// Gateway é a instância do gateway: dona da watchlist e dos limitadores.
// Sem estado global; cada teste pode montar o seu.
type Gateway struct {
	store      domain.CounterStore
	registry   domain.SuspiciousRegistry
	alerts     domain.AlertSink
	stats      domain.StatsStore
	report     StatsReporter
	metrics    *infra.Metrics
	classifier domain.Classifier
	sanitizer  *application.Sanitizer

	// defaults criados por New; Start limpa só esses.
	ownStore     *infra.MemoryCounterStore
	ownRegistry  *infra.SuspiciousRegistry
	cleanupEvery time.Duration

	limiters map[domain.Tier]*application.RateLimiter
	speed    *application.SpeedLimiter

	keyFn    ClientKeyFunc
	tierFn   TierFunc
	maxBody  int64
	features Features
	log      *zerolog.Logger
	now      func() time.Time
}

func New(opts Options) (*Gateway, error) {
	g := &Gateway{
		store:      opts.Store,
		registry:   opts.Registry,
		alerts:     opts.Alerts,
		stats:      opts.Stats,
		report:     opts.StatsReport,
		metrics:    opts.Metrics,
		classifier: opts.Classifier,
		sanitizer:  opts.Sanitizer,
		keyFn:      opts.ClientKeyFn,
		tierFn:     opts.TierFn,
		maxBody:    opts.MaxBodyBytes,
		features:   DefaultFeatures(),
		log:        opts.Logger,
		now:        opts.Clock,
	}
	if opts.Features != nil {
		g.features = *opts.Features
	}
	if g.log == nil {
		g.log = &log.Logger
	}
	if g.now == nil {
		g.now = time.Now
	}
	g.cleanupEvery = opts.CleanupEvery
	if g.cleanupEvery <= 0 {
		g.cleanupEvery = DefaultCleanupEvery
	}
	if g.store == nil {
		g.ownStore = infra.NewMemoryCounterStore(
			infra.WithStoreClock(g.now),
			infra.WithCleanupEvery(g.cleanupEvery),
		)
		g.store = g.ownStore
	}
	if g.registry == nil {
		g.ownRegistry = infra.NewSuspiciousRegistry(infra.WithRegistryClock(g.now))
		g.registry = g.ownRegistry
	}
	if g.alerts == nil {
		g.alerts = nopSink{}
	}
	if g.classifier == nil {
		g.classifier = application.NewThreatClassifier(nil)
	}
	if g.sanitizer == nil {
		g.sanitizer = application.NewSanitizer()
	}
	if g.keyFn == nil {
		g.keyFn = DefaultClientKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if g.tierFn == nil {
		auth, upload := opts.AuthPrefixes, opts.UploadPrefixes
		if len(auth) == 0 {
			auth = DefaultAuthPrefixes
		}
		if len(upload) == 0 {
			upload = DefaultUploadPrefixes
		}
		g.tierFn = PrefixTierFunc(auth, upload)
	}
	if g.maxBody <= 0 {
		g.maxBody = DefaultMaxBodyBytes
	}

	for tier := range opts.Tiers {
		if !tier.Valid() {
			return nil, fmt.Errorf("security gateway: %w: %q", domain.ErrInvalidTier, tier)
		}
	}

	limiterOpts := []application.LimiterOption{
		application.WithClock(g.now),
		application.WithStoreTimeout(opts.StoreTimeout),
		application.WithLogger(*g.log),
		application.WithStoreErrorHook(func(op string, _ error) { g.metrics.IncStoreError(op) }),
	}

	g.limiters = make(map[domain.Tier]*application.RateLimiter, len(domain.Tiers()))
	for _, tier := range domain.Tiers() {
		cfg, ok := opts.Tiers[tier]
		if !ok {
			cfg = domain.DefaultTierConfig(tier)
		}
		lim, err := application.NewRateLimiter(tier, cfg, g.store, limiterOpts...)
		if err != nil {
			return nil, fmt.Errorf("security gateway: %w", err)
		}
		g.limiters[tier] = lim
	}

	speed, err := application.NewSpeedLimiter(opts.Speed, g.store, limiterOpts...)
	if err != nil {
		return nil, fmt.Errorf("security gateway: %w", err)
	}
	g.speed = speed

	g.metrics.RegisterGauge("suspicious_clients", "Clients currently on the suspicious watchlist", func() float64 {
		return float64(g.registry.Count())
	})

	return g, nil
}

// Start agenda a limpeza periódica dos stores em memória que New criou por
// padrão: cada janela nova gera uma chave nova e as antigas só saem aqui.
// Stores passados em Options ficam por conta de quem os criou.
// Para parar, cancele ctx.
func (g *Gateway) Start(ctx context.Context) {
	if g.ownStore != nil {
		g.ownStore.StartJanitor(ctx)
	}
	if g.ownRegistry != nil {
		g.ownRegistry.StartSweeper(ctx, g.cleanupEvery)
	}
}

func (g *Gateway) Features() Features { return g.features }

func (g *Gateway) Registry() domain.SuspiciousRegistry { return g.registry }

// TierConfig retorna a configuração efetiva (já com defaults) do tier.
func (g *Gateway) TierConfig(t domain.Tier) (domain.TierConfig, bool) {
	lim, ok := g.limiters[t]
	if !ok {
		return domain.TierConfig{}, false
	}
	return lim.Config(), true
}

// Middleware envolve next com o pipeline completo.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := g.keyFn(r)
		in := inspectRequest(r, client, g.maxBody)
		snap := in.snapshot

		if g.features.Sanitization && sanitize(r, in, g.sanitizer) {
			g.log.Debug().Str("client", client).Str("path", r.URL.Path).Msg("request input sanitized")
		}

		if g.features.ThreatDetection {
			findings := g.classify(snap)
			if len(findings) > 0 {
				g.onFindings(r, snap, findings)
			}
			if domain.HasSeverity(findings, domain.SeverityHigh) {
				g.metrics.IncBlocked("threat")
				g.record(r, client, "", domain.OutcomeBlocked)
				writeThreatBlocked(w)
				return
			}
		}

		tier := g.tierFn(r)
		var (
			dec     domain.Decision
			limiter *application.RateLimiter
		)
		if g.features.RateLimiting {
			limiter = g.limiters[tier]
			dec = limiter.Check(r.Context(), client)
			setRateHeaders(w.Header(), dec)
			g.metrics.ObserveDecision(tier, outcomeOf(dec))

			if !dec.Allowed {
				g.metrics.IncBlocked("rate_limit")
				g.onRateLimited(r, snap, dec)
				g.record(r, client, tier, domain.OutcomeDenied)
				writeRateLimited(w, dec, g.now())
				return
			}
		}

		if g.features.SpeedLimiting {
			if d := g.speed.DelayFor(r.Context(), client); d > 0 {
				g.metrics.ObserveDelay(d)
				if err := sleepCtx(r.Context(), d); err != nil {
					// cliente desistiu: nada é desfeito, o contador já contou
					g.log.Debug().Str("client", client).Dur("delay", d).Msg("client gone during speed delay")
					return
				}
			}
		}

		if g.registry.IsSuspicious(client) {
			w.Header().Set("X-Security-Level", "High")
			w.Header().Set("X-Monitoring", "Active")
			g.log.Info().
				Str("client", client).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("request from suspicious client")
		}

		g.record(r, client, tier, outcomeOf(dec))

		if limiter != nil && limiter.NeedsSettle() && dec.Allowed && !dec.Degraded {
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			limiter.Settle(r.Context(), dec, rec.Status())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// classify isola pânicos do classificador: viram zero achados.
func (g *Gateway) classify(s domain.Snapshot) (findings []domain.ThreatFinding) {
	defer func() {
		if rec := recover(); rec != nil {
			g.log.Error().
				Interface("panic", rec).
				Str("client", s.ClientID).
				Msg("threat classifier panicked, treating request as clean")
			findings = nil
		}
	}()
	return slices.Collect(g.classifier.Classify(s))
}

func (g *Gateway) onFindings(r *http.Request, s domain.Snapshot, findings []domain.ThreatFinding) {
	for _, f := range findings {
		g.metrics.ObserveFinding(f)
	}

	top := domain.MaxSeverity(findings)
	ev := g.log.Info()
	if top.Rank() >= domain.SeverityMedium.Rank() {
		ev = g.log.Warn()
	}
	ev.Str("client", s.ClientID).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("max_severity", string(top)).
		Interface("findings", findings).
		Msg("threat findings")

	if top.Rank() < domain.SeverityMedium.Rank() {
		return
	}

	a := domain.NewAlert(domain.AlertThreatDetected, g.now(), s, r.URL.Path)
	a.Findings = findings
	g.emit(a)
	g.markSuspicious(r, s, "")
}

func (g *Gateway) onRateLimited(r *http.Request, s domain.Snapshot, dec domain.Decision) {
	kind := domain.AlertRateLimitExceeded
	if dec.Tier == domain.TierAuth {
		kind = domain.AlertAuthRateLimitExceeded
	}
	g.log.Warn().
		Str("client", s.ClientID).
		Str("tier", string(dec.Tier)).
		Int64("count", dec.Count).
		Int("limit", dec.Limit).
		Str("path", r.URL.Path).
		Msg("rate limit exceeded")

	a := domain.NewAlert(kind, g.now(), s, r.URL.Path)
	a.Tier = dec.Tier
	g.emit(a)
	g.markSuspicious(r, s, dec.Tier)
}

func (g *Gateway) markSuspicious(r *http.Request, s domain.Snapshot, tier domain.Tier) {
	if !g.registry.MarkSuspicious(s.ClientID) {
		return
	}
	g.log.Warn().Str("client", s.ClientID).Msg("client added to suspicious watchlist")
	a := domain.NewAlert(domain.AlertSuspiciousActivity, g.now(), s, r.URL.Path)
	a.Tier = tier
	g.emit(a)
}

func (g *Gateway) emit(a domain.Alert) {
	if !g.features.Alerting {
		return
	}
	g.alerts.Emit(a)
}

func (g *Gateway) record(r *http.Request, client string, tier domain.Tier, outcome domain.Outcome) {
	if g.stats == nil {
		return
	}
	err := g.stats.Record(context.WithoutCancel(r.Context()), domain.StatsEvent{
		Client:  client,
		Tier:    tier,
		Outcome: outcome,
		Method:  r.Method,
		Path:    r.URL.Path,
		At:      g.now(),
	})
	if err != nil {
		g.log.Debug().Err(err).Msg("stats record failed")
	}
}

func outcomeOf(dec domain.Decision) domain.Outcome {
	switch {
	case dec.Degraded:
		return domain.OutcomeDegraded
	case !dec.Allowed && dec.Key != "":
		return domain.OutcomeDenied
	default:
		return domain.OutcomeAllowed
	}
}

var errClientGone = errors.New("client disconnected")

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return errClientGone
	}
}

type nopSink struct{}

func (nopSink) Emit(domain.Alert) {}
