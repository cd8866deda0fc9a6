package security

import (
	"context"
	"net/http"
	"time"

	"security-gateway/middleware/security/domain"
)

type TierView struct {
	WindowMs       int64 `json:"windowMs"`
	MaxRequests    int   `json:"maxRequests"`
	SkipSuccessful bool  `json:"skipSuccessful"`
	ResetOnSuccess bool  `json:"resetOnSuccess"`
}

type SpeedView struct {
	WindowMs   int64 `json:"windowMs"`
	DelayAfter int   `json:"delayAfter"`
	DelayMs    int64 `json:"delayMs"`
	MaxDelayMs int64 `json:"maxDelayMs"`
}

type RateLimitView struct {
	Tiers map[domain.Tier]TierView `json:"tiers"`
	Speed SpeedView                `json:"speed"`
}

// HealthSnapshot é somente leitura: montar um não altera estado algum.
type HealthSnapshot struct {
	Status          string        `json:"status"`
	Timestamp       time.Time     `json:"timestamp"`
	SuspiciousCount int           `json:"suspiciousCount"`
	RateLimitConfig RateLimitView `json:"rateLimitConfig"`
	FeatureFlags    Features      `json:"featureFlags"`
	Stats           *StatsView    `json:"stats,omitempty"`
}

type StatsView struct {
	Allowed  int64 `json:"allowed"`
	Denied   int64 `json:"denied"`
	Blocked  int64 `json:"blocked"`
	Degraded int64 `json:"degraded"`
}

const healthPingTimeout = 500 * time.Millisecond

// Health monta o snapshot. status=degraded quando o store não responde
// (o gateway está em fail-open).
func (g *Gateway) Health(ctx context.Context) HealthSnapshot {
	h := HealthSnapshot{
		Status:          "ok",
		Timestamp:       g.now().UTC(),
		SuspiciousCount: g.registry.Count(),
		FeatureFlags:    g.features,
		RateLimitConfig: RateLimitView{Tiers: make(map[domain.Tier]TierView, len(g.limiters))},
	}

	for tier, lim := range g.limiters {
		c := lim.Config()
		h.RateLimitConfig.Tiers[tier] = TierView{
			WindowMs:       c.Window.Milliseconds(),
			MaxRequests:    c.MaxRequests,
			SkipSuccessful: c.SkipSuccessful,
			ResetOnSuccess: c.ResetOnSuccess,
		}
	}
	sc := g.speed.Config()
	h.RateLimitConfig.Speed = SpeedView{
		WindowMs:   sc.Window.Milliseconds(),
		DelayAfter: max(sc.DelayAfter, 0),
		DelayMs:    sc.DelayStep.Milliseconds(),
		MaxDelayMs: sc.MaxDelay.Milliseconds(),
	}

	if g.report != nil {
		t := g.report.Total()
		h.Stats = &StatsView{Allowed: t.Allowed, Denied: t.Denied, Blocked: t.Blocked, Degraded: t.Degraded}
	}

	ctx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()
	if err := g.store.Ping(ctx); err != nil {
		// detalhe do erro só no log; o corpo do /health é público
		g.log.Warn().Err(err).Msg("health check: counter store unreachable")
		h.Status = "degraded"
	}
	return h
}

// HealthHandler responde sempre 200; o estado vai no corpo.
func (g *Gateway) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, g.Health(r.Context()))
	})
}
