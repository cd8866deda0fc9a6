package infra

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"security-gateway/middleware/security/domain"
)

// Metrics agrupa as métricas Prometheus de um gateway.
//
// Cada instância tem seu próprio registry, então testes não compartilham estado.
// Todos os métodos aceitam receptor nil (métricas desligadas).
type Metrics struct {
	registry  *prometheus.Registry
	namespace string

	findings            *prometheus.CounterVec
	blocked             *prometheus.CounterVec
	decisions           *prometheus.CounterVec
	storeErrors         *prometheus.CounterVec
	speedDelay          prometheus.Histogram
	alertsDropped       *prometheus.CounterVec
	concurrencyRejected prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "security_gateway"
	}
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry:  reg,
		namespace: namespace,
		findings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Threat findings by kind and severity",
		}, []string{"kind", "severity"}),
		blocked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocked_requests_total",
			Help:      "Requests terminated by the gateway",
		}, []string{"reason"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limit decisions by tier and outcome",
		}, []string{"tier", "outcome"}),
		storeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Counter store failures (fail-open applied)",
		}, []string{"op"}),
		speedDelay: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speed_delay_seconds",
			Help:      "Artificial delay applied by the speed limiter",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		alertsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_dropped_total",
			Help:      "Alerts not delivered to the sink",
		}, []string{"reason"}),
		concurrencyRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_rejected_total",
			Help:      "Requests rejected for lack of an in-flight slot",
		}),
	}
}

// RegisterGauge expõe um valor calculado na hora da coleta (ex.: watchlist).
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveFinding(f domain.ThreatFinding) {
	if m == nil {
		return
	}
	m.findings.WithLabelValues(string(f.Kind), string(f.Severity)).Inc()
}

func (m *Metrics) IncBlocked(reason string) {
	if m == nil {
		return
	}
	m.blocked.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveDecision(tier domain.Tier, outcome domain.Outcome) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(tier), string(outcome)).Inc()
}

func (m *Metrics) IncStoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveDelay(d time.Duration) {
	if m == nil {
		return
	}
	m.speedDelay.Observe(d.Seconds())
}

func (m *Metrics) IncAlertDropped(reason string) {
	if m == nil {
		return
	}
	m.alertsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncConcurrencyRejected() {
	if m == nil {
		return
	}
	m.concurrencyRejected.Inc()
}
