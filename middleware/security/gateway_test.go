package security

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"security-gateway/middleware/security/domain"
	"security-gateway/middleware/security/infra"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (s *recordingSink) Emit(a domain.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

func (s *recordingSink) kinds() []domain.AlertKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AlertKind, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, a.Kind)
	}
	return out
}

func (s *recordingSink) has(kind domain.AlertKind) bool {
	for _, k := range s.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

var errRedisDown = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

// downStore simula o Redis fora do ar.
type downStore struct{}

func (downStore) Increment(context.Context, string, time.Duration) (int64, error) {
	return 0, errRedisDown
}
func (downStore) Decrement(context.Context, string) (int64, error) { return 0, errRedisDown }
func (downStore) Get(context.Context, string) (int64, error)       { return 0, errRedisDown }
func (downStore) Reset(context.Context, string) error              { return errRedisDown }
func (downStore) Ping(context.Context) error                       { return errRedisDown }

type panicClassifier struct{}

func (panicClassifier) Classify(domain.Snapshot) iter.Seq[domain.ThreatFinding] {
	return func(func(domain.ThreatFinding) bool) { panic("regex engine exploded") }
}

type fixture struct {
	gw    *Gateway
	store *infra.MemoryCounterStore
	sink  *recordingSink
	clock *testClock
	calls int
	h     http.Handler
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{sink: &recordingSink{}, clock: newTestClock()}
	f.store = infra.NewMemoryCounterStore(infra.WithStoreClock(f.clock.Now))

	nop := zerolog.Nop()
	opts := Options{
		Store:  f.store,
		Alerts: f.sink,
		Clock:  f.clock.Now,
		Logger: &nop,
	}
	if mutate != nil {
		mutate(&opts)
	}
	gw, err := New(opts)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	f.gw = gw

	var mu sync.Mutex
	f.h = gw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		f.calls++
		mu.Unlock()
		if r.URL.Query().Get("ok") == "0" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	}))
	return f
}

func (f *fixture) do(method, target, remote string, body io.Reader) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, body)
	r.RemoteAddr = remote
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, r)
	return w
}

func TestGateway_UnionSelectIsBlockedBeforeRateLimit(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "http://example/api/products?q=1%20UNION%20SELECT%20password%20FROM%20users", "10.0.0.1:1234", nil)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("expected json body: %v", err)
	}
	if body["error"] == "" || body["message"] == "" {
		t.Fatalf("expected error and message, got %v", body)
	}
	if f.calls != 0 {
		t.Fatalf("expected next handler not to run")
	}
	if f.store.Len() != 0 {
		t.Fatalf("expected no counter touched, got %d keys", f.store.Len())
	}
	if w.Header().Get("X-RateLimit-Limit") != "" {
		t.Fatalf("expected no rate headers on threat block")
	}
	if !f.sink.has(domain.AlertThreatDetected) || !f.sink.has(domain.AlertSuspiciousActivity) {
		t.Fatalf("expected threat and suspicious alerts, got %v", f.sink.kinds())
	}
	if !f.gw.Registry().IsSuspicious("10.0.0.1") {
		t.Fatalf("expected client on watchlist")
	}
}

func TestGateway_ScriptInJSONBodyIsBlocked(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "http://example/api/reviews", "10.0.0.1:1234",
		strings.NewReader(`{"comment":"<script>alert(document.cookie)</script>"}`))

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestGateway_DoubleQuoteTautologyIsBlocked(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "http://example/api/products?q=1%22+OR+%221%22%3D%221", "10.0.0.1:1234", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("query: expected 403, got %d", w.Code)
	}

	w = f.do(http.MethodPost, "http://example/api/search", "10.0.0.2:1234",
		strings.NewReader(`{"q":"x\" OR \"1\"=\"1"}`))
	if w.Code != http.StatusForbidden {
		t.Fatalf("body: expected 403, got %d", w.Code)
	}
	if f.calls != 0 {
		t.Fatalf("expected nothing forwarded, calls=%d", f.calls)
	}
}

func TestGateway_GeneralTierLimitAndHeaders(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Tiers = map[domain.Tier]domain.TierConfig{
			domain.TierGeneral: {Window: time.Minute, MaxRequests: 3},
		}
	})

	for i := 1; i <= 3; i++ {
		w := f.do(http.MethodGet, "http://example/api/products", "10.0.0.1:1234", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
		if got, want := w.Header().Get("X-RateLimit-Remaining"), string(rune('0'+3-i)); got != want {
			t.Fatalf("request %d: expected remaining %s, got %s", i, want, got)
		}
	}

	w := f.do(http.MethodGet, "http://example/api/products", "10.0.0.1:1234", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected remaining 0, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "3" {
		t.Fatalf("expected limit 3, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Reset"); got != "1773144060" {
		t.Fatalf("expected reset at window end, got %q", got)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("expected json body: %v", err)
	}
	if body["retryAfter"] != "1 minute" {
		t.Fatalf("expected human retry hint, got %q", body["retryAfter"])
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 forwarded requests, got %d", f.calls)
	}
	if !f.sink.has(domain.AlertRateLimitExceeded) {
		t.Fatalf("expected rate_limit_exceeded alert, got %v", f.sink.kinds())
	}

	// outro cliente tem janela própria
	if w := f.do(http.MethodGet, "http://example/api/products", "10.0.0.2:1234", nil); w.Code != http.StatusOK {
		t.Fatalf("expected other client 200, got %d", w.Code)
	}
}

func TestGateway_WindowResetAllowsAgain(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Tiers = map[domain.Tier]domain.TierConfig{
			domain.TierGeneral: {Window: time.Minute, MaxRequests: 1},
		}
	})

	f.do(http.MethodGet, "http://example/", "10.0.0.1:1", nil)
	if w := f.do(http.MethodGet, "http://example/", "10.0.0.1:1", nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}

	f.clock.Advance(time.Minute)

	if w := f.do(http.MethodGet, "http://example/", "10.0.0.1:1", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 after window reset, got %d", w.Code)
	}
}

func TestGateway_AuthSuccessDoesNotCount(t *testing.T) {
	f := newFixture(t, nil)
	login := func(ok string) int {
		return f.do(http.MethodPost, "http://example/api/auth/login?ok="+ok, "10.0.0.7:1", nil).Code
	}

	for i := 0; i < 9; i++ {
		if code := login("0"); code != http.StatusUnauthorized {
			t.Fatalf("failure %d: expected 401, got %d", i+1, code)
		}
	}
	if code := login("1"); code != http.StatusOK {
		t.Fatalf("expected successful login, got %d", code)
	}
	for i := 0; i < 5; i++ {
		if code := login("0"); code != http.StatusUnauthorized {
			t.Fatalf("post-success failure %d: expected 401 (allowed), got %d", i+1, code)
		}
	}
}

func TestGateway_AuthEleventhFailureDenied(t *testing.T) {
	f := newFixture(t, nil)

	for i := 0; i < 10; i++ {
		w := f.do(http.MethodPost, "http://example/api/auth/login?ok=0", "10.0.0.8:1", nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, w.Code)
		}
	}
	w := f.do(http.MethodPost, "http://example/api/auth/login?ok=0", "10.0.0.8:1", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on 11th failure, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "authentication") {
		t.Fatalf("expected auth message, got %s", w.Body.String())
	}
	if !f.sink.has(domain.AlertAuthRateLimitExceeded) {
		t.Fatalf("expected auth_rate_limit_exceeded alert, got %v", f.sink.kinds())
	}

	// o tier geral do mesmo cliente não foi afetado
	if w := f.do(http.MethodGet, "http://example/api/products", "10.0.0.8:1", nil); w.Code != http.StatusOK {
		t.Fatalf("expected general tier 200, got %d", w.Code)
	}
}

func TestGateway_FailOpenWhenStoreDown(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	f := newFixture(t, func(o *Options) {
		o.Store = downStore{}
		o.Stats = stats
		o.Tiers = map[domain.Tier]domain.TierConfig{
			domain.TierGeneral: {Window: time.Minute, MaxRequests: 1},
		}
	})

	for i := 0; i < 5; i++ {
		if w := f.do(http.MethodGet, "http://example/api/products", "10.0.0.1:1", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 in fail-open, got %d", i+1, w.Code)
		}
	}
	for i := 0; i < 3; i++ {
		if w := f.do(http.MethodPost, "http://example/api/auth/login?ok=0", "10.0.0.1:1", nil); w.Code != http.StatusUnauthorized {
			t.Fatalf("auth request %d: expected pass-through, got %d", i+1, w.Code)
		}
	}
	if got := stats.Total().Degraded; got != 8 {
		t.Fatalf("expected 8 degraded decisions, got %d", got)
	}
	if f.gw.Health(context.Background()).Status != "degraded" {
		t.Fatalf("expected degraded health")
	}
}

func TestGateway_ClassifierPanicFailsOpen(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Classifier = panicClassifier{} })

	w := f.do(http.MethodGet, "http://example/api/products?q=1%20UNION%20SELECT%201", "10.0.0.1:1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 when classifier panics, got %d", w.Code)
	}
}

func TestGateway_SuspiciousClientIsTagged(t *testing.T) {
	f := newFixture(t, nil)

	r := httptest.NewRequest(http.MethodGet, "http://example/api/products", nil)
	r.RemoteAddr = "10.0.0.3:1"
	r.Header.Set("User-Agent", "sqlmap/1.7.2#stable")
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected medium finding to pass, got %d", w.Code)
	}

	w = f.do(http.MethodGet, "http://example/api/products", "10.0.0.3:1", nil)
	if w.Header().Get("X-Security-Level") != "High" || w.Header().Get("X-Monitoring") != "Active" {
		t.Fatalf("expected monitoring headers, got %v", w.Header())
	}

	w = f.do(http.MethodGet, "http://example/api/products", "10.0.0.4:1", nil)
	if w.Header().Get("X-Security-Level") != "" {
		t.Fatalf("expected clean client untagged")
	}
}

func TestGateway_LowFindingDoesNotMarkSuspicious(t *testing.T) {
	f := newFixture(t, nil)

	r := httptest.NewRequest(http.MethodGet, "http://example/api/products", nil)
	r.RemoteAddr = "10.0.0.5:1"
	r.Header.Set("User-Agent", "curl/8.4.0")
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if f.gw.Registry().IsSuspicious("10.0.0.5") {
		t.Fatalf("expected low finding to be advisory only")
	}
	if len(f.sink.kinds()) != 0 {
		t.Fatalf("expected no alerts, got %v", f.sink.kinds())
	}
}

func TestGateway_SpeedDelayIsApplied(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Speed = domain.SpeedConfig{Window: time.Minute, DelayAfter: 1, DelayStep: 30 * time.Millisecond, MaxDelay: 30 * time.Millisecond}
	})

	f.do(http.MethodGet, "http://example/", "10.0.0.1:1", nil)

	start := time.Now()
	w := f.do(http.MethodGet, "http://example/", "10.0.0.1:1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("expected request to be delayed, took %s", elapsed)
	}
}

func TestGateway_ClientGoneDuringDelayIsAbandoned(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Speed = domain.SpeedConfig{Window: time.Minute, DelayAfter: 1, DelayStep: time.Second, MaxDelay: 5 * time.Second}
	})

	f.do(http.MethodGet, "http://example/", "10.0.0.1:1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil).WithContext(ctx)
	r.RemoteAddr = "10.0.0.1:1"
	w := httptest.NewRecorder()

	start := time.Now()
	f.h.ServeHTTP(w, r)
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("expected canceled request to return promptly")
	}
	if f.calls != 1 {
		t.Fatalf("expected abandoned request not to be forwarded, calls=%d", f.calls)
	}
}

func TestGateway_SanitizesForwardedBody(t *testing.T) {
	var got string
	nop := zerolog.Nop()
	gw, err := New(Options{Logger: &nop})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	h := gw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		if r.URL.Query().Has("price[$gt]") {
			t.Errorf("expected operator query key removed")
		}
	}))

	r := httptest.NewRequest(http.MethodPost, "http://example/api/products?price%5B%24gt%5D=0&q=shoes",
		strings.NewReader(`{"name":"<b>Shoes</b>","$where":"1","meta":{"user.role":"admin","tags":["<i>a</i>"]}}`))
	r.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(httptest.NewRecorder(), r)

	want := `{"meta":{"tags":["a"]},"name":"Shoes"}`
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestGateway_FeatureFlagsDisableStages(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Features = &Features{RateLimiting: true}
		o.Tiers = map[domain.Tier]domain.TierConfig{
			domain.TierGeneral: {Window: time.Minute, MaxRequests: 5},
		}
	})

	w := f.do(http.MethodGet, "http://example/api/products?q=1%20UNION%20SELECT%201", "10.0.0.1:1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected detection disabled, got %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "5" {
		t.Fatalf("expected rate limiting still on")
	}
}

func TestNew_RejectsUnknownTier(t *testing.T) {
	_, err := New(Options{Tiers: map[domain.Tier]domain.TierConfig{"premium": {}}})
	if !errors.Is(err, domain.ErrInvalidTier) {
		t.Fatalf("expected ErrInvalidTier, got %v", err)
	}
}

func TestGateway_StartCollectsExpiredWindowKeys(t *testing.T) {
	clock := newTestClock()
	nop := zerolog.Nop()
	gw, err := New(Options{
		Tiers:        map[domain.Tier]domain.TierConfig{domain.TierGeneral: {Window: time.Minute, MaxRequests: 10}},
		Speed:        domain.SpeedConfig{Window: time.Minute},
		CleanupEvery: 5 * time.Millisecond,
		Clock:        clock.Now,
		Logger:       &nop,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	store := gw.ownStore
	if store == nil {
		t.Fatalf("expected default in-memory store")
	}

	h := gw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "http://example/api/products", nil)
		r.RemoteAddr = "10.0.0.1:1"
		h.ServeHTTP(httptest.NewRecorder(), r)
		clock.Advance(time.Minute)
	}
	// rate + speed, uma chave de cada por janela
	if store.Len() != 6 {
		t.Fatalf("expected 6 window keys, got %d", store.Len())
	}

	clock.Advance(2 * time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected expired keys collected, %d left", store.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGateway_StartLeavesCallerStoresAlone(t *testing.T) {
	f := newFixture(t, nil)
	if f.gw.ownStore != nil {
		t.Fatalf("expected caller-provided store not to be owned by the gateway")
	}
	if f.gw.ownRegistry == nil {
		t.Fatalf("expected default registry to be owned by the gateway")
	}
	f.gw.Start(t.Context())
}
