package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"security-gateway/middleware/security"
	"security-gateway/middleware/security/domain"
	"security-gateway/middleware/security/infra"
)

func serve(ctx context.Context, cfg config) error {
	logger := log.Logger

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("proxy error")
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	// store de contadores: Redis compartilhado ou memória local
	var (
		store      domain.CounterStore
		redisStore *infra.RedisCounterStore
	)
	if cfg.redisURL != "" {
		redisStore, err = infra.NewRedisCounterStoreFromURL(cfg.redisURL)
		if err != nil {
			return err
		}
		defer func() { _ = redisStore.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisStore.Ping(pingCtx); err != nil {
			// não é fatal: o gateway sobe em fail-open
			logger.Warn().Err(err).Msg("redis not reachable at startup, rate limiting will fail open")
		}
		cancel()
		store = redisStore
	} else {
		mem := infra.NewMemoryCounterStore()
		mem.StartJanitor(ctx)
		store = mem
	}

	registry := infra.NewSuspiciousRegistry(infra.WithRetention(cfg.suspiciousRetention))
	registry.StartSweeper(ctx, 10*time.Minute)

	metrics := infra.NewMetrics("")

	throttle := infra.NewThrottle(cfg.alertRatePerClient, cfg.alertBurst)
	throttle.StartJanitor(ctx)

	alerters := []infra.Alerter{infra.NewLogAlerter(logger)}
	if cfg.alertDBPath != "" {
		sqlAlerter, err := infra.OpenSQLAlerter(cfg.alertDBPath)
		if err != nil {
			return err
		}
		alerters = append(alerters, sqlAlerter)
	}
	dispatcher := infra.NewAlertDispatcher(alerters,
		infra.WithQueueSize(cfg.alertQueueSize),
		infra.WithThrottle(throttle),
		infra.WithDispatcherLogger(logger),
		infra.WithDropHook(metrics.IncAlertDropped),
	)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Error().Err(err).Msg("closing alert sinks")
		}
	}()

	var (
		stats  domain.StatsStore
		report security.StatsReporter
	)
	if cfg.statsEnabled {
		mem := infra.NewMemoryStatsStore()
		report = mem
		sinks := statsFanout{mem}
		if redisStore != nil {
			sinks = append(sinks, infra.NewRedisStatsStore(redisStore.Client(),
				infra.WithStatsPrefix(cfg.statsPrefix),
				infra.WithStatsTTL(cfg.statsTTL),
			))
		}
		async := infra.NewAsyncStatsStore(sinks, 4096, logger)
		defer async.Close()
		stats = async
	}

	gw, err := security.New(security.Options{
		Store:              store,
		Registry:           registry,
		Alerts:             dispatcher,
		Stats:              stats,
		StatsReport:        report,
		Metrics:            metrics,
		Tiers:              cfg.tiers,
		Speed:              cfg.speed,
		KeyHeader:          cfg.clientKeyHeader,
		TrustXForwardedFor: cfg.trustXFF,
		AuthPrefixes:       cfg.authPrefixes,
		UploadPrefixes:     cfg.uploadPrefixes,
		MaxBodyBytes:       cfg.maxBodyBytes,
		StoreTimeout:       cfg.storeTimeout,
		Features:           &cfg.features,
		Logger:             &logger,
	})
	if err != nil {
		return err
	}
	gw.Start(ctx)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(security.CORS(cfg.corsOrigins))

	r.Get("/health", gw.HealthHandler().ServeHTTP)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(security.ConcurrencyMiddleware(security.ConcurrencyOptions{
			Max:            cfg.concurrencyMax,
			AcquireTimeout: cfg.concurrencyTimeout,
			Metrics:        metrics,
			Logger:         &logger,
		}))
		r.Use(gw.Middleware)
		r.Handle("/*", proxy)
	})

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Str("addr", cfg.listenAddr).
		Str("upstream", target.String()).
		Bool("redis", redisStore != nil).
		Strs("cors_origins", cfg.corsOrigins).
		Interface("features", cfg.features).
		Msg("gateway listening")
	for _, tier := range domain.Tiers() {
		tc := cfg.tiers[tier]
		logger.Info().
			Str("tier", string(tier)).
			Dur("window", tc.Window).
			Int("max", tc.MaxRequests).
			Bool("skip_successful", tc.SkipSuccessful).
			Bool("reset_on_success", tc.ResetOnSuccess).
			Msg("rate tier")
	}
	logger.Info().
		Int("max", cfg.concurrencyMax).
		Dur("acquire_timeout", cfg.concurrencyTimeout).
		Msg("concurrency")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// statsFanout grava o mesmo evento em vários stores; erros são juntados.
type statsFanout []domain.StatsStore

func (f statsFanout) Record(ctx context.Context, ev domain.StatsEvent) error {
	var errs []error
	for _, s := range f {
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
