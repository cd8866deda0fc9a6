package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"security-gateway/middleware/security"
	"security-gateway/middleware/security/infra"
)

// Exemplo: o gateway montado direto no servidor da loja (sem proxy).
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	logger := log.Logger

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	alerts := infra.NewAlertDispatcher([]infra.Alerter{infra.NewLogAlerter(logger)},
		infra.WithDispatcherLogger(logger))
	defer func() { _ = alerts.Close() }()

	gw, err := security.New(security.Options{
		Alerts:             alerts,
		KeyHeader:          "X-Api-Key", // ou vazio para usar IP
		TrustXForwardedFor: true,
		Logger:             &logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("gateway setup")
	}
	// store e watchlist em memória criados pelo gateway
	gw.Start(ctx)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", gw.HealthHandler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(security.ConcurrencyMiddleware(security.ConcurrencyOptions{Max: 50, Logger: &logger}))
		r.Use(gw.Middleware)

		r.Post("/api/auth/login", login)
		r.Get("/api/products", listProducts)
		r.Post("/api/upload", upload)
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("example marketplace listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// login aceita apenas demo/demo: o resto vira 401 e conta no tier auth.
func login(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if c.Username != "demo" || c.Password != "demo" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": "demo-token"})
}

type product struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

func listProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []product{
		{ID: 1, Name: "Running shoes", Price: 89.9},
		{ID: 2, Name: "Backpack", Price: 49.5},
	})
}

func upload(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
