package main

import (
	"encoding/json"
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Upstream de validação manual: devolve o que chegou depois do gateway
// (query e corpo já sanitizados, headers de monitoramento).
//
//	UPSTREAM_URL=http://localhost:8081 go run ./cmd/gateway
//	go run ./teste-validacao/upstream-eco
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	r := chi.NewRouter()
	r.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		log.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Int("body_bytes", len(body)).
			Msg("request received")

		if r.URL.Query().Get("status") == "401" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"method":  r.Method,
			"uri":     r.RequestURI,
			"body":    string(body),
			"headers": r.Header,
		})
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	log.Info().Str("addr", addr).Msg("echo upstream listening")
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
