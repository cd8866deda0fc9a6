package security

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"security-gateway/middleware/security/application"
	"security-gateway/middleware/security/infra"
)

type ConcurrencyOptions struct {
	Max            int
	AcquireTimeout time.Duration
	Metrics        *infra.Metrics
	Logger         *zerolog.Logger
}

// ConcurrencyMiddleware limita requisições simultâneas; sem vaga => 503.
// Max <= 0 desliga o limite.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	logger := opts.Logger
	if logger == nil {
		logger = &log.Logger
	}

	svc := application.NewConcurrencyService(infra.NewChanPool(opts.Max), opts.AcquireTimeout)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, err := svc.Acquire(r.Context())
			if err != nil {
				opts.Metrics.IncConcurrencyRejected()
				logger.Warn().Err(err).Str("path", r.URL.Path).Msg("request rejected, no slot")
				writeServiceUnavailable(w)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
