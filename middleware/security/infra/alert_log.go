package infra

import (
	"context"

	"github.com/rs/zerolog"

	"security-gateway/middleware/security/domain"
)

// LogAlerter é o destino base: um evento estruturado por alerta.
type LogAlerter struct {
	log zerolog.Logger
}

func NewLogAlerter(l zerolog.Logger) *LogAlerter {
	return &LogAlerter{log: l}
}

func (a *LogAlerter) Send(_ context.Context, al domain.Alert) error {
	ev := a.log.Warn().
		Str("alert_id", al.ID).
		Str("kind", string(al.Kind)).
		Time("at", al.Timestamp).
		Str("client", al.ClientID).
		Str("method", al.RequestMethod).
		Str("path", al.RequestPath)
	if al.Tier != "" {
		ev = ev.Str("tier", string(al.Tier))
	}
	if len(al.Findings) > 0 {
		ev = ev.Interface("findings", al.Findings)
	}
	if len(al.Headers) > 0 {
		ev = ev.Interface("headers", al.Headers)
	}
	ev.Msg("security alert")
	return nil
}

func (a *LogAlerter) Close() error { return nil }
