package domain

import (
	"time"

	"github.com/google/uuid"
)

type AlertKind string

const (
	AlertThreatDetected        AlertKind = "threat_detected"
	AlertRateLimitExceeded     AlertKind = "rate_limit_exceeded"
	AlertAuthRateLimitExceeded AlertKind = "auth_rate_limit_exceeded"
	AlertSuspiciousActivity    AlertKind = "suspicious_activity"
)

// Alert é escrito uma vez, entregue ao AlertSink e nunca relido pelo gateway.
type Alert struct {
	ID            string            `json:"id"`
	Kind          AlertKind         `json:"kind"`
	Timestamp     time.Time         `json:"timestamp"`
	ClientID      string            `json:"clientId"`
	RequestMethod string            `json:"requestMethod"`
	RequestPath   string            `json:"requestPath"`
	Tier          Tier              `json:"tier,omitempty"`
	Findings      []ThreatFinding   `json:"findings,omitempty"`
	Headers       map[string]string `json:"requestHeadersSubset,omitempty"`
}

func NewAlert(kind AlertKind, at time.Time, s Snapshot, path string) Alert {
	headers := make(map[string]string, 4)
	for k, v := range map[string]string{
		"User-Agent": s.UserAgent,
		"Referer":    s.Referer,
		"Origin":     s.Origin,
		"Host":       s.Host,
	} {
		if v != "" {
			headers[k] = v
		}
	}
	return Alert{
		ID:            uuid.NewString(),
		Kind:          kind,
		Timestamp:     at.UTC(),
		ClientID:      s.ClientID,
		RequestMethod: s.Method,
		RequestPath:   path,
		Headers:       headers,
	}
}

// AlertSink recebe alertas em modo fire-and-forget.
//
// Emit nunca pode bloquear o caminho da requisição nem devolver erro.
type AlertSink interface {
	Emit(Alert)
}
