package domain

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeAllowed  Outcome = "allowed"
	OutcomeDenied   Outcome = "denied"
	OutcomeBlocked  Outcome = "blocked"
	OutcomeDegraded Outcome = "degraded"
)

// StatsEvent representa um evento de decisão do gateway.
//
// Observação: cuidado com cardinalidade (ex.: salvar Client/Path sem controle pode
// explodir o número de chaves numa base como Redis).
type StatsEvent struct {
	Client  string
	Tier    Tier
	Outcome Outcome

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de decisão.
//
// O middleware trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
