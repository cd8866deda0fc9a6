package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"time"
)

type Tier string

const (
	TierGeneral Tier = "general"
	TierAuth    Tier = "auth"
	TierUpload  Tier = "upload"
)

// Tiers lista os tiers conhecidos em ordem estável.
func Tiers() []Tier { return []Tier{TierGeneral, TierAuth, TierUpload} }

func (t Tier) Valid() bool {
	switch t {
	case TierGeneral, TierAuth, TierUpload:
		return true
	}
	return false
}

// TierConfig descreve uma janela fixa de contagem.
type TierConfig struct {
	Window      time.Duration
	MaxRequests int
	// SkipSuccessful faz respostas com status < 400 devolverem o próprio hit.
	SkipSuccessful bool
	// ResetOnSuccess zera a janela do cliente após uma resposta de sucesso.
	ResetOnSuccess bool
}

// DefaultTierConfig retorna os valores padrão de cada tier.
func DefaultTierConfig(t Tier) TierConfig {
	switch t {
	case TierAuth:
		return TierConfig{Window: 15 * time.Minute, MaxRequests: 10, SkipSuccessful: true, ResetOnSuccess: true}
	case TierUpload:
		return TierConfig{Window: time.Hour, MaxRequests: 100}
	default:
		return TierConfig{Window: 15 * time.Minute, MaxRequests: 1000}
	}
}

// WithDefaults preenche campos zerados com os padrões do tier.
func (c TierConfig) WithDefaults(t Tier) TierConfig {
	def := DefaultTierConfig(t)
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = def.MaxRequests
	}
	return c
}

// DelayFromFirst em SpeedConfig.DelayAfter aplica atraso desde a primeira
// requisição da janela. DelayAfter == 0 é "não configurado" e vira o padrão.
const DelayFromFirst = -1

// SpeedConfig descreve o atraso progressivo (slow down).
type SpeedConfig struct {
	Window time.Duration
	// DelayAfter é quantas requisições passam sem atraso. 0 => padrão (500);
	// DelayFromFirst => nenhuma.
	DelayAfter int
	DelayStep  time.Duration
	MaxDelay   time.Duration
}

func DefaultSpeedConfig() SpeedConfig {
	return SpeedConfig{
		Window:     15 * time.Minute,
		DelayAfter: 500,
		DelayStep:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

func (c SpeedConfig) WithDefaults() SpeedConfig {
	def := DefaultSpeedConfig()
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.DelayAfter == 0 {
		c.DelayAfter = def.DelayAfter
	}
	if c.DelayStep <= 0 {
		c.DelayStep = def.DelayStep
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	return c
}

type Decision struct {
	Allowed   bool
	Tier      Tier
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Count é o valor do contador após o incremento (0 se Degraded).
	Count int64
	// Key é a chave da janela no store; usada para devolver o hit.
	Key string
	// Degraded indica fail-open: o store falhou e a decisão foi "permitir".
	Degraded bool
}

// RetryAfter é o tempo até o reset da janela, arredondado para cima em segundos.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.IsZero() || !d.ResetAt.After(now) {
		return time.Second
	}
	left := d.ResetAt.Sub(now)
	return (left + time.Second - 1) / time.Second * time.Second
}

// CounterStore é o store compartilhado de contadores de janela.
//
// Increment deve ser atômico (ex.: INCR+PEXPIRE numa transação Redis).
// Registros expirados são removidos pelo TTL do próprio store.
type CounterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Decrement devolve um hit. Não cria a chave nem deixa o valor negativo.
	Decrement(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
