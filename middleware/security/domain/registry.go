package domain

import "time"

// SuspiciousEntry é uma entrada da watchlist local do processo.
type SuspiciousEntry struct {
	ClientID  string
	AddedAt   time.Time
	ExpiresAt time.Time
}

// SuspiciousRegistry é uma watchlist com expiração por entrada.
//
// Não é um controle de segurança: serve apenas para anotar respostas e logar mais.
type SuspiciousRegistry interface {
	// MarkSuspicious retorna true se a entrada foi criada agora.
	// Marcar de novo um cliente já presente não estende a expiração.
	MarkSuspicious(clientID string) bool
	IsSuspicious(clientID string) bool
	Count() int
}
