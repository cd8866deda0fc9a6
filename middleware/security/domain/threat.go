package domain

import (
	"iter"
	"regexp"
)

type ThreatKind string

const (
	ThreatSQLInjection       ThreatKind = "sql_injection"
	ThreatXSS                ThreatKind = "xss_attempt"
	ThreatPathTraversal      ThreatKind = "path_traversal"
	ThreatBot                ThreatKind = "bot_detected"
	ThreatSuspiciousReferrer ThreatKind = "suspicious_referrer"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank permite comparar severidades (low < medium < high).
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// FindingSource indica em qual parte da requisição o padrão casou.
type FindingSource string

const (
	SourceURL    FindingSource = "url"
	SourceQuery  FindingSource = "query"
	SourceBody   FindingSource = "body"
	SourceHeader FindingSource = "header"
)

// ThreatPattern é uma regra imutável do catálogo.
//
// Matcher usa RE2 (regexp da stdlib), que garante tempo linear no tamanho da
// entrada: nenhum padrão pode causar backtracking catastrófico.
type ThreatPattern struct {
	ID       string
	Kind     ThreatKind
	Severity Severity
	Matcher  *regexp.Regexp
}

// ThreatFinding é um casamento de um padrão contra um campo da requisição.
// Vive apenas durante o tratamento da requisição.
type ThreatFinding struct {
	Kind             ThreatKind    `json:"kind"`
	Severity         Severity      `json:"severity"`
	MatchedPatternID string        `json:"matchedPatternId"`
	Source           FindingSource `json:"source"`
	// Field detalha a origem quando Source=header (ex.: "User-Agent").
	Field string `json:"field,omitempty"`
}

// Snapshot é a visão normalizada de uma requisição usada pelo classificador.
//
// Query e Body são serializações JSON; vazio/indisponível vira "{}".
type Snapshot struct {
	Method    string
	URL       string
	Query     string
	Body      string
	UserAgent string
	Referer   string
	Host      string
	Origin    string
	ClientID  string
}

// HasSeverity retorna true se algum achado tiver exatamente a severidade dada.
func HasSeverity(findings []ThreatFinding, s Severity) bool {
	for _, f := range findings {
		if f.Severity == s {
			return true
		}
	}
	return false
}

// MaxSeverity retorna a maior severidade presente ("" se não houver achados).
func MaxSeverity(findings []ThreatFinding) Severity {
	var max Severity
	for _, f := range findings {
		if f.Severity.Rank() > max.Rank() {
			max = f.Severity
		}
	}
	return max
}

// Classifier avalia um snapshot contra o catálogo de padrões.
//
// A sequência é finita e preguiçosa; todos os casamentos são reportados.
type Classifier interface {
	Classify(Snapshot) iter.Seq[ThreatFinding]
}
