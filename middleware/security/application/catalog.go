package application

import (
	"fmt"
	"regexp"

	"security-gateway/middleware/security/domain"
)

// PatternCatalog é o conjunto imutável de regras de classificação.
//
// Depois de construído nunca é alterado, então pode ser lido por várias
// goroutines sem lock.
type PatternCatalog struct {
	patterns []domain.ThreatPattern
}

type patternSpec struct {
	id       string
	kind     domain.ThreatKind
	severity domain.Severity
	expr     string
}

// high é reservado para padrões com taxa de falso positivo quase nula:
// palavras-chave SQL junto de sintaxe de controle e tags de script executável.
var defaultPatternSpecs = []patternSpec{
	{"sqli-union-select", domain.ThreatSQLInjection, domain.SeverityHigh,
		`(?i)\bunion(?:\s|\+|/\*[^*]*\*/)+(?:all(?:\s|\+|/\*[^*]*\*/)+)?select\b`},
	{"sqli-tautology", domain.ThreatSQLInjection, domain.SeverityHigh,
		`(?i)(?:\\?['"](?:\s|\+)*|\b)(?:or|and)(?:\s|\+)+(?:\\?'[^']*'?|\\?"[^"]*"?|\d+)(?:\s|\+)*=(?:\s|\+)*(?:\\?'[^']*'?|\\?"[^"]*"?|\d+)`},
	{"sqli-stacked-query", domain.ThreatSQLInjection, domain.SeverityHigh,
		`(?i);\s*(?:drop\s+(?:table|database)|truncate\s+table|delete\s+from|insert\s+into|exec(?:ute)?\s+\w+|shutdown\b)`},
	{"sqli-time-based", domain.ThreatSQLInjection, domain.SeverityMedium,
		`(?i)\b(?:sleep|benchmark|pg_sleep)\s*\(|\bwaitfor\s+delay\b`},
	{"sqli-comment-breakout", domain.ThreatSQLInjection, domain.SeverityMedium,
		`'\s*(?:--|#|/\*)`},

	{"xss-script-tag", domain.ThreatXSS, domain.SeverityHigh,
		`(?i)<\s*/?\s*script\b`},
	{"xss-event-handler", domain.ThreatXSS, domain.SeverityMedium,
		`(?i)<[^>]*\son[a-z]+\s*=`},
	{"xss-script-uri", domain.ThreatXSS, domain.SeverityMedium,
		`(?i)\b(?:javascript|vbscript)\s*:`},
	{"xss-embedded-object", domain.ThreatXSS, domain.SeverityMedium,
		`(?i)<\s*(?:iframe|object|embed|applet|meta)\b|\bdocument\.cookie\b|\beval\s*\(`},

	{"traversal-dot-dot", domain.ThreatPathTraversal, domain.SeverityMedium,
		`\.\.[/\\]`},
	{"traversal-encoded", domain.ThreatPathTraversal, domain.SeverityMedium,
		`(?i)(?:%2e%2e|\.%2e|%2e\.)(?:%2f|%5c|/|\\)`},
	{"traversal-sensitive-file", domain.ThreatPathTraversal, domain.SeverityMedium,
		`(?i)/etc/(?:passwd|shadow|hosts)\b|\bboot\.ini\b|\\windows\\win\.ini`},

	{"bot-scanner", domain.ThreatBot, domain.SeverityMedium,
		`(?i)\b(?:sqlmap|nikto|nmap|masscan|acunetix|nessus|dirbuster|gobuster|wpscan|zgrab)\b`},
	{"bot-generic", domain.ThreatBot, domain.SeverityLow,
		`(?i)(?:bot\b|crawler|spider|scraper|curl/|wget/|python-requests|go-http-client|headless)`},

	{"referrer-spam-domain", domain.ThreatSuspiciousReferrer, domain.SeverityLow,
		`(?i)(?:semalt|buttons-for-(?:your-)?website|darodar|best-seo|free-share|ilovevitaly|priceg)\.`},
	{"referrer-abused-tld", domain.ThreatSuspiciousReferrer, domain.SeverityLow,
		`(?i)^(?:https?://)?[^/]*\.(?:xyz|top|tk|ml|ga|cf|gq|click|loan|work)(?::\d+)?(?:/|$)`},
}

// DefaultCatalog compila a tabela padrão. Entra em pânico se algum padrão
// for inválido (erro de programação, detectado no primeiro teste).
func DefaultCatalog() *PatternCatalog {
	patterns := make([]domain.ThreatPattern, 0, len(defaultPatternSpecs))
	for _, s := range defaultPatternSpecs {
		patterns = append(patterns, domain.ThreatPattern{
			ID:       s.id,
			Kind:     s.kind,
			Severity: s.severity,
			Matcher:  regexp.MustCompile(s.expr),
		})
	}
	c, err := NewCatalog(patterns)
	if err != nil {
		panic(err)
	}
	return c
}

// NewCatalog valida e copia os padrões recebidos.
func NewCatalog(patterns []domain.ThreatPattern) (*PatternCatalog, error) {
	seen := make(map[string]struct{}, len(patterns))
	out := make([]domain.ThreatPattern, 0, len(patterns))
	for i, p := range patterns {
		if p.ID == "" {
			return nil, fmt.Errorf("pattern %d: empty id", i)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("pattern %q: duplicate id", p.ID)
		}
		if p.Matcher == nil {
			return nil, fmt.Errorf("pattern %q: nil matcher", p.ID)
		}
		if len(fieldsFor(p.Kind, domain.Snapshot{})) == 0 {
			return nil, fmt.Errorf("pattern %q: unknown kind %q", p.ID, p.Kind)
		}
		if p.Severity.Rank() == 0 {
			return nil, fmt.Errorf("pattern %q: unknown severity %q", p.ID, p.Severity)
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return &PatternCatalog{patterns: out}, nil
}

func (c *PatternCatalog) Len() int { return len(c.patterns) }

// Patterns retorna uma cópia, em ordem de declaração.
func (c *PatternCatalog) Patterns() []domain.ThreatPattern {
	out := make([]domain.ThreatPattern, len(c.patterns))
	copy(out, c.patterns)
	return out
}
