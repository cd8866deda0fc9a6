package application

import (
	"iter"
	"slices"

	"security-gateway/middleware/security/domain"
)

// emptyObject é a serialização de query/body vazios e nunca casa com padrão algum.
const emptyObject = "{}"

// ThreatClassifier é uma função pura do snapshot para a lista de achados.
type ThreatClassifier struct {
	catalog *PatternCatalog
}

var _ domain.Classifier = (*ThreatClassifier)(nil)

func NewThreatClassifier(catalog *PatternCatalog) *ThreatClassifier {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &ThreatClassifier{catalog: catalog}
}

func (c *ThreatClassifier) Catalog() *PatternCatalog { return c.catalog }

type field struct {
	source domain.FindingSource
	name   string
	value  string
}

// fieldsFor define quais campos cada tipo de ameaça inspeciona.
func fieldsFor(kind domain.ThreatKind, s domain.Snapshot) []field {
	switch kind {
	case domain.ThreatSQLInjection, domain.ThreatXSS, domain.ThreatPathTraversal:
		return []field{
			{source: domain.SourceURL, value: s.URL},
			{source: domain.SourceQuery, value: s.Query},
			{source: domain.SourceBody, value: s.Body},
		}
	case domain.ThreatBot:
		return []field{
			{source: domain.SourceHeader, name: "User-Agent", value: s.UserAgent},
		}
	case domain.ThreatSuspiciousReferrer:
		return []field{
			{source: domain.SourceHeader, name: "Referer", value: s.Referer},
			{source: domain.SourceHeader, name: "Host", value: s.Host},
		}
	}
	return nil
}

// Classify percorre o catálogo em ordem de declaração e, para cada padrão,
// todos os campos aplicáveis. Cada casamento gera um achado (sem deduplicação).
//
// A sequência é avaliada sob demanda: parar a iteração interrompe a avaliação.
func (c *ThreatClassifier) Classify(s domain.Snapshot) iter.Seq[domain.ThreatFinding] {
	return func(yield func(domain.ThreatFinding) bool) {
		for _, p := range c.catalog.patterns {
			for _, f := range fieldsFor(p.Kind, s) {
				if f.value == "" || f.value == emptyObject {
					continue
				}
				if !p.Matcher.MatchString(f.value) {
					continue
				}
				if !yield(domain.ThreatFinding{
					Kind:             p.Kind,
					Severity:         p.Severity,
					MatchedPatternID: p.ID,
					Source:           f.source,
					Field:            f.name,
				}) {
					return
				}
			}
		}
	}
}

// ClassifyAll materializa a sequência.
func (c *ThreatClassifier) ClassifyAll(s domain.Snapshot) []domain.ThreatFinding {
	return slices.Collect(c.Classify(s))
}
