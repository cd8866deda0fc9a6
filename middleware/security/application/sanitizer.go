package application

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer remove injeção estrutural (chaves com cara de operador, ex.: "$gt",
// "a.b") e marcação com script dos valores. Nunca falha e nunca bloqueia.
type Sanitizer struct {
	policy *bluemonday.Policy
}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// IsOperatorKey identifica chaves usadas para injeção de operadores em
// bancos de documentos ("$where", "user.role", "price[$gt]").
func IsOperatorKey(k string) bool {
	return strings.HasPrefix(k, "$") || strings.Contains(k, "[$") || strings.Contains(k, ".")
}

// String remove marcação apenas quando há '<' (texto puro fica intacto,
// inclusive apóstrofos e '&').
func (s *Sanitizer) String(v string) (string, bool) {
	if !strings.Contains(v, "<") {
		return v, false
	}
	out := s.policy.Sanitize(v)
	return out, out != v
}

// Value sanitiza recursivamente o resultado de um json.Decode.
func (s *Sanitizer) Value(v any) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		changed := false
		out := make(map[string]any, len(t))
		for k, inner := range t {
			if IsOperatorKey(k) {
				changed = true
				continue
			}
			clean, c := s.Value(inner)
			changed = changed || c
			out[k] = clean
		}
		return out, changed
	case []any:
		changed := false
		out := make([]any, len(t))
		for i, inner := range t {
			clean, c := s.Value(inner)
			changed = changed || c
			out[i] = clean
		}
		return out, changed
	case string:
		return s.String(t)
	default:
		return v, false
	}
}

// Query aplica as mesmas regras a parâmetros de query ou form.
func (s *Sanitizer) Query(values url.Values) (url.Values, bool) {
	changed := false
	out := make(url.Values, len(values))
	for k, vs := range values {
		if IsOperatorKey(k) {
			changed = true
			continue
		}
		clean := make([]string, len(vs))
		for i, v := range vs {
			c, ch := s.String(v)
			changed = changed || ch
			clean[i] = c
		}
		out[k] = clean
	}
	return out, changed
}
