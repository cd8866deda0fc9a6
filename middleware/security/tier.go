package security

import (
	"net/http"
	"path"
	"strings"

	"security-gateway/middleware/security/domain"
)

// TierFunc escolhe o tier de rate limit da requisição.
type TierFunc func(r *http.Request) domain.Tier

var (
	DefaultAuthPrefixes   = []string{"/api/auth", "/api/login", "/api/register"}
	DefaultUploadPrefixes = []string{"/api/upload"}
)

// PrefixTierFunc resolve o tier pelo prefixo do path, respeitando segmentos
// ("/api/auth" casa "/api/auth/login" mas não "/api/authors").
//
// O path é limpo ("//", "/./", "..") e comparado sem diferenciar maiúsculas,
// do mesmo jeito que o upstream roteia.
func PrefixTierFunc(authPrefixes, uploadPrefixes []string) TierFunc {
	auth := cleanPrefixes(authPrefixes)
	upload := cleanPrefixes(uploadPrefixes)
	return func(r *http.Request) domain.Tier {
		p := normalizePath(r.URL.Path)
		switch {
		case matchesAny(p, auth):
			return domain.TierAuth
		case matchesAny(p, upload):
			return domain.TierUpload
		default:
			return domain.TierGeneral
		}
	}
}

func cleanPrefixes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if strings.Trim(p, "/") == "" {
			continue
		}
		out = append(out, normalizePath(p))
	}
	return out
}

func normalizePath(p string) string {
	return strings.ToLower(path.Clean("/" + p))
}

func matchesAny(target string, prefixes []string) bool {
	for _, p := range prefixes {
		if target == p || strings.HasPrefix(target, p+"/") {
			return true
		}
	}
	return false
}
