package security

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientKeyFunc identifica o cliente de uma requisição.
type ClientKeyFunc func(r *http.Request) string

// DefaultClientKeyFunc usa, em ordem: o header keyHeader (se configurado),
// o primeiro IP de X-Forwarded-For / X-Real-IP (só com trustXFF) e o RemoteAddr.
//
// IPs são normalizados (IPv4 mapeado em IPv6 vira IPv4) para que o mesmo
// cliente não tenha duas chaves.
func DefaultClientKeyFunc(keyHeader string, trustXFF bool) ClientKeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := normalizeIP(first); ip != "" {
					return ip
				}
			}
			if ip := normalizeIP(r.Header.Get("X-Real-IP")); ip != "" {
				return ip
			}
		}

		remote := strings.TrimSpace(r.RemoteAddr)
		if host, _, err := net.SplitHostPort(remote); err == nil && host != "" {
			return normalizeIP(host)
		}
		if remote != "" {
			return normalizeIP(remote)
		}
		return "unknown"
	}
}

// normalizeIP devolve o IP canônico; valores que não são IP voltam aparados.
func normalizeIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if addr, err := netip.ParseAddr(strings.Trim(s, "[]")); err == nil {
		return addr.Unmap().WithZone("").String()
	}
	return s
}
