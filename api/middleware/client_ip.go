package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP stores the caller address on the request context. Forwarding
// headers win over the socket peer; entries that do not parse as an IP are
// skipped so a garbage header cannot pin the per-IP counters.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPKey{}, clientIP(r))))
	})
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if cached := ClientIPFromContext(r.Context()); cached != "" {
		return cached
	}
	for _, candidate := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if addr, ok := parseIP(candidate); ok {
			return addr
		}
	}
	if addr, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
		return addr
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if addr, ok := parseIP(host); ok {
			return addr
		}
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func parseIP(raw string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
