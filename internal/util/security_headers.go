package util

import (
	"net/http"
	"strings"
)

const (
	apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"
	appContentSecurityPolicy = "default-src 'self'; img-src 'self' data: https:; style-src 'self' 'unsafe-inline'; connect-src 'self'; frame-ancestors 'none'; base-uri 'self'"
)

// WithSecurityHeaders adds security response headers. Paths under apiPrefix get
// the locked-down JSON policy; everything else is treated as the web client.
func WithSecurityHeaders(apiPrefix string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Permissions-Policy", "geolocation=(), camera=(), microphone=()")
		if apiPrefix != "" && strings.HasPrefix(r.URL.Path, apiPrefix) {
			w.Header().Set("Content-Security-Policy", apiContentSecurityPolicy)
		} else {
			w.Header().Set("Content-Security-Policy", appContentSecurityPolicy)
		}

		// Only emit HSTS when request is over HTTPS (direct or forwarded).
		if r.TLS != nil || strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
