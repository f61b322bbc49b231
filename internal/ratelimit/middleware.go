package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/direitopremium/lexgen/internal/logging"
	"github.com/direitopremium/lexgen/internal/metrics"
)

// ClientKey identifies the caller of r. It uses RemoteAddr, which chi's
// RealIP middleware has already rewritten from X-Forwarded-For when present.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects callers that exceed their bucket with 429 and the
// {"success":false,"error":...} body the functions answer with.
func Middleware(s *Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientKey(r)
			if s.Allow(key) {
				next.ServeHTTP(w, r)
				return
			}
			metrics.RateLimitRejections.Inc()
			logging.FromContext(r.Context()).Warn("rate limit exceeded", "client", key, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"error":   "rate limit exceeded",
			})
		})
	}
}
