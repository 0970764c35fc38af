package api

import (
	"net"
	"net/http"
	"strconv"
)

// rateLimit rejects clients that exceed the limiter's budget for scope.
// Clients are keyed by IP as resolved by middleware.RealIP.
func (s *Server) rateLimit(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.deps.Limiter.Allow(r.Context(), scope, clientIP(r)) {
				retry := int(s.deps.Limiter.Window().Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
				respondError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
