package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit caps each client at limit writes per window. Reads pass through
// uncounted, since only writes open transactions and publish messages.
func RateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	limiter := httprate.NewRateLimiter(limit, window,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(rateLimited),
	)

	return func(next http.Handler) http.Handler {
		limited := limiter.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
			default:
				limited.ServeHTTP(w, r)
			}
		})
	}
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "too many writes, retry later",
		"code":  "rate_limited",
	})
}
