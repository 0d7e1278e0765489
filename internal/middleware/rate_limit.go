package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// EdgeRateLimit is the coarse transport-level ceiling on the auth
// endpoints, keyed by real client IP. The login pipeline applies its
// own per-identifier limits behind this; the edge limiter just keeps
// raw request floods off the database.
func EdgeRateLimit(requestsPerMinute int) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate_limit_exceeded","message":"Too many requests."}`))
		}),
	)
}
