package middleware

import (
	"net/http"
	"strings"
)

// CORSConfig lists the origins allowed to call the API. Empty means no
// cross-origin access at all; origins are never reflected blindly.
type CORSConfig struct {
	AllowedOrigins []string
}

// CORS answers preflight requests and sets the response headers for
// explicitly allowed origins only.
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	allowedMethods := strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
	}, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, candidate := range config.AllowedOrigins {
				if origin == candidate {
					allowed = true
					break
				}
			}

			if allowed && origin != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", allowedMethods)
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Max-Age", "3600")
				h.Set("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
