package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/orecrest/authcore/internal/models"
	pkghttp "github.com/orecrest/authcore/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SessionContextKey holds the resolved session for the request.
	SessionContextKey contextKey = "session"
	// AccountContextKey holds the session's account.
	AccountContextKey contextKey = "account"
)

// SessionResolver turns a bearer token into a live session and its
// account. Implemented by the session service.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*models.Session, *models.Account, error)
}

// SessionMiddleware authenticates requests by opaque bearer token. A
// session still pending its second factor is rejected here: only the
// MFA verification endpoint accepts it, via the challenge token.
func SessionMiddleware(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "missing or malformed authorization header")
				return
			}

			session, account, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				if errors.Is(err, models.ErrUnauthorized) || errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "invalid or expired session")
					return
				}
				pkghttp.WriteInternalError(w, "internal server error")
				return
			}

			if session.MFAPending {
				pkghttp.WriteUnauthorized(w, "session pending verification")
				return
			}

			// Re-checked per request so a verified flag revoked
			// out-of-band cuts off live sessions too.
			if !account.Verified {
				pkghttp.WriteForbidden(w, "account not verified")
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, session)
			ctx = context.WithValue(ctx, AccountContextKey, account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole enforces role-based access after SessionMiddleware.
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account := AccountFromContext(r)
			if account == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}
			if account.Role != role {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// SessionFromContext returns the authenticated session, or nil outside
// SessionMiddleware.
func SessionFromContext(r *http.Request) *models.Session {
	session, ok := r.Context().Value(SessionContextKey).(*models.Session)
	if !ok {
		return nil
	}
	return session
}

// AccountFromContext returns the authenticated account, or nil outside
// SessionMiddleware.
func AccountFromContext(r *http.Request) *models.Account {
	account, ok := r.Context().Value(AccountContextKey).(*models.Account)
	if !ok {
		return nil
	}
	return account
}
