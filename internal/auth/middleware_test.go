package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orecrest/authcore/internal/auth"
	"github.com/orecrest/authcore/internal/models"
	"github.com/stretchr/testify/assert"
)

type mockSessionResolver struct {
	session *models.Session
	account *models.Account
	err     error
}

func (m *mockSessionResolver) Resolve(ctx context.Context, token string) (*models.Session, *models.Account, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.session, m.account, nil
}

func activeSession() (*models.Session, *models.Account) {
	accountID := uuid.New()
	session := &models.Session{
		ID:           uuid.New(),
		AccountID:    accountID,
		CreatedAt:    time.Now(),
		LastActiveAt: time.Now(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	account := &models.Account{ID: accountID, Email: "alice@example.com", Verified: true, Role: "user"}
	return session, account
}

func runMiddleware(t *testing.T, resolver auth.SessionResolver, authHeader string) *httptest.ResponseRecorder {
	t.Helper()

	var reached bool
	handler := auth.SessionMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		assert.NotNil(t, auth.SessionFromContext(r))
		assert.NotNil(t, auth.AccountFromContext(r))
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code == http.StatusOK {
		assert.True(t, reached)
	}
	return rec
}

func TestSessionMiddleware_AllowsActiveSession(t *testing.T) {
	session, account := activeSession()
	resolver := &mockSessionResolver{session: session, account: account}

	rec := runMiddleware(t, resolver, "Bearer some-opaque-token")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionMiddleware_MissingHeader(t *testing.T) {
	session, account := activeSession()
	resolver := &mockSessionResolver{session: session, account: account}

	rec := runMiddleware(t, resolver, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionMiddleware_MalformedHeader(t *testing.T) {
	session, account := activeSession()
	resolver := &mockSessionResolver{session: session, account: account}

	rec := runMiddleware(t, resolver, "Basic dXNlcjpwYXNz")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionMiddleware_InvalidSession(t *testing.T) {
	resolver := &mockSessionResolver{err: models.ErrUnauthorized}

	rec := runMiddleware(t, resolver, "Bearer expired-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionMiddleware_RejectsPendingMFA(t *testing.T) {
	session, account := activeSession()
	session.MFAPending = true
	resolver := &mockSessionResolver{session: session, account: account}

	rec := runMiddleware(t, resolver, "Bearer pending-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionMiddleware_RejectsUnverifiedAccount(t *testing.T) {
	session, account := activeSession()
	account.Verified = false
	resolver := &mockSessionResolver{session: session, account: account}

	// A session minted before the account lost its verified flag stops
	// working, not just new logins.
	rec := runMiddleware(t, resolver, "Bearer live-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSessionMiddleware_ResolverFailure(t *testing.T) {
	resolver := &mockSessionResolver{err: models.ErrInternalServer}

	rec := runMiddleware(t, resolver, "Bearer some-token")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequireRole(t *testing.T) {
	session, account := activeSession()
	account.Role = "admin"
	resolver := &mockSessionResolver{session: session, account: account}

	protected := auth.SessionMiddleware(resolver)(
		auth.RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})),
	)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	account.Role = "user"
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGenerateSessionToken(t *testing.T) {
	token, hash, err := auth.GenerateSessionToken()
	assert.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Len(t, hash, 64)
	assert.Equal(t, hash, auth.HashSessionToken(token))

	second, _, err := auth.GenerateSessionToken()
	assert.NoError(t, err)
	assert.NotEqual(t, token, second)
}
