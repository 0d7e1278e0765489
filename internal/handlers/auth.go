package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/orecrest/authcore/internal/auth"
	"github.com/orecrest/authcore/internal/models"
	"github.com/orecrest/authcore/internal/services"
	pkghttp "github.com/orecrest/authcore/pkg/http"
)

// LoginServiceInterface defines the login pipeline operations the
// handler depends on.
type LoginServiceInterface interface {
	Login(ctx context.Context, input services.LoginInput) (*services.LoginResult, error)
	VerifyMFA(ctx context.Context, challengeToken, kind, code, ipAddress, userAgent string) (*services.LoginResult, error)
	ChangePassword(ctx context.Context, account *models.Account, currentSessionID uuid.UUID, currentPassword, newPassword, ipAddress, userAgent string) error
}

// SessionRevoker defines the session operations used by logout.
type SessionRevoker interface {
	Revoke(ctx context.Context, accountID, sessionID uuid.UUID, ipAddress, userAgent string) error
	RevokeAll(ctx context.Context, accountID uuid.UUID, keep *uuid.UUID, ipAddress, userAgent string) (int64, error)
}

// AuthHandler handles login, MFA completion, logout, and password
// changes.
type AuthHandler struct {
	login    LoginServiceInterface
	sessions SessionRevoker
	ipConfig *pkghttp.IPConfig
}

func NewAuthHandler(login LoginServiceInterface, sessions SessionRevoker, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{login: login, sessions: sessions, ipConfig: ipConfig}
}

// Request DTOs

type LoginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"remember_me"`
}

type MFAVerifyRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
	Kind           string `json:"kind" validate:"required,oneof=totp recovery"`
	Code           string `json:"code" validate:"required,min=6,max=8"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// Response DTOs

type LoginResponse struct {
	Status         string    `json:"status"`
	SessionToken   string    `json:"session_token,omitempty"`
	ChallengeToken string    `json:"challenge_token,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	input := services.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		IPAddress:  pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:  r.Header.Get("User-Agent"),
	}

	result, err := h.login.Login(r.Context(), input)
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Status:         result.Status,
		SessionToken:   result.SessionToken,
		ChallengeToken: result.ChallengeToken,
		ExpiresAt:      result.Session.ExpiresAt,
	})
}

// VerifyMFA handles POST /auth/mfa/verify: completes an MFA-pending
// login.
func (h *AuthHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req MFAVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	result, err := h.login.VerifyMFA(r.Context(), req.ChallengeToken, req.Kind, req.Code, ipAddress, userAgent)
	if err != nil {
		var locked *services.LockedOutError
		switch {
		case errors.As(err, &locked):
			pkghttp.WriteRateLimited(w, "Too many failed verification attempts. Please try again later.", locked.RetryAfter)
		case errors.Is(err, models.ErrMFAInvalidCode):
			pkghttp.WriteUnauthorized(w, "Verification failed")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Verification failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Status:    result.Status,
		ExpiresAt: result.Session.ExpiresAt,
	})
}

// Logout handles POST /auth/logout: revokes the caller's own session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r)
	account := auth.AccountFromContext(r)
	if session == nil || account == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	if err := h.sessions.Revoke(r.Context(), account.ID, session.ID, ipAddress, r.Header.Get("User-Agent")); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Already gone; logout is idempotent.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll handles POST /auth/logout-all: revokes every other session
// of the account, keeping the caller's.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r)
	account := auth.AccountFromContext(r)
	if session == nil || account == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	revoked, err := h.sessions.RevokeAll(r.Context(), account.ID, &session.ID, ipAddress, r.Header.Get("User-Agent"))
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"revoked": revoked})
}

// ChangePassword handles POST /auth/password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r)
	account := auth.AccountFromContext(r)
	if session == nil || account == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	err := h.login.ChangePassword(r.Context(), account, session.ID, req.CurrentPassword, req.NewPassword, ipAddress, r.Header.Get("User-Agent"))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		case errors.Is(err, models.ErrInternalServer):
			pkghttp.WriteInternalError(w, "Internal server error")
		default:
			// Password policy violations carry their own message.
			pkghttp.WriteBadRequest(w, err.Error())
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) writeLoginError(w http.ResponseWriter, err error) {
	var locked *services.LockedOutError
	switch {
	case errors.As(err, &locked):
		pkghttp.WriteRateLimited(w, "Too many failed login attempts. Please try again later.", locked.RetryAfter)
	case errors.Is(err, models.ErrRateLimitExceeded):
		pkghttp.WriteRateLimited(w, "Too many failed login attempts. Please try again later.", 0)
	case errors.Is(err, models.ErrAccountUnverified):
		pkghttp.WriteForbidden(w, "Account not verified")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
