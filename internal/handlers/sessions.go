package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/orecrest/authcore/internal/auth"
	"github.com/orecrest/authcore/internal/models"
	pkghttp "github.com/orecrest/authcore/pkg/http"
)

// SessionServiceInterface defines the session listing and revocation
// operations the handler depends on.
type SessionServiceInterface interface {
	List(ctx context.Context, accountID uuid.UUID) ([]models.Session, error)
	Revoke(ctx context.Context, accountID, sessionID uuid.UUID, ipAddress, userAgent string) error
}

type SessionHandler struct {
	sessions SessionServiceInterface
	ipConfig *pkghttp.IPConfig
}

func NewSessionHandler(sessions SessionServiceInterface, ipConfig *pkghttp.IPConfig) *SessionHandler {
	return &SessionHandler{sessions: sessions, ipConfig: ipConfig}
}

type SessionResponse struct {
	ID           uuid.UUID  `json:"id"`
	DeviceID     *uuid.UUID `json:"device_id,omitempty"`
	IPAddress    string     `json:"ip_address"`
	UserAgent    string     `json:"user_agent"`
	Current      bool       `json:"current"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
}

// List handles GET /sessions: every active session of the account, with
// the caller's own session flagged.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r)
	current := auth.SessionFromContext(r)
	if account == nil || current == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	sessions, err := h.sessions.List(r.Context(), account.ID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionResponse{
			ID:           s.ID,
			DeviceID:     s.DeviceID,
			IPAddress:    s.IPAddress,
			UserAgent:    s.UserAgent,
			Current:      s.ID == current.ID,
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt,
			ExpiresAt:    s.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Revoke handles DELETE /sessions/{sessionID}.
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r)
	if account == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid session ID")
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	err = h.sessions.Revoke(r.Context(), account.ID, sessionID, ipAddress, r.Header.Get("User-Agent"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Session not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
