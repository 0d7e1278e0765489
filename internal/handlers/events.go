package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/orecrest/authcore/internal/auth"
	"github.com/orecrest/authcore/internal/models"
	"github.com/orecrest/authcore/internal/repositories"
	pkghttp "github.com/orecrest/authcore/pkg/http"
)

// SecurityEventReader defines the audit-history read operation the
// handler depends on.
type SecurityEventReader interface {
	History(ctx context.Context, accountID uuid.UUID, filter repositories.EventFilter) ([]models.SecurityEvent, error)
}

type SecurityEventHandler struct {
	events SecurityEventReader
}

func NewSecurityEventHandler(events SecurityEventReader) *SecurityEventHandler {
	return &SecurityEventHandler{events: events}
}

type SecurityEventResponse struct {
	ID          uuid.UUID            `json:"id"`
	EventType   string               `json:"event_type"`
	Description string               `json:"description"`
	Metadata    models.EventMetadata `json:"metadata,omitempty"`
	IPAddress   *string              `json:"ip_address,omitempty"`
	UserAgent   *string              `json:"user_agent,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// History handles GET /events: the account's security log, newest
// first. Supports ?type=, ?limit=, ?offset=.
func (h *SecurityEventHandler) History(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r)
	if account == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	filter := repositories.EventFilter{
		EventType: r.URL.Query().Get("type"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			pkghttp.WriteBadRequest(w, "Invalid limit")
			return
		}
		filter.Limit = n
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			pkghttp.WriteBadRequest(w, "Invalid offset")
			return
		}
		filter.Offset = n
	}

	events, err := h.events.History(r.Context(), account.ID, filter)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	out := make([]SecurityEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, SecurityEventResponse{
			ID:          e.ID,
			EventType:   e.EventType,
			Description: e.Description,
			Metadata:    e.Metadata,
			IPAddress:   e.IPAddress,
			UserAgent:   e.UserAgent,
			CreatedAt:   e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
