package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orecrest/authcore/internal/models"
	"github.com/orecrest/authcore/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHistory_PassesFilter(t *testing.T) {
	account := accountFixture()
	session := sessionFixture(account.ID)

	var gotFilter repositories.EventFilter
	events := &MockEventReader{
		HistoryFunc: func(ctx context.Context, accountID uuid.UUID, filter repositories.EventFilter) ([]models.SecurityEvent, error) {
			gotFilter = filter
			return []models.SecurityEvent{
				{ID: uuid.New(), AccountID: &account.ID, EventType: models.EventLoginSuccess, Description: "login successful", CreatedAt: time.Now()},
			}, nil
		},
	}
	handler := NewSecurityEventHandler(events)

	req := httptest.NewRequest(http.MethodGet, "/events?type=LOGIN_SUCCESS&limit=10&offset=20", nil)
	req = withAuthContext(req, session, account)
	rec := httptest.NewRecorder()
	handler.History(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.EventLoginSuccess, gotFilter.EventType)
	assert.Equal(t, 10, gotFilter.Limit)
	assert.Equal(t, 20, gotFilter.Offset)

	var resp []SecurityEventResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 1)
	assert.Equal(t, models.EventLoginSuccess, resp[0].EventType)
}

func TestEventHistory_RejectsBadPagination(t *testing.T) {
	account := accountFixture()
	session := sessionFixture(account.ID)
	handler := NewSecurityEventHandler(&MockEventReader{})

	for _, path := range []string{"/events?limit=abc", "/events?offset=-1"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req = withAuthContext(req, session, account)
		rec := httptest.NewRecorder()
		handler.History(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestEventHistory_Unauthenticated(t *testing.T) {
	handler := NewSecurityEventHandler(&MockEventReader{})

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rec := httptest.NewRecorder()
	handler.History(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
