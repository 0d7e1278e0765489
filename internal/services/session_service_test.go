package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orecrest/authcore/internal/clock"
	"github.com/orecrest/authcore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newSessionService(t *testing.T, accounts *MockAccountRepository) (*SessionService, *MockSessionRepository, *MockSecurityEventRepository, *clock.Fake) {
	t.Helper()

	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	sessionRepo := NewMockSessionRepository()
	eventRepo := &MockSecurityEventRepository{}
	events := NewSecurityEventService(eventRepo, testLogger())

	svc := NewSessionService(sessionRepo, accounts, events, clk, testLogger(), time.Hour, 30*24*time.Hour)
	return svc, sessionRepo, eventRepo, clk
}

func accountFixture() *models.Account {
	return &models.Account{
		ID:       uuid.New(),
		Email:    "alice@example.com",
		Verified: true,
		Role:     "user",
	}
}

func TestSessionService_IssueAndResolve(t *testing.T) {
	account := accountFixture()
	accounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Account, error) {
			if id == account.ID {
				return account, nil
			}
			return nil, models.ErrNotFound
		},
	}
	svc, _, _, clk := newSessionService(t, accounts)
	ctx := context.Background()

	session, token, err := svc.Issue(ctx, account.ID, nil, false, false, "1.2.3.4", "test-agent")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, clk.Now().Add(time.Hour), session.ExpiresAt)
	assert.False(t, session.MFAPending)

	gotSession, gotAccount, err := svc.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, session.ID, gotSession.ID)
	assert.Equal(t, account.ID, gotAccount.ID)
}

func TestSessionService_RememberMeExtendsLifetime(t *testing.T) {
	account := accountFixture()
	svc, _, _, clk := newSessionService(t, &MockAccountRepository{})

	session, _, err := svc.Issue(context.Background(), account.ID, nil, false, true, "1.2.3.4", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(30*24*time.Hour), session.ExpiresAt)
}

func TestSessionService_ResolveUnknownToken(t *testing.T) {
	svc, _, _, _ := newSessionService(t, &MockAccountRepository{})

	_, _, err := svc.Resolve(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestSessionService_ResolveExpiredSessionDeletesIt(t *testing.T) {
	account := accountFixture()
	accounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Account, error) {
			return account, nil
		},
	}
	svc, sessionRepo, _, clk := newSessionService(t, accounts)
	ctx := context.Background()

	_, token, err := svc.Issue(ctx, account.ID, nil, false, false, "1.2.3.4", "test-agent")
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)

	_, _, err = svc.Resolve(ctx, token)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	// Lazy expiry removed the row.
	assert.Equal(t, 0, sessionRepo.Len())
}

func TestSessionService_TouchDoesNotExtendExpiry(t *testing.T) {
	account := accountFixture()
	accounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Account, error) {
			return account, nil
		},
	}
	svc, _, _, clk := newSessionService(t, accounts)
	ctx := context.Background()

	session, token, err := svc.Issue(ctx, account.ID, nil, false, false, "1.2.3.4", "test-agent")
	require.NoError(t, err)
	originalExpiry := session.ExpiresAt

	clk.Advance(30 * time.Minute)

	resolved, _, err := svc.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, clk.Now(), resolved.LastActiveAt)
	assert.Equal(t, originalExpiry, resolved.ExpiresAt)
}

func TestSessionService_PromoteClearsPendingFlag(t *testing.T) {
	account := accountFixture()
	accounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Account, error) {
			return account, nil
		},
	}
	svc, sessionRepo, _, _ := newSessionService(t, accounts)
	ctx := context.Background()

	session, _, err := svc.Issue(ctx, account.ID, nil, true, false, "1.2.3.4", "test-agent")
	require.NoError(t, err)

	require.NoError(t, svc.Promote(ctx, session.ID))

	stored, err := sessionRepo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, stored.MFAPending)

	// Promoting twice fails: the conditional update finds nothing.
	assert.ErrorIs(t, svc.Promote(ctx, session.ID), models.ErrUnauthorized)
}

func TestSessionService_RevokeChecksOwnership(t *testing.T) {
	account := accountFixture()
	other := accountFixture()
	svc, _, eventRepo, _ := newSessionService(t, &MockAccountRepository{})
	ctx := context.Background()

	session, _, err := svc.Issue(ctx, account.ID, nil, false, false, "1.2.3.4", "test-agent")
	require.NoError(t, err)

	// Another account revoking the session gets not-found, same as a
	// session that doesn't exist.
	err = svc.Revoke(ctx, other.ID, session.ID, "5.6.7.8", "other-agent")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, svc.Revoke(ctx, account.ID, session.ID, "1.2.3.4", "test-agent"))
	assert.Contains(t, eventRepo.Types(), models.EventSessionRevoked)
}

func TestSessionService_RevokeAllKeepsCurrent(t *testing.T) {
	account := accountFixture()
	svc, sessionRepo, _, _ := newSessionService(t, &MockAccountRepository{})
	ctx := context.Background()

	current, _, err := svc.Issue(ctx, account.ID, nil, false, false, "1.2.3.4", "test-agent")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _, err := svc.Issue(ctx, account.ID, nil, false, false, "1.2.3.4", "test-agent")
		require.NoError(t, err)
	}

	revoked, err := svc.RevokeAll(ctx, account.ID, &current.ID, "1.2.3.4", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, int64(3), revoked)
	assert.Equal(t, 1, sessionRepo.Len())
}

func TestSessionService_ListFiltersExpired(t *testing.T) {
	account := accountFixture()
	svc, _, _, clk := newSessionService(t, &MockAccountRepository{})
	ctx := context.Background()

	_, _, err := svc.Issue(ctx, account.ID, nil, false, false, "1.2.3.4", "test-agent")
	require.NoError(t, err)

	clk.Advance(30 * time.Minute)
	_, _, err = svc.Issue(ctx, account.ID, nil, false, false, "1.2.3.4", "test-agent")
	require.NoError(t, err)

	// First session expires, second is still live.
	clk.Advance(45 * time.Minute)

	live, err := svc.List(ctx, account.ID)
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestSessionService_SweepExpired(t *testing.T) {
	account := accountFixture()
	svc, sessionRepo, _, clk := newSessionService(t, &MockAccountRepository{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := svc.Issue(ctx, account.ID, nil, false, false, "1.2.3.4", "test-agent")
		require.NoError(t, err)
	}

	clk.Advance(2 * time.Hour)

	swept, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), swept)
	assert.Equal(t, 0, sessionRepo.Len())
}
