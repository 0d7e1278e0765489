package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/orecrest/authcore/internal/auth"
	"github.com/orecrest/authcore/internal/clock"
	"github.com/orecrest/authcore/internal/models"
	"github.com/orecrest/authcore/internal/repositories"
)

// SessionService owns the session lifecycle: issuance, resolution on
// each request, revocation, and expiry. Session lifetime is fixed at
// creation; activity updates last_active_at but never extends expiry.
type SessionService struct {
	sessions repositories.SessionRepository
	accounts repositories.AccountRepository
	events   *SecurityEventService
	clk      clock.Clock
	logger   *slog.Logger

	sessionTTL    time.Duration
	rememberMeTTL time.Duration
}

func NewSessionService(
	sessions repositories.SessionRepository,
	accounts repositories.AccountRepository,
	events *SecurityEventService,
	clk clock.Clock,
	logger *slog.Logger,
	sessionTTL, rememberMeTTL time.Duration,
) *SessionService {
	return &SessionService{
		sessions:      sessions,
		accounts:      accounts,
		events:        events,
		clk:           clk,
		logger:        logger,
		sessionTTL:    sessionTTL,
		rememberMeTTL: rememberMeTTL,
	}
}

// Issue creates a session and returns it with the one-time plaintext
// token. mfaPending sessions resolve to nothing until promoted.
func (s *SessionService) Issue(ctx context.Context, accountID uuid.UUID, deviceID *uuid.UUID, mfaPending, rememberMe bool, ipAddress, userAgent string) (*models.Session, string, error) {
	token, hash, err := auth.GenerateSessionToken()
	if err != nil {
		return nil, "", models.ErrInternalServer
	}

	now := s.clk.Now()
	ttl := s.sessionTTL
	if rememberMe {
		ttl = s.rememberMeTTL
	}

	session := &models.Session{
		TokenHash:    hash,
		AccountID:    accountID,
		DeviceID:     deviceID,
		MFAPending:   mfaPending,
		RememberMe:   rememberMe,
		IPAddress:    ipAddress,
		UserAgent:    userAgent,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(ttl),
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		s.logger.ErrorContext(ctx, "failed to create session", slog.Any("error", err))
		return nil, "", models.ErrInternalServer
	}

	return session, token, nil
}

// Resolve authenticates a bearer token: look up by hash, expire lazily,
// and touch the activity timestamp. Expired and unknown tokens are
// indistinguishable to the caller.
func (s *SessionService) Resolve(ctx context.Context, token string) (*models.Session, *models.Account, error) {
	session, err := s.sessions.GetByTokenHash(ctx, auth.HashSessionToken(token))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrUnauthorized
		}
		return nil, nil, models.ErrInternalServer
	}

	now := s.clk.Now()
	if session.ExpiresBy(now) {
		if err := s.sessions.Delete(ctx, session.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.WarnContext(ctx, "failed to delete expired session", slog.Any("error", err))
		}
		return nil, nil, models.ErrUnauthorized
	}

	account, err := s.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrUnauthorized
		}
		return nil, nil, models.ErrInternalServer
	}

	if err := s.sessions.Touch(ctx, session.ID, now); err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.WarnContext(ctx, "failed to touch session", slog.Any("error", err))
	}
	session.LastActiveAt = now

	return session, account, nil
}

// Promote clears the MFA-pending flag after a successful second factor.
func (s *SessionService) Promote(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.sessions.ClearMFAPending(ctx, sessionID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		return models.ErrInternalServer
	}
	return nil
}

// List returns an account's live sessions, filtering any that expired
// but haven't been swept yet.
func (s *SessionService) List(ctx context.Context, accountID uuid.UUID) ([]models.Session, error) {
	all, err := s.sessions.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, models.ErrInternalServer
	}

	now := s.clk.Now()
	live := make([]models.Session, 0, len(all))
	for _, session := range all {
		if !session.ExpiresBy(now) {
			live = append(live, session)
		}
	}
	return live, nil
}

// Revoke deletes one session. The caller must own it.
func (s *SessionService) Revoke(ctx context.Context, accountID, sessionID uuid.UUID, ipAddress, userAgent string) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return models.ErrInternalServer
	}
	if session.AccountID != accountID {
		// Don't reveal that the session exists.
		return models.ErrNotFound
	}

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return models.ErrInternalServer
	}

	s.events.Record(ctx, &accountID, models.EventSessionRevoked, "session revoked", ipAddress, userAgent,
		models.EventMetadata{"session_id": sessionID.String()})
	return nil
}

// RevokeAll deletes every session of an account except, optionally, the
// caller's own.
func (s *SessionService) RevokeAll(ctx context.Context, accountID uuid.UUID, keep *uuid.UUID, ipAddress, userAgent string) (int64, error) {
	revoked, err := s.sessions.DeleteByAccountID(ctx, accountID, keep)
	if err != nil {
		return 0, models.ErrInternalServer
	}

	s.events.Record(ctx, &accountID, models.EventSessionsRevoked, "all sessions revoked", ipAddress, userAgent,
		models.EventMetadata{"revoked_count": revoked})
	return revoked, nil
}

// SweepExpired removes sessions past their expiry. Called from the
// background cleanup loop.
func (s *SessionService) SweepExpired(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx, s.clk.Now())
}
