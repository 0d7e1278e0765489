package services

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/orecrest/authcore/internal/models"
	"github.com/orecrest/authcore/internal/repositories"
)

// SecurityEventService records account-security events with a
// dual-write pattern: structured log output immediately, database row
// for the account-visible audit trail. Persistence is best-effort; a
// failed write never fails the operation being recorded.
type SecurityEventService struct {
	repo   repositories.SecurityEventRepository
	logger *slog.Logger
}

func NewSecurityEventService(repo repositories.SecurityEventRepository, logger *slog.Logger) *SecurityEventService {
	return &SecurityEventService{repo: repo, logger: logger}
}

// Record writes one event. accountID is nil for pre-auth failures
// where no account could be resolved.
func (s *SecurityEventService) Record(ctx context.Context, accountID *uuid.UUID, eventType, description string, ipAddress, userAgent string, metadata models.EventMetadata) {
	attrs := []any{
		slog.String("event_type", eventType),
		slog.String("description", description),
	}
	if accountID != nil {
		attrs = append(attrs, slog.String("account_id", accountID.String()))
	}
	if metadata != nil {
		attrs = append(attrs, slog.Any("metadata", metadata))
	}
	s.logger.InfoContext(ctx, "security event", attrs...)

	event := &models.SecurityEvent{
		AccountID:   accountID,
		EventType:   eventType,
		Description: description,
		Metadata:    metadata,
	}
	if ipAddress != "" {
		event.IPAddress = &ipAddress
	}
	if userAgent != "" {
		event.UserAgent = &userAgent
	}

	if err := s.repo.Create(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist security event",
			slog.String("event_type", eventType),
			slog.Any("error", err),
		)
	}
}

// History returns an account's security log page.
func (s *SecurityEventService) History(ctx context.Context, accountID uuid.UUID, filter repositories.EventFilter) ([]models.SecurityEvent, error) {
	return s.repo.GetByAccountID(ctx, accountID, filter)
}
