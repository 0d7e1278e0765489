package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/orecrest/authcore/internal/database"
	"github.com/orecrest/authcore/internal/models"
)

// SecurityEventRepository defines the append-only security log. Rows
// are never updated; the only delete is retention cleanup.
type SecurityEventRepository interface {
	Create(ctx context.Context, event *models.SecurityEvent) error
	GetByAccountID(ctx context.Context, accountID uuid.UUID, filter EventFilter) ([]models.SecurityEvent, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventFilter narrows and pages a security log query.
type EventFilter struct {
	EventType string
	Limit     int
	Offset    int
}

type securityEventRepoImpl struct {
	db *pgxpool.Pool
}

func NewSecurityEventRepository(db *pgxpool.Pool) SecurityEventRepository {
	return &securityEventRepoImpl{db: db}
}

func (r *securityEventRepoImpl) Create(ctx context.Context, event *models.SecurityEvent) error {
	query := `
		INSERT INTO security_events
			(account_id, event_type, description, metadata, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		event.AccountID,
		event.EventType,
		event.Description,
		event.Metadata,
		event.IPAddress,
		event.UserAgent,
	).Scan(&event.ID, &event.CreatedAt)

	if err != nil {
		if mapped := database.MapPostgresError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to create security event: %w", err)
	}

	return nil
}

func (r *securityEventRepoImpl) GetByAccountID(ctx context.Context, accountID uuid.UUID, filter EventFilter) ([]models.SecurityEvent, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `
		SELECT id, account_id, event_type, description, metadata, ip_address, user_agent, created_at
		FROM security_events
		WHERE account_id = $1
		  AND ($2 = '' OR event_type = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Query(ctx, query, accountID, filter.EventType, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	defer rows.Close()

	var events []models.SecurityEvent
	for rows.Next() {
		event := models.SecurityEvent{}
		if err := rows.Scan(
			&event.ID,
			&event.AccountID,
			&event.EventType,
			&event.Description,
			&event.Metadata,
			&event.IPAddress,
			&event.UserAgent,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security events: %w", err)
	}

	return events, nil
}

func (r *securityEventRepoImpl) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM security_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune security events: %w", err)
	}
	return tag.RowsAffected(), nil
}
