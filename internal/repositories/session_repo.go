package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/orecrest/authcore/internal/database"
	"github.com/orecrest/authcore/internal/models"
)

// SessionRepository defines session persistence operations. Lookups are
// always by token hash, never by the raw token.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	GetByAccountID(ctx context.Context, accountID uuid.UUID) ([]models.Session, error)
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	ClearMFAPending(ctx context.Context, id uuid.UUID) error
	AttachDevice(ctx context.Context, id, deviceID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByAccountID(ctx context.Context, accountID uuid.UUID, keep *uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type sessionRepoImpl struct {
	db *pgxpool.Pool
}

func NewSessionRepository(db *pgxpool.Pool) SessionRepository {
	return &sessionRepoImpl{db: db}
}

const sessionColumns = `
	id, token_hash, account_id, device_id, mfa_pending, remember_me,
	ip_address, user_agent, created_at, last_active_at, expires_at`

func (r *sessionRepoImpl) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions
			(token_hash, account_id, device_id, mfa_pending, remember_me,
			 ip_address, user_agent, created_at, last_active_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	err := r.db.QueryRow(ctx, query,
		session.TokenHash,
		session.AccountID,
		session.DeviceID,
		session.MFAPending,
		session.RememberMe,
		session.IPAddress,
		session.UserAgent,
		session.CreatedAt,
		session.LastActiveAt,
		session.ExpiresAt,
	).Scan(&session.ID)

	if err != nil {
		if mapped := database.MapPostgresError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

func (r *sessionRepoImpl) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	query := `SELECT` + sessionColumns + ` FROM sessions WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *sessionRepoImpl) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	query := `SELECT` + sessionColumns + ` FROM sessions WHERE token_hash = $1`
	return r.getOne(ctx, query, tokenHash)
}

func (r *sessionRepoImpl) getOne(ctx context.Context, query string, arg any) (*models.Session, error) {
	session := &models.Session{}
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&session.ID,
		&session.TokenHash,
		&session.AccountID,
		&session.DeviceID,
		&session.MFAPending,
		&session.RememberMe,
		&session.IPAddress,
		&session.UserAgent,
		&session.CreatedAt,
		&session.LastActiveAt,
		&session.ExpiresAt,
	)
	if err != nil {
		if mapped := database.MapPostgresError(err); mapped != err {
			return nil, mapped
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (r *sessionRepoImpl) GetByAccountID(ctx context.Context, accountID uuid.UUID) ([]models.Session, error) {
	query := `SELECT` + sessionColumns + ` FROM sessions WHERE account_id = $1 ORDER BY last_active_at DESC`

	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		session := models.Session{}
		if err := rows.Scan(
			&session.ID,
			&session.TokenHash,
			&session.AccountID,
			&session.DeviceID,
			&session.MFAPending,
			&session.RememberMe,
			&session.IPAddress,
			&session.UserAgent,
			&session.CreatedAt,
			&session.LastActiveAt,
			&session.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// Touch moves last_active_at forward. The expiry is fixed at creation
// and never extended here.
func (r *sessionRepoImpl) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE sessions SET last_active_at = $2 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *sessionRepoImpl) ClearMFAPending(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE sessions SET mfa_pending = FALSE WHERE id = $1 AND mfa_pending = TRUE`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to clear mfa pending: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *sessionRepoImpl) AttachDevice(ctx context.Context, id, deviceID uuid.UUID) error {
	query := `UPDATE sessions SET device_id = $2 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, deviceID)
	if err != nil {
		return fmt.Errorf("failed to attach device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *sessionRepoImpl) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteByAccountID revokes every session of an account. keep, when
// non-nil, spares the caller's own session (logout-everywhere-else).
func (r *sessionRepoImpl) DeleteByAccountID(ctx context.Context, accountID uuid.UUID, keep *uuid.UUID) (int64, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if keep != nil {
		tag, err = r.db.Exec(ctx, `DELETE FROM sessions WHERE account_id = $1 AND id <> $2`, accountID, *keep)
	} else {
		tag, err = r.db.Exec(ctx, `DELETE FROM sessions WHERE account_id = $1`, accountID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to delete account sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *sessionRepoImpl) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
