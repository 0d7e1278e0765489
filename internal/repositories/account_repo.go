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

// AccountRepository defines account persistence operations. Account
// lifecycle (signup, profile, balances) lives elsewhere in the
// platform; this surface covers what authentication needs.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetMFAEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

type accountRepoImpl struct {
	db *pgxpool.Pool
}

func NewAccountRepository(db *pgxpool.Pool) AccountRepository {
	return &accountRepoImpl{db: db}
}

const accountColumns = `
	id, email, password_hash, verified, mfa_enabled, role, premium,
	last_login_at, created_at, updated_at`

func (r *accountRepoImpl) Create(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (email, password_hash, verified, role, premium)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		account.Email,
		account.PasswordHash,
		account.Verified,
		account.Role,
		account.Premium,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)

	if err != nil {
		if mapped := database.MapPostgresError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

func (r *accountRepoImpl) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := r.scanAccount(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if mapped := database.MapPostgresError(err); mapped != err {
			return nil, mapped
		}
		return nil, fmt.Errorf("failed to get account by id: %w", err)
	}
	return account, nil
}

func (r *accountRepoImpl) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE LOWER(email) = LOWER($1)`

	account, err := r.scanAccount(r.db.QueryRow(ctx, query, email))
	if err != nil {
		if mapped := database.MapPostgresError(err); mapped != err {
			return nil, mapped
		}
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}
	return account, nil
}

func (r *accountRepoImpl) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE accounts SET last_login_at = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *accountRepoImpl) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	query := `UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *accountRepoImpl) SetMFAEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	query := `UPDATE accounts SET mfa_enabled = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, enabled)
	if err != nil {
		return fmt.Errorf("failed to update mfa flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *accountRepoImpl) scanAccount(row rowScanner) (*models.Account, error) {
	account := &models.Account{}
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.Verified,
		&account.MFAEnabled,
		&account.Role,
		&account.Premium,
		&account.LastLoginAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return account, nil
}
