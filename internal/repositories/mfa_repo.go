package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/orecrest/authcore/internal/database"
	"github.com/orecrest/authcore/internal/models"
)

// MFARepository defines persistence for TOTP credentials and recovery
// codes. One credential row per account; enrolling again replaces it.
type MFARepository interface {
	UpsertCredential(ctx context.Context, cred *models.MFACredential) error
	GetCredential(ctx context.Context, accountID uuid.UUID) (*models.MFACredential, error)
	ActivateCredential(ctx context.Context, accountID uuid.UUID) error
	MarkCredentialUsed(ctx context.Context, accountID uuid.UUID, at time.Time) error
	DeleteCredential(ctx context.Context, accountID uuid.UUID) error

	ReplaceRecoveryCodes(ctx context.Context, accountID uuid.UUID, codeHashes []string) error
	ConsumeRecoveryCode(ctx context.Context, accountID uuid.UUID, codeHash string, at time.Time) error
	CountUnusedRecoveryCodes(ctx context.Context, accountID uuid.UUID) (int, error)
	DeleteRecoveryCodes(ctx context.Context, accountID uuid.UUID) error
}

type mfaRepoImpl struct {
	db *database.DB
}

func NewMFARepository(db *database.DB) MFARepository {
	return &mfaRepoImpl{db: db}
}

func (r *mfaRepoImpl) pool() *pgxpool.Pool { return r.db.Pool }

func (r *mfaRepoImpl) UpsertCredential(ctx context.Context, cred *models.MFACredential) error {
	query := `
		INSERT INTO mfa_credentials (account_id, secret_encrypted, secret_nonce, activated)
		VALUES ($1, $2, $3, FALSE)
		ON CONFLICT (account_id) DO UPDATE
		SET secret_encrypted = EXCLUDED.secret_encrypted,
		    secret_nonce = EXCLUDED.secret_nonce,
		    activated = FALSE,
		    last_used_at = NULL,
		    created_at = NOW()
		RETURNING created_at
	`

	err := r.pool().QueryRow(ctx, query,
		cred.AccountID,
		cred.SecretEncrypted,
		cred.SecretNonce,
	).Scan(&cred.CreatedAt)

	if err != nil {
		if mapped := database.MapPostgresError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to upsert mfa credential: %w", err)
	}

	return nil
}

func (r *mfaRepoImpl) GetCredential(ctx context.Context, accountID uuid.UUID) (*models.MFACredential, error) {
	query := `
		SELECT account_id, secret_encrypted, secret_nonce, activated, last_used_at, created_at
		FROM mfa_credentials
		WHERE account_id = $1
	`

	cred := &models.MFACredential{}
	err := r.pool().QueryRow(ctx, query, accountID).Scan(
		&cred.AccountID,
		&cred.SecretEncrypted,
		&cred.SecretNonce,
		&cred.Activated,
		&cred.LastUsedAt,
		&cred.CreatedAt,
	)
	if err != nil {
		if mapped := database.MapPostgresError(err); mapped != err {
			return nil, mapped
		}
		return nil, fmt.Errorf("failed to get mfa credential: %w", err)
	}
	return cred, nil
}

func (r *mfaRepoImpl) ActivateCredential(ctx context.Context, accountID uuid.UUID) error {
	query := `UPDATE mfa_credentials SET activated = TRUE WHERE account_id = $1`

	tag, err := r.pool().Exec(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("failed to activate mfa credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *mfaRepoImpl) MarkCredentialUsed(ctx context.Context, accountID uuid.UUID, at time.Time) error {
	query := `UPDATE mfa_credentials SET last_used_at = $2 WHERE account_id = $1`

	tag, err := r.pool().Exec(ctx, query, accountID, at)
	if err != nil {
		return fmt.Errorf("failed to mark mfa credential used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *mfaRepoImpl) DeleteCredential(ctx context.Context, accountID uuid.UUID) error {
	tag, err := r.pool().Exec(ctx, `DELETE FROM mfa_credentials WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete mfa credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ReplaceRecoveryCodes swaps the full code set atomically so a crash
// can never leave an account with a mix of old and new codes.
func (r *mfaRepoImpl) ReplaceRecoveryCodes(ctx context.Context, accountID uuid.UUID, codeHashes []string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM recovery_codes WHERE account_id = $1`, accountID); err != nil {
			return fmt.Errorf("failed to delete recovery codes: %w", err)
		}

		for _, hash := range codeHashes {
			_, err := tx.Exec(ctx,
				`INSERT INTO recovery_codes (account_id, code_hash) VALUES ($1, $2)`,
				accountID, hash,
			)
			if err != nil {
				return fmt.Errorf("failed to insert recovery code: %w", err)
			}
		}

		return nil
	})
}

// ConsumeRecoveryCode marks a code used if and only if it exists and is
// still unused. The conditional UPDATE makes concurrent submissions of
// the same code race to a single winner.
func (r *mfaRepoImpl) ConsumeRecoveryCode(ctx context.Context, accountID uuid.UUID, codeHash string, at time.Time) error {
	query := `
		UPDATE recovery_codes
		SET used = TRUE, used_at = $3
		WHERE account_id = $1 AND code_hash = $2 AND used = FALSE
	`

	tag, err := r.pool().Exec(ctx, query, accountID, codeHash, at)
	if err != nil {
		return fmt.Errorf("failed to consume recovery code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrMFAInvalidCode
	}
	return nil
}

func (r *mfaRepoImpl) CountUnusedRecoveryCodes(ctx context.Context, accountID uuid.UUID) (int, error) {
	var count int
	err := r.pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM recovery_codes WHERE account_id = $1 AND used = FALSE`,
		accountID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recovery codes: %w", err)
	}
	return count, nil
}

func (r *mfaRepoImpl) DeleteRecoveryCodes(ctx context.Context, accountID uuid.UUID) error {
	if _, err := r.pool().Exec(ctx, `DELETE FROM recovery_codes WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("failed to delete recovery codes: %w", err)
	}
	return nil
}
