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

// DeviceRepository defines device persistence operations.
type DeviceRepository interface {
	Create(ctx context.Context, device *models.Device) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error)
	GetByAccountID(ctx context.Context, accountID uuid.UUID) ([]models.Device, error)
	SetTrusted(ctx context.Context, id uuid.UUID, trusted bool) error
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type deviceRepoImpl struct {
	db *pgxpool.Pool
}

func NewDeviceRepository(db *pgxpool.Pool) DeviceRepository {
	return &deviceRepoImpl{db: db}
}

const deviceColumns = `
	id, account_id, browser, os, device_class, ip_address, trusted,
	last_login_at, created_at`

func (r *deviceRepoImpl) Create(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO devices
			(account_id, browser, os, device_class, ip_address, trusted, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		device.AccountID,
		device.Browser,
		device.OS,
		device.DeviceClass,
		device.IPAddress,
		device.Trusted,
		device.LastLoginAt,
	).Scan(&device.ID, &device.CreatedAt)

	if err != nil {
		if mapped := database.MapPostgresError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to create device: %w", err)
	}

	return nil
}

func (r *deviceRepoImpl) GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	query := `SELECT` + deviceColumns + ` FROM devices WHERE id = $1`

	device := &models.Device{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&device.ID,
		&device.AccountID,
		&device.Browser,
		&device.OS,
		&device.DeviceClass,
		&device.IPAddress,
		&device.Trusted,
		&device.LastLoginAt,
		&device.CreatedAt,
	)
	if err != nil {
		if mapped := database.MapPostgresError(err); mapped != err {
			return nil, mapped
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return device, nil
}

func (r *deviceRepoImpl) GetByAccountID(ctx context.Context, accountID uuid.UUID) ([]models.Device, error) {
	query := `SELECT` + deviceColumns + ` FROM devices WHERE account_id = $1 ORDER BY last_login_at DESC`

	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		device := models.Device{}
		if err := rows.Scan(
			&device.ID,
			&device.AccountID,
			&device.Browser,
			&device.OS,
			&device.DeviceClass,
			&device.IPAddress,
			&device.Trusted,
			&device.LastLoginAt,
			&device.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}

	return devices, nil
}

func (r *deviceRepoImpl) SetTrusted(ctx context.Context, id uuid.UUID, trusted bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE devices SET trusted = $2 WHERE id = $1`, id, trusted)
	if err != nil {
		return fmt.Errorf("failed to update device trust: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *deviceRepoImpl) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE devices SET last_login_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to update device last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *deviceRepoImpl) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
