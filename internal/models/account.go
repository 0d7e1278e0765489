package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is the platform account record this core authenticates against.
// The wider platform owns the rest of the account surface (balances,
// referrals, premium tier); only the security-relevant fields live here.
type Account struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	Verified     bool
	MFAEnabled   bool
	Role         string // "user", "admin"
	Premium      bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
