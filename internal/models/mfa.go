package models

import (
	"time"

	"github.com/google/uuid"
)

// MFACredential holds one TOTP secret per account, AES-256-GCM encrypted
// at rest. Regenerating a secret replaces the previous row.
type MFACredential struct {
	AccountID       uuid.UUID
	SecretEncrypted []byte
	SecretNonce     []byte // GCM nonce (12 bytes)
	Activated       bool   // first valid code seen
	LastUsedAt      *time.Time
	CreatedAt       time.Time
}

// RecoveryCode is a single-use backup credential. Only the SHA-256 hash
// is stored; consumption flips Used exactly once.
type RecoveryCode struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	CodeHash  string
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}

// MFASetup is returned when enrollment starts. The raw secret and codes
// are shown once and never again.
type MFASetup struct {
	Secret        string   `json:"secret"`
	QRCode        string   `json:"qr_code"`
	RecoveryCodes []string `json:"recovery_codes"`
}

// Second factor kinds accepted by the verify endpoint.
const (
	MFAKindTOTP     = "totp"
	MFAKindRecovery = "recovery"
)
