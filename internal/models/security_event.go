package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types recorded in the security log
const (
	EventLoginSuccess       = "LOGIN_SUCCESS"
	EventLoginFailed        = "LOGIN_FAILED"
	EventLoginRateLimited   = "LOGIN_RATE_LIMITED"
	EventLoginUnverified    = "LOGIN_UNVERIFIED"
	EventDeviceRegistered   = "DEVICE_REGISTERED"
	EventDeviceTrusted      = "DEVICE_TRUSTED"
	EventDeviceUntrusted    = "DEVICE_UNTRUSTED"
	EventDeviceRemoved      = "DEVICE_REMOVED"
	EventSessionRevoked     = "SESSION_REVOKED"
	EventSessionsRevoked    = "SESSIONS_REVOKED_BULK"
	EventMFAEnabled         = "MFA_ENABLED"
	EventMFADisabled        = "MFA_DISABLED"
	EventMFAVerified        = "MFA_VERIFIED"
	EventMFAFailed          = "MFA_FAILED"
	EventMFARateLimited     = "MFA_RATE_LIMITED"
	EventRecoveryCodeUsed   = "RECOVERY_CODE_USED"
	EventRecoveryCodesReset = "RECOVERY_CODES_REGENERATED"
	EventPasswordChanged    = "PASSWORD_CHANGED"
)

// SecurityEvent is one immutable row in the append-only security log.
// AccountID is nil for pre-auth failures where no account resolved.
type SecurityEvent struct {
	ID          uuid.UUID
	AccountID   *uuid.UUID
	EventType   string
	Description string
	Metadata    EventMetadata
	IPAddress   *string
	UserAgent   *string
	CreatedAt   time.Time
}

// EventMetadata is a schema-light string-to-primitive map so the audit
// trail stays queryable.
type EventMetadata map[string]any

// Scan implements sql.Scanner for JSONB
func (m *EventMetadata) Scan(value any) error {
	if value == nil {
		*m = make(EventMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var decoded map[string]any
	if err := json.Unmarshal(bytes, &decoded); err != nil {
		return err
	}
	*m = EventMetadata(decoded)
	return nil
}

// Value implements driver.Valuer for JSONB
func (m EventMetadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
