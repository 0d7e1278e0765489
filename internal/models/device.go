package models

import (
	"time"

	"github.com/google/uuid"
)

// Device is a coarse fingerprint of a client a user has logged in from.
// Trust is granted explicitly by the user and lets a returning device
// skip the second factor.
type Device struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	Browser     string
	OS          string
	DeviceClass string // "desktop", "mobile", "tablet", "bot", "unknown"
	IPAddress   string
	Trusted     bool
	LastLoginAt time.Time
	CreatedAt   time.Time
}

// Fingerprint is the matching key for device identification: parsed
// user-agent families plus source IP. Intentionally approximate; a miss
// just triggers the second factor again.
type Fingerprint struct {
	Browser     string
	OS          string
	DeviceClass string
	IPAddress   string
}

// Matches reports whether the device matches a fingerprint. All four
// attributes must agree; stricter matching is preferred over looser so a
// new device is never wrongly treated as trusted.
func (d *Device) Matches(fp Fingerprint) bool {
	return d.Browser == fp.Browser &&
		d.OS == fp.OS &&
		d.DeviceClass == fp.DeviceClass &&
		d.IPAddress == fp.IPAddress
}
