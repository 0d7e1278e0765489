package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is a server-side login session referenced by an opaque token.
// Only the SHA-256 hash of the token is persisted; the raw token exists
// solely in the response that created it.
type Session struct {
	ID           uuid.UUID
	TokenHash    string
	AccountID    uuid.UUID
	DeviceID     *uuid.UUID
	MFAPending   bool
	RememberMe   bool
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
}

// ExpiresBy reports whether the session is expired at the given instant.
// An expired session is indistinguishable from a missing one to callers.
func (s *Session) ExpiresBy(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Authenticated reports whether the session represents a fully
// authenticated principal. A session awaiting its second factor exists
// but must not pass route guards.
func (s *Session) Authenticated(now time.Time) bool {
	return !s.ExpiresBy(now) && !s.MFAPending
}
