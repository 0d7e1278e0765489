package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Login flow errors
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrAccountUnverified = errors.New("account not verified")
	ErrAccountDisabled   = errors.New("account is disabled")
	ErrMFARequired       = errors.New("second factor required")
	ErrMFAInvalidCode    = errors.New("invalid second factor code")
	ErrMFANotEnabled     = errors.New("second factor not enabled")
)
