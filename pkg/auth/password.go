package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/scrypt"
)

// scrypt cost parameters. Fixed so stored records stay verifiable; bumping
// them requires a rehash-on-login migration.
const (
	scryptN = 32768
	scryptR = 8
	scryptP = 1

	SaltLength     = 32 // 256 bits
	KeyLength      = 32
	MinPasswordLen = 8
	MaxPasswordLen = 128
)

// PasswordValidationError holds validation error details (internal use only)
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "password validation failed"
	}
	// Return generic error to users - never expose specific requirements to prevent enumeration attacks
	return "invalid password"
}

// Common weak passwords to reject
var commonPasswords = map[string]bool{
	"password":     true,
	"12345678":     true,
	"qwerty":       true,
	"abc123":       true,
	"password123":  true,
	"password123!": true,
	"123456":       true,
	"admin":        true,
	"letmein":      true,
	"welcome":      true,
	"monkey":       true,
	"dragon":       true,
	"master":       true,
	"123123":       true,
	"passw0rd":     true,
	"shadow":       true,
	"sunshine":     true,
	"princess":     true,
	"starwars":     true,
	"football":     true,
	"trustno1":     true,
}

// HashPassword derives an scrypt key from the password under a fresh
// random salt and returns "hex(key).hex(salt)". The dot can never appear
// inside either hex component.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, KeyLength)
	if err != nil {
		return "", fmt.Errorf("failed to derive key: %w", err)
	}

	return hex.EncodeToString(key) + "." + hex.EncodeToString(salt), nil
}

// VerifyPassword re-derives the key with the stored salt and compares in
// constant time. Malformed records and KDF failures report false; callers
// never see a distinguishable error.
func VerifyPassword(password, record string) bool {
	parts := strings.SplitN(record, ".", 2)
	if len(parts) != 2 {
		return false
	}

	storedKey, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	if len(storedKey) != KeyLength || len(salt) != SaltLength {
		return false
	}

	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, KeyLength)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(key, storedKey) == 1
}

// ValidatePassword enforces strong password requirements
func ValidatePassword(password string) error {
	errs := make([]string, 0)

	// Check length
	if len(password) < MinPasswordLen {
		errs = append(errs, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		errs = append(errs, fmt.Sprintf("must be at most %d characters", MaxPasswordLen))
	}

	// Check character requirements
	hasUpper := false
	hasLower := false
	hasDigit := false
	hasSpecial := false

	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !hasUpper {
		errs = append(errs, "must contain at least one uppercase letter")
	}
	if !hasLower {
		errs = append(errs, "must contain at least one lowercase letter")
	}
	if !hasDigit {
		errs = append(errs, "must contain at least one digit")
	}
	if !hasSpecial {
		errs = append(errs, "must contain at least one special character")
	}

	// Check against common passwords (case-insensitive)
	if commonPasswords[strings.ToLower(password)] {
		errs = append(errs, "is too common, please choose a more unique password")
	}

	if len(errs) > 0 {
		return &PasswordValidationError{Errors: errs}
	}

	return nil
}
