package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// sessionTokenBytes gives 256 bits of entropy per token.
const sessionTokenBytes = 32

// GenerateSessionToken returns a new opaque session token and the hash
// stored in its place. The plaintext token exists only in the login
// response; lookups always go through the hash.
func GenerateSessionToken() (token, hash string, err error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate session token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, HashSessionToken(token), nil
}

// HashSessionToken maps a presented token to its storage key.
func HashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
