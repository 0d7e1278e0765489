package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ChallengeClaims is the payload of an MFA challenge token: a short-
// lived proof that the password step succeeded, bound to the pending
// session it will promote.
type ChallengeClaims struct {
	AccountID string `json:"account_id"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// ChallengeManager issues and verifies the signed token handed back
// from a password-valid login that still needs a second factor.
type ChallengeManager struct {
	secret []byte
	ttl    time.Duration
}

func NewChallengeManager(secret string, ttl time.Duration) *ChallengeManager {
	return &ChallengeManager{secret: []byte(secret), ttl: ttl}
}

// Issue signs a challenge for the given account and pending session.
func (cm *ChallengeManager) Issue(accountID, sessionID uuid.UUID) (string, error) {
	now := time.Now()
	claims := &ChallengeClaims{
		AccountID: accountID.String(),
		SessionID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(cm.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign mfa challenge: %w", err)
	}
	return signed, nil
}

// Verify parses a challenge and returns the account and session it was
// issued for. Expired or tampered tokens fail here, leaving the
// pending session stuck until it expires on its own.
func (cm *ChallengeManager) Verify(tokenString string) (accountID, sessionID uuid.UUID, err error) {
	claims := &ChallengeClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return cm.secret, nil
	})
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid mfa challenge: %w", err)
	}
	if !token.Valid {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid mfa challenge")
	}

	accountID, err = uuid.Parse(claims.AccountID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid account id in mfa challenge: %w", err)
	}
	sessionID, err = uuid.Parse(claims.SessionID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid session id in mfa challenge: %w", err)
	}

	return accountID, sessionID, nil
}
