package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/orecrest/authcore/internal/clock"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod     = 30
	totpSecretSize = 32

	// recoveryCodeCharset drops 0/O, 1/I/L to keep codes unambiguous
	// when read over the phone or typed from paper.
	recoveryCodeCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	recoveryCodeLength  = 8
)

// replayWindow covers the validation window (current step ± skew). A
// code re-submitted inside it is treated as a replay even though the
// TOTP math still accepts it.
const replayWindow = 90 * time.Second

// TOTPManager generates and validates authenticator secrets. Secrets
// are held encrypted at rest with AES-256-GCM under a key the manager
// owns.
type TOTPManager struct {
	encryptionKey []byte
	issuer        string
	clk           clock.Clock
}

// NewTOTPManager requires a 32-byte key for AES-256.
func NewTOTPManager(encryptionKey []byte, issuer string, clk clock.Clock) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("totp encryption key must be 32 bytes, got %d", len(encryptionKey))
	}
	return &TOTPManager{encryptionKey: encryptionKey, issuer: issuer, clk: clk}, nil
}

// Enrollment is the output of a new secret generation: the ciphertext
// for storage plus the material the account holder needs to finish
// setup in their authenticator app.
type Enrollment struct {
	SecretEncrypted []byte
	SecretNonce     []byte
	Secret          string
	QRCodeDataURL   string
}

// GenerateEnrollment creates a fresh secret bound to the account email
// and renders its provisioning URI as a PNG data URL.
func (tm *TOTPManager) GenerateEnrollment(email string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: email,
		SecretSize:  totpSecretSize,
		Period:      totpPeriod,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}

	encrypted, nonce, err := tm.EncryptSecret([]byte(key.Secret()))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt totp secret: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create qr code: %w", err)
	}
	png, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}

	return &Enrollment{
		SecretEncrypted: encrypted,
		SecretNonce:     nonce,
		Secret:          key.Secret(),
		QRCodeDataURL:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

// EncryptSecret seals a secret with AES-256-GCM and a fresh nonce.
func (tm *TOTPManager) EncryptSecret(secret []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gcm: %w", err)
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, secret, nil), nonce, nil
}

// DecryptSecret reverses EncryptSecret.
func (tm *TOTPManager) DecryptSecret(ciphertext, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return plaintext, nil
}

// ValidateCode checks a 6-digit code against the decrypted secret,
// accepting one step of clock drift either side. lastUsedAt guards
// against replaying a code that already authenticated.
func (tm *TOTPManager) ValidateCode(secret []byte, code string, lastUsedAt *time.Time) (bool, error) {
	valid, err := totp.ValidateCustom(code, string(secret), tm.clk.Now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate totp code: %w", err)
	}
	if !valid {
		return false, nil
	}

	if lastUsedAt != nil && tm.clk.Now().Sub(*lastUsedAt) < replayWindow {
		return false, nil
	}

	return true, nil
}

// GenerateRecoveryCodes produces count single-use codes from the
// unambiguous charset.
func (tm *TOTPManager) GenerateRecoveryCodes(count int) ([]string, error) {
	codes := make([]string, count)
	buf := make([]byte, recoveryCodeLength)
	for i := range codes {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate recovery code: %w", err)
		}
		code := make([]byte, recoveryCodeLength)
		for j, b := range buf {
			code[j] = recoveryCodeCharset[int(b)%len(recoveryCodeCharset)]
		}
		codes[i] = string(code)
	}
	return codes, nil
}

// HashRecoveryCode returns the hex SHA-256 digest stored in place of
// the plaintext code.
func HashRecoveryCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
