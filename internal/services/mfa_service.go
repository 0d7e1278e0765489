package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/orecrest/authcore/internal/auth"
	"github.com/orecrest/authcore/internal/clock"
	"github.com/orecrest/authcore/internal/models"
	"github.com/orecrest/authcore/internal/ratelimit"
	"github.com/orecrest/authcore/internal/repositories"
)

// lowRecoveryCodeThreshold triggers a warning in the security log when
// an account runs low on unused codes.
const lowRecoveryCodeThreshold = 3

// MFAService manages TOTP enrollment and second-factor verification.
// Enrollment is two-phase: the secret is provisioned but the account's
// MFA flag only flips once the first valid code proves the
// authenticator was set up correctly.
type MFAService struct {
	mfa      repositories.MFARepository
	accounts repositories.AccountRepository
	events   *SecurityEventService
	totp     *auth.TOTPManager
	attempts ratelimit.Store
	clk      clock.Clock
	logger   *slog.Logger

	recoveryCodeCount int
}

func NewMFAService(
	mfa repositories.MFARepository,
	accounts repositories.AccountRepository,
	events *SecurityEventService,
	totp *auth.TOTPManager,
	attempts ratelimit.Store,
	clk clock.Clock,
	logger *slog.Logger,
	recoveryCodeCount int,
) *MFAService {
	return &MFAService{
		mfa:               mfa,
		accounts:          accounts,
		events:            events,
		totp:              totp,
		attempts:          attempts,
		clk:               clk,
		logger:            logger,
		recoveryCodeCount: recoveryCodeCount,
	}
}

// BeginEnrollment provisions a new secret and recovery codes. The
// plaintext secret and codes appear only in this response.
func (s *MFAService) BeginEnrollment(ctx context.Context, account *models.Account) (*models.MFASetup, error) {
	if account.MFAEnabled {
		return nil, models.ErrConflict
	}

	enrollment, err := s.totp.GenerateEnrollment(account.Email)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate mfa enrollment", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	cred := &models.MFACredential{
		AccountID:       account.ID,
		SecretEncrypted: enrollment.SecretEncrypted,
		SecretNonce:     enrollment.SecretNonce,
	}
	if err := s.mfa.UpsertCredential(ctx, cred); err != nil {
		return nil, models.ErrInternalServer
	}

	codes, err := s.totp.GenerateRecoveryCodes(s.recoveryCodeCount)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate recovery codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i] = auth.HashRecoveryCode(code)
	}
	if err := s.mfa.ReplaceRecoveryCodes(ctx, account.ID, hashes); err != nil {
		return nil, models.ErrInternalServer
	}

	return &models.MFASetup{
		Secret:        enrollment.Secret,
		QRCode:        enrollment.QRCodeDataURL,
		RecoveryCodes: codes,
	}, nil
}

// ActivateEnrollment turns MFA on after the first valid code from the
// provisioned secret.
func (s *MFAService) ActivateEnrollment(ctx context.Context, account *models.Account, code, ipAddress, userAgent string) error {
	cred, err := s.mfa.GetCredential(ctx, account.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrMFANotEnabled
		}
		return models.ErrInternalServer
	}

	valid, err := s.validateTOTP(ctx, cred, code)
	if err != nil {
		return err
	}
	if !valid {
		return models.ErrMFAInvalidCode
	}

	if err := s.mfa.ActivateCredential(ctx, account.ID); err != nil {
		return models.ErrInternalServer
	}
	// The activation code counts as used so it can't immediately
	// satisfy a login challenge too.
	if err := s.mfa.MarkCredentialUsed(ctx, account.ID, s.clk.Now()); err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.WarnContext(ctx, "failed to mark mfa credential used", slog.Any("error", err))
	}
	if err := s.accounts.SetMFAEnabled(ctx, account.ID, true); err != nil {
		return models.ErrInternalServer
	}

	s.events.Record(ctx, &account.ID, models.EventMFAEnabled, "mfa enabled", ipAddress, userAgent, nil)
	return nil
}

// VerifyCode checks a second factor during login or a sensitive
// operation. kind selects TOTP or recovery code. Failed checks count
// against a per-account budget so a six-digit code cannot be
// brute-forced from rotating addresses while a challenge is open.
func (s *MFAService) VerifyCode(ctx context.Context, accountID uuid.UUID, kind, code, ipAddress, userAgent string) error {
	key := accountID.String()
	if decision := s.attempts.Check(ctx, key); !decision.Allowed {
		return s.lockedOut(ctx, accountID, decision, ipAddress, userAgent)
	}

	var err error
	switch kind {
	case models.MFAKindTOTP:
		err = s.verifyTOTP(ctx, accountID, code, ipAddress, userAgent)
	case models.MFAKindRecovery:
		err = s.verifyRecoveryCode(ctx, accountID, code, ipAddress, userAgent)
	default:
		return models.ErrBadRequest
	}

	if err == nil {
		s.attempts.Reset(ctx, key)
		return nil
	}
	if errors.Is(err, models.ErrMFAInvalidCode) {
		if decision := s.attempts.RecordFailure(ctx, key); !decision.Allowed {
			return s.lockedOut(ctx, accountID, decision, ipAddress, userAgent)
		}
	}
	return err
}

// lockedOut logs the block. Every call while blocked records an event
// so a sustained guessing campaign is visible in the account history.
func (s *MFAService) lockedOut(ctx context.Context, accountID uuid.UUID, decision ratelimit.Decision, ipAddress, userAgent string) error {
	s.logger.WarnContext(ctx, "mfa verification blocked",
		slog.String("account_id", accountID.String()),
		slog.Duration("retry_after", decision.RetryAfter))
	s.events.Record(ctx, &accountID, models.EventMFARateLimited, "too many failed second-factor attempts", ipAddress, userAgent,
		models.EventMetadata{"retry_after_seconds": int(decision.RetryAfter.Seconds())})
	return &LockedOutError{RetryAfter: decision.RetryAfter}
}

func (s *MFAService) verifyTOTP(ctx context.Context, accountID uuid.UUID, code, ipAddress, userAgent string) error {
	cred, err := s.mfa.GetCredential(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrMFANotEnabled
		}
		return models.ErrInternalServer
	}
	if !cred.Activated {
		return models.ErrMFANotEnabled
	}

	valid, err := s.validateTOTP(ctx, cred, code)
	if err != nil {
		return err
	}
	if !valid {
		s.events.Record(ctx, &accountID, models.EventMFAFailed, "invalid totp code", ipAddress, userAgent, nil)
		return models.ErrMFAInvalidCode
	}

	if err := s.mfa.MarkCredentialUsed(ctx, accountID, s.clk.Now()); err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.WarnContext(ctx, "failed to mark mfa credential used", slog.Any("error", err))
	}

	s.events.Record(ctx, &accountID, models.EventMFAVerified, "totp code verified", ipAddress, userAgent, nil)
	return nil
}

func (s *MFAService) verifyRecoveryCode(ctx context.Context, accountID uuid.UUID, code, ipAddress, userAgent string) error {
	err := s.mfa.ConsumeRecoveryCode(ctx, accountID, auth.HashRecoveryCode(code), s.clk.Now())
	if err != nil {
		if errors.Is(err, models.ErrMFAInvalidCode) {
			s.events.Record(ctx, &accountID, models.EventMFAFailed, "invalid recovery code", ipAddress, userAgent, nil)
			return models.ErrMFAInvalidCode
		}
		return models.ErrInternalServer
	}

	metadata := models.EventMetadata{}
	if remaining, err := s.mfa.CountUnusedRecoveryCodes(ctx, accountID); err == nil {
		metadata["remaining_codes"] = remaining
		if remaining <= lowRecoveryCodeThreshold {
			s.logger.WarnContext(ctx, "account low on recovery codes",
				slog.String("account_id", accountID.String()),
				slog.Int("remaining", remaining))
		}
	}

	s.events.Record(ctx, &accountID, models.EventRecoveryCodeUsed, "recovery code consumed", ipAddress, userAgent, metadata)
	return nil
}

// Disable removes the credential and all recovery codes after one last
// valid second factor.
func (s *MFAService) Disable(ctx context.Context, account *models.Account, kind, code, ipAddress, userAgent string) error {
	if !account.MFAEnabled {
		return models.ErrMFANotEnabled
	}

	if err := s.VerifyCode(ctx, account.ID, kind, code, ipAddress, userAgent); err != nil {
		return err
	}

	if err := s.mfa.DeleteCredential(ctx, account.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return models.ErrInternalServer
	}
	if err := s.mfa.DeleteRecoveryCodes(ctx, account.ID); err != nil {
		return models.ErrInternalServer
	}
	if err := s.accounts.SetMFAEnabled(ctx, account.ID, false); err != nil {
		return models.ErrInternalServer
	}

	s.events.Record(ctx, &account.ID, models.EventMFADisabled, "mfa disabled", ipAddress, userAgent, nil)
	return nil
}

// RegenerateRecoveryCodes replaces the full code set. Requires a valid
// second factor so a hijacked session can't silently mint codes.
func (s *MFAService) RegenerateRecoveryCodes(ctx context.Context, account *models.Account, kind, code, ipAddress, userAgent string) ([]string, error) {
	if !account.MFAEnabled {
		return nil, models.ErrMFANotEnabled
	}

	if err := s.VerifyCode(ctx, account.ID, kind, code, ipAddress, userAgent); err != nil {
		return nil, err
	}

	codes, err := s.totp.GenerateRecoveryCodes(s.recoveryCodeCount)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate recovery codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = auth.HashRecoveryCode(c)
	}
	if err := s.mfa.ReplaceRecoveryCodes(ctx, account.ID, hashes); err != nil {
		return nil, models.ErrInternalServer
	}

	s.events.Record(ctx, &account.ID, models.EventRecoveryCodesReset, "recovery codes regenerated", ipAddress, userAgent, nil)
	return codes, nil
}

func (s *MFAService) validateTOTP(ctx context.Context, cred *models.MFACredential, code string) (bool, error) {
	secret, err := s.totp.DecryptSecret(cred.SecretEncrypted, cred.SecretNonce)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to decrypt mfa secret", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	valid, err := s.totp.ValidateCode(secret, code, cred.LastUsedAt)
	if err != nil {
		return false, models.ErrInternalServer
	}
	return valid, nil
}
