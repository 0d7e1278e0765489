package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/orecrest/authcore/internal/auth"
	"github.com/orecrest/authcore/internal/clock"
	"github.com/orecrest/authcore/internal/devices"
	"github.com/orecrest/authcore/internal/models"
	"github.com/orecrest/authcore/internal/ratelimit"
	"github.com/orecrest/authcore/internal/repositories"
	pkgauth "github.com/orecrest/authcore/pkg/auth"
	pkglogger "github.com/orecrest/authcore/pkg/logger"
)

// LockedOutError carries the wait hint for a rate-limited login or
// second-factor attempt. It unwraps to ErrRateLimitExceeded for
// sentinel matching.
type LockedOutError struct {
	RetryAfter time.Duration
}

func (e *LockedOutError) Error() string { return "too many attempts" }
func (e *LockedOutError) Unwrap() error { return models.ErrRateLimitExceeded }

// Login statuses returned to the handler.
const (
	LoginStatusOK          = "ok"
	LoginStatusMFARequired = "mfa_required"
)

// LoginInput is one login attempt with its request metadata.
type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
	IPAddress  string
	UserAgent  string
}

// LoginResult is a successful (or MFA-pending) login. SessionToken is
// the opaque bearer token; for an MFA-pending login it is inert until
// the challenge completes. ChallengeToken is set only when a second
// factor is still required.
type LoginResult struct {
	Status         string
	SessionToken   string
	ChallengeToken string
	Session        *models.Session
	Account        *models.Account
	NewDevice      bool
}

// LoginService runs the login pipeline: rate limit, credentials,
// verified status, device resolution, session issuance, MFA decision.
// Every rejection before the verified-status check looks identical to
// the client, and failures are padded to a uniform response time.
type LoginService struct {
	accounts repositories.AccountRepository
	sessions *SessionService
	devices  *DeviceService
	mfa      *MFAService
	events   *SecurityEventService
	email    EmailService

	throttle  *ratelimit.LoginThrottle
	challenge *auth.ChallengeManager
	timing    *auth.TimingDelay
	clk       clock.Clock
	logger    *slog.Logger
}

func NewLoginService(
	accounts repositories.AccountRepository,
	sessions *SessionService,
	deviceSvc *DeviceService,
	mfa *MFAService,
	events *SecurityEventService,
	email EmailService,
	throttle *ratelimit.LoginThrottle,
	challenge *auth.ChallengeManager,
	timing *auth.TimingDelay,
	clk clock.Clock,
	logger *slog.Logger,
) *LoginService {
	return &LoginService{
		accounts:  accounts,
		sessions:  sessions,
		devices:   deviceSvc,
		mfa:       mfa,
		events:    events,
		email:     email,
		throttle:  throttle,
		challenge: challenge,
		timing:    timing,
		clk:       clk,
		logger:    logger,
	}
}

// Login processes one attempt end to end.
func (s *LoginService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	start := time.Now()

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || input.Password == "" {
		s.timing.WaitFrom(start, false)
		return nil, models.ErrUnauthorized
	}

	// Rate limit gate. Both the IP and the account key must be clear.
	if check := s.throttle.Check(ctx, input.IPAddress, email); !check.Allowed {
		s.events.Record(ctx, nil, models.EventLoginRateLimited, "login attempt while rate limited",
			input.IPAddress, input.UserAgent,
			models.EventMetadata{"source": check.Source, "email": pkglogger.SanitizedEmail(email)})
		return nil, &LockedOutError{RetryAfter: check.RetryAfter}
	}

	// Credential check. An unknown account and a wrong password follow
	// the same path: count the failure, pad the response, answer with
	// the same generic rejection.
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, s.failCredentials(ctx, start, nil, email, input)
		}
		// Infrastructure failure: not the caller's fault, never counted
		// against the limiter.
		s.logger.ErrorContext(ctx, "account lookup failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !pkgauth.VerifyPassword(input.Password, account.PasswordHash) {
		return nil, s.failCredentials(ctx, start, account, email, input)
	}

	// Verified-status gate. Correct password, so the counters reset,
	// but an unverified account still can't log in.
	s.throttle.RecordSuccess(ctx, input.IPAddress, email)

	if !account.Verified {
		s.events.Record(ctx, &account.ID, models.EventLoginUnverified, "login rejected: account not verified",
			input.IPAddress, input.UserAgent, nil)
		s.timing.WaitFrom(start, false)
		return nil, models.ErrAccountUnverified
	}

	// Device resolution. A failure here degrades to "unknown device"
	// rather than blocking the login.
	fingerprint := devices.NewFingerprint(input.UserAgent, input.IPAddress)
	device, newDevice, err := s.devices.ResolveForLogin(ctx, account.ID, fingerprint, input.UserAgent)
	if err != nil {
		s.logger.WarnContext(ctx, "device resolution failed", slog.Any("error", err))
		device, newDevice = nil, false
	}

	var deviceID *uuid.UUID
	trustedDevice := false
	if device != nil {
		deviceID = &device.ID
		trustedDevice = device.Trusted
	}

	// MFA decision: enabled accounts need a second factor unless the
	// device is explicitly trusted.
	mfaPending := account.MFAEnabled && !trustedDevice

	session, token, err := s.sessions.Issue(ctx, account.ID, deviceID, mfaPending, input.RememberMe, input.IPAddress, input.UserAgent)
	if err != nil {
		return nil, models.ErrInternalServer
	}

	if newDevice && device != nil {
		s.notifyNewDevice(account, device)
	}

	if mfaPending {
		challengeToken, err := s.challenge.Issue(account.ID, session.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to issue mfa challenge", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}

		s.events.Record(ctx, &account.ID, models.EventLoginSuccess, "password accepted, second factor pending",
			input.IPAddress, input.UserAgent,
			models.EventMetadata{"mfa_required": true, "new_device": newDevice})

		return &LoginResult{
			Status:         LoginStatusMFARequired,
			SessionToken:   token,
			ChallengeToken: challengeToken,
			Session:        session,
			Account:        account,
			NewDevice:      newDevice,
		}, nil
	}

	s.completeLogin(ctx, account, input, newDevice)

	return &LoginResult{
		Status:       LoginStatusOK,
		SessionToken: token,
		Session:      session,
		Account:      account,
		NewDevice:    newDevice,
	}, nil
}

// VerifyMFA completes an MFA-pending login: the challenge token proves
// the password step, the code proves the second factor, and the
// pending session is promoted in place.
func (s *LoginService) VerifyMFA(ctx context.Context, challengeToken, kind, code, ipAddress, userAgent string) (*LoginResult, error) {
	start := time.Now()

	accountID, sessionID, err := s.challenge.Verify(challengeToken)
	if err != nil {
		s.timing.WaitFrom(start, false)
		return nil, models.ErrUnauthorized
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.timing.WaitFrom(start, false)
			return nil, models.ErrUnauthorized
		}
		return nil, models.ErrInternalServer
	}

	if err := s.mfa.VerifyCode(ctx, accountID, kind, code, ipAddress, userAgent); err != nil {
		if errors.Is(err, models.ErrMFAInvalidCode) || errors.Is(err, models.ErrMFANotEnabled) {
			s.timing.WaitFrom(start, false)
			return nil, models.ErrMFAInvalidCode
		}
		return nil, err
	}

	if err := s.sessions.Promote(ctx, sessionID); err != nil {
		return nil, err
	}

	input := LoginInput{IPAddress: ipAddress, UserAgent: userAgent}
	s.completeLogin(ctx, account, input, false)

	session, err := s.sessions.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, models.ErrInternalServer
	}

	return &LoginResult{
		Status:  LoginStatusOK,
		Session: session,
		Account: account,
	}, nil
}

// ChangePassword verifies the current password before accepting a new
// one, then revokes every other session.
func (s *LoginService) ChangePassword(ctx context.Context, account *models.Account, currentSessionID uuid.UUID, currentPassword, newPassword, ipAddress, userAgent string) error {
	if !pkgauth.VerifyPassword(currentPassword, account.PasswordHash) {
		return models.ErrUnauthorized
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
		return models.ErrInternalServer
	}

	// A changed password invalidates every other session.
	if _, err := s.sessions.RevokeAll(ctx, account.ID, &currentSessionID, ipAddress, userAgent); err != nil {
		s.logger.WarnContext(ctx, "failed to revoke sessions after password change", slog.Any("error", err))
	}

	s.events.Record(ctx, &account.ID, models.EventPasswordChanged, "password changed", ipAddress, userAgent, nil)
	return nil
}

// failCredentials is the shared rejection path for unknown accounts and
// wrong passwords.
func (s *LoginService) failCredentials(ctx context.Context, start time.Time, account *models.Account, email string, input LoginInput) error {
	result := s.throttle.RecordFailure(ctx, input.IPAddress, email)

	var accountID *uuid.UUID
	if account != nil {
		accountID = &account.ID
	}
	s.events.Record(ctx, accountID, models.EventLoginFailed, "invalid credentials",
		input.IPAddress, input.UserAgent,
		models.EventMetadata{"email": pkglogger.SanitizedEmail(email)})

	// This failure tripped a lockout: tell the account holder.
	if !result.Allowed {
		if account != nil {
			s.notifyLockout(account, result.RetryAfter)
		}
		s.events.Record(ctx, accountID, models.EventLoginRateLimited, "account locked out",
			input.IPAddress, input.UserAgent,
			models.EventMetadata{"source": result.Source, "retry_after_seconds": int(result.RetryAfter.Seconds())})

		s.timing.WaitFrom(start, false)
		return &LockedOutError{RetryAfter: result.RetryAfter}
	}

	s.timing.WaitFrom(start, false)
	return models.ErrUnauthorized
}

func (s *LoginService) completeLogin(ctx context.Context, account *models.Account, input LoginInput, newDevice bool) {
	now := s.clk.Now()
	if err := s.accounts.UpdateLastLogin(ctx, account.ID, now); err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.WarnContext(ctx, "failed to update last login", slog.Any("error", err))
	}

	s.events.Record(ctx, &account.ID, models.EventLoginSuccess, "login successful",
		input.IPAddress, input.UserAgent,
		models.EventMetadata{"new_device": newDevice})
}

// Best-effort notifications, off the request path.

func (s *LoginService) notifyNewDevice(account *models.Account, device *models.Device) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.email.SendNewDeviceAlert(ctx, account.Email, device, s.clk.Now()); err != nil {
			s.logger.Warn("new device alert not sent", slog.Any("error", err))
		}
	}()
}

func (s *LoginService) notifyLockout(account *models.Account, retryAfter time.Duration) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.email.SendLockoutAlert(ctx, account.Email, retryAfter); err != nil {
			s.logger.Warn("lockout alert not sent", slog.Any("error", err))
		}
	}()
}
