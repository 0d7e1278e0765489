package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orecrest/authcore/internal/auth"
	"github.com/orecrest/authcore/internal/clock"
	"github.com/orecrest/authcore/internal/models"
	"github.com/orecrest/authcore/internal/ratelimit"
	pkgauth "github.com/orecrest/authcore/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "Tr0ub4dor&3-horse"

type loginFixture struct {
	svc         *LoginService
	mfaSvc      *MFAService
	sessionSvc  *SessionService
	account     *models.Account
	accounts    *MockAccountRepository
	sessionRepo *MockSessionRepository
	deviceRepo  *MockDeviceRepository
	eventRepo   *MockSecurityEventRepository
	email       *MockEmailService
	clk         *clock.Fake
}

func newLoginFixture(t *testing.T) *loginFixture {
	t.Helper()

	hash, err := pkgauth.HashPassword(testPassword)
	require.NoError(t, err)

	account := &models.Account{
		ID:           uuid.New(),
		Email:        "alice@example.com",
		PasswordHash: hash,
		Verified:     true,
		Role:         "user",
	}

	accounts := &MockAccountRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.Account, error) {
			if email == account.Email {
				return account, nil
			}
			return nil, models.ErrNotFound
		},
		GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*models.Account, error) {
			if id == account.ID {
				return account, nil
			}
			return nil, models.ErrNotFound
		},
	}

	clk := clock.NewFake(time.Now())
	sessionRepo := NewMockSessionRepository()
	deviceRepo := NewMockDeviceRepository()
	mfaRepo := NewMockMFARepository()
	eventRepo := &MockSecurityEventRepository{}
	email := &MockEmailService{}

	logger := testLogger()
	events := NewSecurityEventService(eventRepo, logger)
	sessionSvc := NewSessionService(sessionRepo, accounts, events, clk, logger, time.Hour, 30*24*time.Hour)
	deviceSvc := NewDeviceService(deviceRepo, events, clk, logger)

	tm, err := auth.NewTOTPManager([]byte("0123456789abcdef0123456789abcdef"), "OreCrest", clk)
	require.NoError(t, err)

	limiterConfig := ratelimit.Config{
		Window:      15 * time.Minute,
		MaxAttempts: 5,
		BaseBlock:   15 * time.Minute,
		BackoffCap:  3,
	}
	mfaAttempts := ratelimit.NewMemoryStore(limiterConfig, clk)
	mfaSvc := NewMFAService(mfaRepo, accounts, events, tm, mfaAttempts, clk, logger, 10)

	throttle := ratelimit.NewLoginThrottle(
		ratelimit.NewMemoryStore(limiterConfig, clk),
		ratelimit.NewMemoryStore(limiterConfig, clk),
	)

	challenge := auth.NewChallengeManager("login-test-secret-32-characters!", 5*time.Minute)
	timing := auth.NewTimingDelay(0, 0)

	svc := NewLoginService(accounts, sessionSvc, deviceSvc, mfaSvc, events, email, throttle, challenge, timing, clk, logger)

	return &loginFixture{
		svc:         svc,
		mfaSvc:      mfaSvc,
		sessionSvc:  sessionSvc,
		account:     account,
		accounts:    accounts,
		sessionRepo: sessionRepo,
		deviceRepo:  deviceRepo,
		eventRepo:   eventRepo,
		email:       email,
		clk:         clk,
	}
}

func (f *loginFixture) loginInput() LoginInput {
	return LoginInput{
		Email:     f.account.Email,
		Password:  testPassword,
		IPAddress: "203.0.113.10",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0.0.0 Safari/537.36",
	}
}

func TestLoginService_Success(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()

	result, err := f.svc.Login(ctx, f.loginInput())
	require.NoError(t, err)

	assert.Equal(t, LoginStatusOK, result.Status)
	assert.NotEmpty(t, result.SessionToken)
	assert.True(t, result.NewDevice)
	assert.False(t, result.Session.MFAPending)

	// The issued token resolves to a live session.
	session, account, err := f.sessionSvc.Resolve(ctx, result.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, f.account.ID, account.ID)
	assert.NotNil(t, session.DeviceID)

	assert.Contains(t, f.eventRepo.Types(), models.EventLoginSuccess)
}

func TestLoginService_UnknownAccountAndWrongPasswordLookAlike(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()

	unknown := f.loginInput()
	unknown.Email = "nobody@example.com"
	_, errUnknown := f.svc.Login(ctx, unknown)

	wrongPassword := f.loginInput()
	wrongPassword.Password = "not-the-password"
	_, errWrong := f.svc.Login(ctx, wrongPassword)

	assert.ErrorIs(t, errUnknown, models.ErrUnauthorized)
	assert.ErrorIs(t, errWrong, models.ErrUnauthorized)
	assert.Equal(t, errUnknown, errWrong)
}

func TestLoginService_LockoutAfterRepeatedFailures(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()

	input := f.loginInput()
	input.Password = "not-the-password"

	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = f.svc.Login(ctx, input)
	}

	var locked *LockedOutError
	require.ErrorAs(t, lastErr, &locked)
	assert.Equal(t, 15*time.Minute, locked.RetryAfter)
	assert.ErrorIs(t, lastErr, models.ErrRateLimitExceeded)

	// The correct password is rejected too while the block holds.
	_, err := f.svc.Login(ctx, f.loginInput())
	assert.ErrorIs(t, err, models.ErrRateLimitExceeded)

	// The account holder is told about the lockout.
	assert.Eventually(t, func() bool {
		f.email.mu.Lock()
		defer f.email.mu.Unlock()
		return f.email.LockoutSent == 1
	}, time.Second, 10*time.Millisecond)
}

func TestLoginService_BlockLiftsAfterWait(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()

	input := f.loginInput()
	input.Password = "not-the-password"
	for i := 0; i < 5; i++ {
		f.svc.Login(ctx, input)
	}

	f.clk.Advance(16 * time.Minute)

	result, err := f.svc.Login(ctx, f.loginInput())
	require.NoError(t, err)
	assert.Equal(t, LoginStatusOK, result.Status)
}

func TestLoginService_SuccessResetsCounters(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()

	input := f.loginInput()
	input.Password = "not-the-password"
	for i := 0; i < 4; i++ {
		f.svc.Login(ctx, input)
	}

	_, err := f.svc.Login(ctx, f.loginInput())
	require.NoError(t, err)

	// Budget is back to full: four more failures don't lock.
	for i := 0; i < 4; i++ {
		_, err = f.svc.Login(ctx, input)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	}
}

func TestLoginService_UnverifiedAccount(t *testing.T) {
	f := newLoginFixture(t)
	f.account.Verified = false

	_, err := f.svc.Login(context.Background(), f.loginInput())
	assert.ErrorIs(t, err, models.ErrAccountUnverified)
	assert.Contains(t, f.eventRepo.Types(), models.EventLoginUnverified)
	// No session was created.
	assert.Equal(t, 0, f.sessionRepo.Len())
}

func TestLoginService_NewDeviceTriggersAlert(t *testing.T) {
	f := newLoginFixture(t)

	_, err := f.svc.Login(context.Background(), f.loginInput())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		f.email.mu.Lock()
		defer f.email.mu.Unlock()
		return f.email.NewDeviceSent == 1
	}, time.Second, 10*time.Millisecond)
}

func TestLoginService_ReturningDeviceNoAlert(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, f.loginInput())
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, f.loginInput())
	require.NoError(t, err)

	// Only the first login was a new device.
	assert.Eventually(t, func() bool {
		f.email.mu.Lock()
		defer f.email.mu.Unlock()
		return f.email.NewDeviceSent == 1
	}, time.Second, 10*time.Millisecond)
}

func enableMFA(t *testing.T, f *loginFixture) *models.MFASetup {
	t.Helper()

	setup, err := f.mfaSvc.BeginEnrollment(context.Background(), f.account)
	require.NoError(t, err)
	require.NoError(t, f.mfaSvc.ActivateEnrollment(context.Background(), f.account, currentCode(t, setup.Secret), "203.0.113.10", "test-agent"))
	f.account.MFAEnabled = true
	return setup
}

func TestLoginService_MFARequiredOnUntrustedDevice(t *testing.T) {
	f := newLoginFixture(t)
	setup := enableMFA(t, f)
	ctx := context.Background()

	result, err := f.svc.Login(ctx, f.loginInput())
	require.NoError(t, err)

	assert.Equal(t, LoginStatusMFARequired, result.Status)
	assert.NotEmpty(t, result.ChallengeToken)
	assert.True(t, result.Session.MFAPending)

	// The pending session's token doesn't authenticate yet.
	session, _, err := f.sessionSvc.Resolve(ctx, result.SessionToken)
	require.NoError(t, err)
	assert.True(t, session.MFAPending)

	// Completing the challenge with a recovery code promotes it.
	verified, err := f.svc.VerifyMFA(ctx, result.ChallengeToken, models.MFAKindRecovery, setup.RecoveryCodes[0], "203.0.113.10", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, LoginStatusOK, verified.Status)
	assert.False(t, verified.Session.MFAPending)

	session, _, err = f.sessionSvc.Resolve(ctx, result.SessionToken)
	require.NoError(t, err)
	assert.False(t, session.MFAPending)
}

func TestLoginService_MFAWrongCodeLeavesSessionPending(t *testing.T) {
	f := newLoginFixture(t)
	enableMFA(t, f)
	ctx := context.Background()

	result, err := f.svc.Login(ctx, f.loginInput())
	require.NoError(t, err)

	_, err = f.svc.VerifyMFA(ctx, result.ChallengeToken, models.MFAKindRecovery, "WRONGCOD", "203.0.113.10", "test-agent")
	assert.ErrorIs(t, err, models.ErrMFAInvalidCode)

	session, _, err := f.sessionSvc.Resolve(ctx, result.SessionToken)
	require.NoError(t, err)
	assert.True(t, session.MFAPending)
}

func TestLoginService_MFABruteForceLockedOut(t *testing.T) {
	f := newLoginFixture(t)
	setup := enableMFA(t, f)
	ctx := context.Background()

	result, err := f.svc.Login(ctx, f.loginInput())
	require.NoError(t, err)
	require.Equal(t, LoginStatusMFARequired, result.Status)

	for i := 0; i < 4; i++ {
		_, err := f.svc.VerifyMFA(ctx, result.ChallengeToken, models.MFAKindRecovery, "WRONGCOD", "203.0.113.10", "test-agent")
		assert.ErrorIs(t, err, models.ErrMFAInvalidCode)
	}

	// Exhausting the budget locks the second factor for the account, so
	// an open challenge can't be ground through from fresh addresses.
	_, err = f.svc.VerifyMFA(ctx, result.ChallengeToken, models.MFAKindRecovery, "WRONGCOD", "203.0.113.10", "test-agent")
	var locked *LockedOutError
	require.ErrorAs(t, err, &locked)

	// A correct code is refused while the block holds and the session
	// stays pending.
	_, err = f.svc.VerifyMFA(ctx, result.ChallengeToken, models.MFAKindRecovery, setup.RecoveryCodes[0], "198.51.100.7", "test-agent")
	assert.ErrorAs(t, err, &locked)

	session, _, err := f.sessionSvc.Resolve(ctx, result.SessionToken)
	require.NoError(t, err)
	assert.True(t, session.MFAPending)
	assert.Contains(t, f.eventRepo.Types(), models.EventMFARateLimited)

	// After the block lapses the challenge can still complete.
	f.clk.Advance(16 * time.Minute)
	verified, err := f.svc.VerifyMFA(ctx, result.ChallengeToken, models.MFAKindRecovery, setup.RecoveryCodes[0], "203.0.113.10", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, LoginStatusOK, verified.Status)
}

func TestLoginService_MFAGarbageChallengeRejected(t *testing.T) {
	f := newLoginFixture(t)
	enableMFA(t, f)

	_, err := f.svc.VerifyMFA(context.Background(), "bogus.challenge.token", models.MFAKindTOTP, "123456", "203.0.113.10", "test-agent")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestLoginService_TrustedDeviceSkipsMFA(t *testing.T) {
	f := newLoginFixture(t)
	enableMFA(t, f)
	ctx := context.Background()

	// First login registers the device; trust it, then log in again.
	first, err := f.svc.Login(ctx, f.loginInput())
	require.NoError(t, err)
	require.Equal(t, LoginStatusMFARequired, first.Status)

	require.NotNil(t, first.Session.DeviceID)
	require.NoError(t, f.deviceRepo.SetTrusted(ctx, *first.Session.DeviceID, true))

	second, err := f.svc.Login(ctx, f.loginInput())
	require.NoError(t, err)
	assert.Equal(t, LoginStatusOK, second.Status)
	assert.Empty(t, second.ChallengeToken)
	assert.False(t, second.Session.MFAPending)
}

func TestLoginService_ChangePassword(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()

	result, err := f.svc.Login(ctx, f.loginInput())
	require.NoError(t, err)

	// A second session that should be revoked by the change.
	other, err := f.svc.Login(ctx, f.loginInput())
	require.NoError(t, err)

	err = f.svc.ChangePassword(ctx, f.account, result.Session.ID, "wrong-current", "NewSecret9-horse!", "203.0.113.10", "test-agent")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	var updatedHash string
	f.accounts.UpdatePasswordFunc = func(ctx context.Context, id uuid.UUID, passwordHash string) error {
		updatedHash = passwordHash
		return nil
	}

	err = f.svc.ChangePassword(ctx, f.account, result.Session.ID, testPassword, "NewSecret9-horse!", "203.0.113.10", "test-agent")
	require.NoError(t, err)
	assert.True(t, pkgauth.VerifyPassword("NewSecret9-horse!", updatedHash))

	// The other session is gone, the current one remains.
	_, err = f.sessionRepo.GetByID(ctx, other.Session.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	_, err = f.sessionRepo.GetByID(ctx, result.Session.ID)
	assert.NoError(t, err)

	assert.Contains(t, f.eventRepo.Types(), models.EventPasswordChanged)
}
