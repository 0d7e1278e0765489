package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/orecrest/authcore/internal/auth"
	"github.com/orecrest/authcore/internal/models"
	"github.com/orecrest/authcore/internal/repositories"
	"github.com/orecrest/authcore/internal/services"
)

// Mock services for handler tests. Each method delegates to an
// overridable function field.

type MockLoginService struct {
	LoginFunc          func(ctx context.Context, input services.LoginInput) (*services.LoginResult, error)
	VerifyMFAFunc      func(ctx context.Context, challengeToken, kind, code, ipAddress, userAgent string) (*services.LoginResult, error)
	ChangePasswordFunc func(ctx context.Context, account *models.Account, currentSessionID uuid.UUID, currentPassword, newPassword, ipAddress, userAgent string) error
}

func (m *MockLoginService) Login(ctx context.Context, input services.LoginInput) (*services.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, input)
	}
	return nil, models.ErrUnauthorized
}

func (m *MockLoginService) VerifyMFA(ctx context.Context, challengeToken, kind, code, ipAddress, userAgent string) (*services.LoginResult, error) {
	if m.VerifyMFAFunc != nil {
		return m.VerifyMFAFunc(ctx, challengeToken, kind, code, ipAddress, userAgent)
	}
	return nil, models.ErrUnauthorized
}

func (m *MockLoginService) ChangePassword(ctx context.Context, account *models.Account, currentSessionID uuid.UUID, currentPassword, newPassword, ipAddress, userAgent string) error {
	if m.ChangePasswordFunc != nil {
		return m.ChangePasswordFunc(ctx, account, currentSessionID, currentPassword, newPassword, ipAddress, userAgent)
	}
	return nil
}

type MockSessionService struct {
	ListFunc      func(ctx context.Context, accountID uuid.UUID) ([]models.Session, error)
	RevokeFunc    func(ctx context.Context, accountID, sessionID uuid.UUID, ipAddress, userAgent string) error
	RevokeAllFunc func(ctx context.Context, accountID uuid.UUID, keep *uuid.UUID, ipAddress, userAgent string) (int64, error)
}

func (m *MockSessionService) List(ctx context.Context, accountID uuid.UUID) ([]models.Session, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, accountID)
	}
	return nil, nil
}

func (m *MockSessionService) Revoke(ctx context.Context, accountID, sessionID uuid.UUID, ipAddress, userAgent string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, accountID, sessionID, ipAddress, userAgent)
	}
	return nil
}

func (m *MockSessionService) RevokeAll(ctx context.Context, accountID uuid.UUID, keep *uuid.UUID, ipAddress, userAgent string) (int64, error) {
	if m.RevokeAllFunc != nil {
		return m.RevokeAllFunc(ctx, accountID, keep, ipAddress, userAgent)
	}
	return 0, nil
}

type MockMFAService struct {
	BeginEnrollmentFunc         func(ctx context.Context, account *models.Account) (*models.MFASetup, error)
	ActivateEnrollmentFunc      func(ctx context.Context, account *models.Account, code, ipAddress, userAgent string) error
	DisableFunc                 func(ctx context.Context, account *models.Account, kind, code, ipAddress, userAgent string) error
	RegenerateRecoveryCodesFunc func(ctx context.Context, account *models.Account, kind, code, ipAddress, userAgent string) ([]string, error)
}

func (m *MockMFAService) BeginEnrollment(ctx context.Context, account *models.Account) (*models.MFASetup, error) {
	if m.BeginEnrollmentFunc != nil {
		return m.BeginEnrollmentFunc(ctx, account)
	}
	return nil, models.ErrNotFound
}

func (m *MockMFAService) ActivateEnrollment(ctx context.Context, account *models.Account, code, ipAddress, userAgent string) error {
	if m.ActivateEnrollmentFunc != nil {
		return m.ActivateEnrollmentFunc(ctx, account, code, ipAddress, userAgent)
	}
	return models.ErrNotFound
}

func (m *MockMFAService) Disable(ctx context.Context, account *models.Account, kind, code, ipAddress, userAgent string) error {
	if m.DisableFunc != nil {
		return m.DisableFunc(ctx, account, kind, code, ipAddress, userAgent)
	}
	return models.ErrNotFound
}

func (m *MockMFAService) RegenerateRecoveryCodes(ctx context.Context, account *models.Account, kind, code, ipAddress, userAgent string) ([]string, error) {
	if m.RegenerateRecoveryCodesFunc != nil {
		return m.RegenerateRecoveryCodesFunc(ctx, account, kind, code, ipAddress, userAgent)
	}
	return nil, models.ErrNotFound
}

type MockDeviceService struct {
	ListFunc     func(ctx context.Context, accountID uuid.UUID) ([]models.Device, error)
	SetTrustFunc func(ctx context.Context, accountID, deviceID uuid.UUID, trusted bool, ipAddress, userAgent string) error
	RemoveFunc   func(ctx context.Context, accountID, deviceID uuid.UUID, ipAddress, userAgent string) error
}

func (m *MockDeviceService) List(ctx context.Context, accountID uuid.UUID) ([]models.Device, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, accountID)
	}
	return nil, nil
}

func (m *MockDeviceService) SetTrust(ctx context.Context, accountID, deviceID uuid.UUID, trusted bool, ipAddress, userAgent string) error {
	if m.SetTrustFunc != nil {
		return m.SetTrustFunc(ctx, accountID, deviceID, trusted, ipAddress, userAgent)
	}
	return models.ErrNotFound
}

func (m *MockDeviceService) Remove(ctx context.Context, accountID, deviceID uuid.UUID, ipAddress, userAgent string) error {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, accountID, deviceID, ipAddress, userAgent)
	}
	return models.ErrNotFound
}

type MockEventReader struct {
	HistoryFunc func(ctx context.Context, accountID uuid.UUID, filter repositories.EventFilter) ([]models.SecurityEvent, error)
}

func (m *MockEventReader) History(ctx context.Context, accountID uuid.UUID, filter repositories.EventFilter) ([]models.SecurityEvent, error) {
	if m.HistoryFunc != nil {
		return m.HistoryFunc(ctx, accountID, filter)
	}
	return nil, nil
}

// withAuthContext attaches an authenticated session and account the way
// the session middleware would.
func withAuthContext(r *http.Request, session *models.Session, account *models.Account) *http.Request {
	ctx := context.WithValue(r.Context(), auth.SessionContextKey, session)
	ctx = context.WithValue(ctx, auth.AccountContextKey, account)
	return r.WithContext(ctx)
}
