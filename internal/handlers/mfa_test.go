package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/orecrest/authcore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMFAEnroll_ReturnsSetupMaterial(t *testing.T) {
	account := accountFixture()
	session := sessionFixture(account.ID)

	mfa := &MockMFAService{
		BeginEnrollmentFunc: func(ctx context.Context, a *models.Account) (*models.MFASetup, error) {
			assert.Equal(t, account.ID, a.ID)
			return &models.MFASetup{
				Secret:        "JBSWY3DPEHPK3PXP",
				QRCode:        "data:image/png;base64,xxxx",
				RecoveryCodes: []string{"ABCD2345", "EFGH6789"},
			}, nil
		},
	}
	handler := NewMFAHandler(mfa, nil)

	req := httptest.NewRequest(http.MethodPost, "/mfa/enroll", nil)
	req = withAuthContext(req, session, account)
	rec := httptest.NewRecorder()
	handler.Enroll(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var setup models.MFASetup
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&setup))
	assert.Equal(t, "JBSWY3DPEHPK3PXP", setup.Secret)
	assert.Len(t, setup.RecoveryCodes, 2)
}

func TestMFAEnroll_AlreadyEnabled(t *testing.T) {
	account := accountFixture()
	session := sessionFixture(account.ID)

	mfa := &MockMFAService{
		BeginEnrollmentFunc: func(ctx context.Context, a *models.Account) (*models.MFASetup, error) {
			return nil, models.ErrConflict
		},
	}
	handler := NewMFAHandler(mfa, nil)

	req := httptest.NewRequest(http.MethodPost, "/mfa/enroll", nil)
	req = withAuthContext(req, session, account)
	rec := httptest.NewRecorder()
	handler.Enroll(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMFAActivate_WrongCode(t *testing.T) {
	account := accountFixture()
	session := sessionFixture(account.ID)

	mfa := &MockMFAService{
		ActivateEnrollmentFunc: func(ctx context.Context, a *models.Account, code, ip, ua string) error {
			return models.ErrMFAInvalidCode
		},
	}
	handler := NewMFAHandler(mfa, nil)

	req := postJSON(t, "/mfa/activate", MFAActivateRequest{Code: "000000"})
	req = withAuthContext(req, session, account)
	rec := httptest.NewRecorder()
	handler.Activate(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMFAActivate_CodeLengthValidated(t *testing.T) {
	account := accountFixture()
	session := sessionFixture(account.ID)
	handler := NewMFAHandler(&MockMFAService{}, nil)

	req := postJSON(t, "/mfa/activate", MFAActivateRequest{Code: "1234"})
	req = withAuthContext(req, session, account)
	rec := httptest.NewRecorder()
	handler.Activate(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMFADisable_RequiresValidFactor(t *testing.T) {
	account := accountFixture()
	session := sessionFixture(account.ID)

	mfa := &MockMFAService{
		DisableFunc: func(ctx context.Context, a *models.Account, kind, code, ip, ua string) error {
			return models.ErrMFAInvalidCode
		},
	}
	handler := NewMFAHandler(mfa, nil)

	req := postJSON(t, "/mfa/disable", MFAFactorRequest{Kind: "totp", Code: "000000"})
	req = withAuthContext(req, session, account)
	rec := httptest.NewRecorder()
	handler.Disable(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMFADisable_Success(t *testing.T) {
	account := accountFixture()
	session := sessionFixture(account.ID)

	var gotKind string
	mfa := &MockMFAService{
		DisableFunc: func(ctx context.Context, a *models.Account, kind, code, ip, ua string) error {
			gotKind = kind
			return nil
		},
	}
	handler := NewMFAHandler(mfa, nil)

	req := postJSON(t, "/mfa/disable", MFAFactorRequest{Kind: "recovery", Code: "ABCD2345"})
	req = withAuthContext(req, session, account)
	rec := httptest.NewRecorder()
	handler.Disable(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "recovery", gotKind)
}

func TestMFARegenerateRecoveryCodes(t *testing.T) {
	account := accountFixture()
	session := sessionFixture(account.ID)

	mfa := &MockMFAService{
		RegenerateRecoveryCodesFunc: func(ctx context.Context, a *models.Account, kind, code, ip, ua string) ([]string, error) {
			return []string{"NEWC2345", "NEWD6789"}, nil
		},
	}
	handler := NewMFAHandler(mfa, nil)

	req := postJSON(t, "/mfa/recovery-codes", MFAFactorRequest{Kind: "totp", Code: "123456"})
	req = withAuthContext(req, session, account)
	rec := httptest.NewRecorder()
	handler.RegenerateRecoveryCodes(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp RecoveryCodesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []string{"NEWC2345", "NEWD6789"}, resp.RecoveryCodes)
}
