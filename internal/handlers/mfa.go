package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/orecrest/authcore/internal/auth"
	"github.com/orecrest/authcore/internal/models"
	"github.com/orecrest/authcore/internal/services"
	pkghttp "github.com/orecrest/authcore/pkg/http"
)

// MFAServiceInterface defines the enrollment and factor-management
// operations the handler depends on.
type MFAServiceInterface interface {
	BeginEnrollment(ctx context.Context, account *models.Account) (*models.MFASetup, error)
	ActivateEnrollment(ctx context.Context, account *models.Account, code, ipAddress, userAgent string) error
	Disable(ctx context.Context, account *models.Account, kind, code, ipAddress, userAgent string) error
	RegenerateRecoveryCodes(ctx context.Context, account *models.Account, kind, code, ipAddress, userAgent string) ([]string, error)
}

type MFAHandler struct {
	mfa      MFAServiceInterface
	ipConfig *pkghttp.IPConfig
}

func NewMFAHandler(mfa MFAServiceInterface, ipConfig *pkghttp.IPConfig) *MFAHandler {
	return &MFAHandler{mfa: mfa, ipConfig: ipConfig}
}

type MFAActivateRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// MFAFactorRequest carries a second factor proving the caller controls
// the account. Required for disabling MFA and rotating recovery codes.
type MFAFactorRequest struct {
	Kind string `json:"kind" validate:"required,oneof=totp recovery"`
	Code string `json:"code" validate:"required,min=6,max=8"`
}

type RecoveryCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

// Enroll handles POST /mfa/enroll: starts TOTP enrollment and returns
// the secret, QR code, and recovery codes. The factor stays inactive
// until the first code is confirmed.
func (h *MFAHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r)
	if account == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	setup, err := h.mfa.BeginEnrollment(r.Context(), account)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			pkghttp.WriteConflict(w, "MFA is already enabled")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, setup)
}

// Activate handles POST /mfa/activate: confirms enrollment with the
// first valid code.
func (h *MFAHandler) Activate(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r)
	if account == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req MFAActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	err := h.mfa.ActivateEnrollment(r.Context(), account, req.Code, ipAddress, r.Header.Get("User-Agent"))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrMFAInvalidCode):
			pkghttp.WriteUnauthorized(w, "Verification failed")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteBadRequest(w, "No enrollment in progress")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Disable handles POST /mfa/disable. A valid second factor is required
// so a hijacked session cannot silently weaken the account.
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r)
	if account == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	req, ok := h.decodeFactorRequest(w, r)
	if !ok {
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	err := h.mfa.Disable(r.Context(), account, req.Kind, req.Code, ipAddress, r.Header.Get("User-Agent"))
	if err != nil {
		h.writeFactorError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RegenerateRecoveryCodes handles POST /mfa/recovery-codes: replaces
// the recovery code set and returns the new codes once.
func (h *MFAHandler) RegenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r)
	if account == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	req, ok := h.decodeFactorRequest(w, r)
	if !ok {
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	codes, err := h.mfa.RegenerateRecoveryCodes(r.Context(), account, req.Kind, req.Code, ipAddress, r.Header.Get("User-Agent"))
	if err != nil {
		h.writeFactorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RecoveryCodesResponse{RecoveryCodes: codes})
}

func (h *MFAHandler) decodeFactorRequest(w http.ResponseWriter, r *http.Request) (MFAFactorRequest, bool) {
	var req MFAFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return req, false
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return req, false
	}
	return req, true
}

func (h *MFAHandler) writeFactorError(w http.ResponseWriter, err error) {
	var locked *services.LockedOutError
	switch {
	case errors.As(err, &locked):
		pkghttp.WriteRateLimited(w, "Too many failed verification attempts. Please try again later.", locked.RetryAfter)
	case errors.Is(err, models.ErrMFAInvalidCode):
		pkghttp.WriteUnauthorized(w, "Verification failed")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Unsupported factor kind")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteBadRequest(w, "MFA is not enabled")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
