package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/orecrest/authcore/internal/auth"
	"github.com/orecrest/authcore/internal/models"
	pkghttp "github.com/orecrest/authcore/pkg/http"
)

// DeviceServiceInterface defines the device management operations the
// handler depends on.
type DeviceServiceInterface interface {
	List(ctx context.Context, accountID uuid.UUID) ([]models.Device, error)
	SetTrust(ctx context.Context, accountID, deviceID uuid.UUID, trusted bool, ipAddress, userAgent string) error
	Remove(ctx context.Context, accountID, deviceID uuid.UUID, ipAddress, userAgent string) error
}

type DeviceHandler struct {
	devices  DeviceServiceInterface
	ipConfig *pkghttp.IPConfig
}

func NewDeviceHandler(devices DeviceServiceInterface, ipConfig *pkghttp.IPConfig) *DeviceHandler {
	return &DeviceHandler{devices: devices, ipConfig: ipConfig}
}

type DeviceResponse struct {
	ID          uuid.UUID `json:"id"`
	Browser     string    `json:"browser"`
	OS          string    `json:"os"`
	DeviceClass string    `json:"device_class"`
	IPAddress   string    `json:"ip_address"`
	Trusted     bool      `json:"trusted"`
	LastLoginAt time.Time `json:"last_login_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func toDeviceResponse(d models.Device) DeviceResponse {
	return DeviceResponse{
		ID:          d.ID,
		Browser:     d.Browser,
		OS:          d.OS,
		DeviceClass: d.DeviceClass,
		IPAddress:   d.IPAddress,
		Trusted:     d.Trusted,
		LastLoginAt: d.LastLoginAt,
		CreatedAt:   d.CreatedAt,
	}
}

// List handles GET /devices.
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r)
	if account == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	devices, err := h.devices.List(r.Context(), account.ID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	out := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDeviceResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

// Trust handles POST /devices/{deviceID}/trust.
func (h *DeviceHandler) Trust(w http.ResponseWriter, r *http.Request) {
	h.setTrust(w, r, true)
}

// Untrust handles POST /devices/{deviceID}/untrust.
func (h *DeviceHandler) Untrust(w http.ResponseWriter, r *http.Request) {
	h.setTrust(w, r, false)
}

func (h *DeviceHandler) setTrust(w http.ResponseWriter, r *http.Request, trusted bool) {
	account := auth.AccountFromContext(r)
	if account == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	deviceID, err := uuid.Parse(chi.URLParam(r, "deviceID"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid device ID")
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	err = h.devices.SetTrust(r.Context(), account.ID, deviceID, trusted, ipAddress, r.Header.Get("User-Agent"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Device not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Remove handles DELETE /devices/{deviceID}.
func (h *DeviceHandler) Remove(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r)
	if account == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	deviceID, err := uuid.Parse(chi.URLParam(r, "deviceID"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid device ID")
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	err = h.devices.Remove(r.Context(), account.ID, deviceID, ipAddress, r.Header.Get("User-Agent"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Device not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
