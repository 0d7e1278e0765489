package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/orecrest/authcore/internal/clock"
	"github.com/orecrest/authcore/internal/models"
	"github.com/orecrest/authcore/internal/repositories"
)

// DeviceService tracks the devices an account logs in from and the
// trust decisions attached to them. Devices start untrusted; trust is
// granted explicitly and lets a matching device skip the second factor.
type DeviceService struct {
	devices repositories.DeviceRepository
	events  *SecurityEventService
	clk     clock.Clock
	logger  *slog.Logger
}

func NewDeviceService(devices repositories.DeviceRepository, events *SecurityEventService, clk clock.Clock, logger *slog.Logger) *DeviceService {
	return &DeviceService{devices: devices, events: events, clk: clk, logger: logger}
}

// ResolveForLogin matches a login fingerprint against the account's
// known devices, registering a new untrusted device on a miss. Returns
// the device and whether it was newly registered.
func (s *DeviceService) ResolveForLogin(ctx context.Context, accountID uuid.UUID, fp models.Fingerprint, userAgent string) (*models.Device, bool, error) {
	known, err := s.devices.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, false, models.ErrInternalServer
	}

	now := s.clk.Now()
	for i := range known {
		if known[i].Matches(fp) {
			device := &known[i]
			if err := s.devices.UpdateLastLogin(ctx, device.ID, now); err != nil && !errors.Is(err, models.ErrNotFound) {
				s.logger.WarnContext(ctx, "failed to update device last login", slog.Any("error", err))
			}
			device.LastLoginAt = now
			return device, false, nil
		}
	}

	device := &models.Device{
		AccountID:   accountID,
		Browser:     fp.Browser,
		OS:          fp.OS,
		DeviceClass: fp.DeviceClass,
		IPAddress:   fp.IPAddress,
		Trusted:     false,
		LastLoginAt: now,
	}
	if err := s.devices.Create(ctx, device); err != nil {
		return nil, false, models.ErrInternalServer
	}

	s.events.Record(ctx, &accountID, models.EventDeviceRegistered, "new device registered", fp.IPAddress, userAgent,
		models.EventMetadata{
			"device_id":    device.ID.String(),
			"browser":      device.Browser,
			"os":           device.OS,
			"device_class": device.DeviceClass,
		})

	return device, true, nil
}

// List returns the account's known devices.
func (s *DeviceService) List(ctx context.Context, accountID uuid.UUID) ([]models.Device, error) {
	devices, err := s.devices.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, models.ErrInternalServer
	}
	return devices, nil
}

// SetTrust grants or withdraws trust on a device the account owns.
func (s *DeviceService) SetTrust(ctx context.Context, accountID, deviceID uuid.UUID, trusted bool, ipAddress, userAgent string) error {
	device, err := s.ownedDevice(ctx, accountID, deviceID)
	if err != nil {
		return err
	}

	if device.Trusted == trusted {
		return nil
	}

	if err := s.devices.SetTrusted(ctx, deviceID, trusted); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return models.ErrInternalServer
	}

	eventType := models.EventDeviceTrusted
	description := "device marked trusted"
	if !trusted {
		eventType = models.EventDeviceUntrusted
		description = "device trust withdrawn"
	}
	s.events.Record(ctx, &accountID, eventType, description, ipAddress, userAgent,
		models.EventMetadata{"device_id": deviceID.String()})

	return nil
}

// Remove deletes a device the account owns. Sessions bound to the
// device go with it, so a stolen-device cleanup also ends its logins.
func (s *DeviceService) Remove(ctx context.Context, accountID, deviceID uuid.UUID, ipAddress, userAgent string) error {
	if _, err := s.ownedDevice(ctx, accountID, deviceID); err != nil {
		return err
	}

	if err := s.devices.Delete(ctx, deviceID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return models.ErrInternalServer
	}

	s.events.Record(ctx, &accountID, models.EventDeviceRemoved, "device removed", ipAddress, userAgent,
		models.EventMetadata{"device_id": deviceID.String()})

	return nil
}

func (s *DeviceService) ownedDevice(ctx context.Context, accountID, deviceID uuid.UUID) (*models.Device, error) {
	device, err := s.devices.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, models.ErrInternalServer
	}
	if device.AccountID != accountID {
		// Same response as a missing device.
		return nil, models.ErrNotFound
	}
	return device, nil
}
