package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orecrest/authcore/internal/models"
	"github.com/orecrest/authcore/internal/repositories"
)

// MockAccountRepository implements repositories.AccountRepository for testing
type MockAccountRepository struct {
	CreateFunc          func(ctx context.Context, account *models.Account) error
	GetByIDFunc         func(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByEmailFunc      func(ctx context.Context, email string) (*models.Account, error)
	UpdateLastLoginFunc func(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePasswordFunc  func(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetMFAEnabledFunc   func(ctx context.Context, id uuid.UUID, enabled bool) error
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.Account) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, account)
	}
	return nil
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	if m.UpdateLastLoginFunc != nil {
		return m.UpdateLastLoginFunc(ctx, id, at)
	}
	return nil
}

func (m *MockAccountRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockAccountRepository) SetMFAEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	if m.SetMFAEnabledFunc != nil {
		return m.SetMFAEnabledFunc(ctx, id, enabled)
	}
	return nil
}

// MockSessionRepository implements repositories.SessionRepository with an
// in-memory map so lifecycle tests exercise real state transitions.
type MockSessionRepository struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session

	CreateErr error
}

func NewMockSessionRepository() *MockSessionRepository {
	return &MockSessionRepository{sessions: make(map[uuid.UUID]*models.Session)}
}

func (m *MockSessionRepository) Create(ctx context.Context, session *models.Session) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	session.ID = uuid.New()
	saved := *session
	m.sessions[session.ID] = &saved
	return nil
}

func (m *MockSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (m *MockSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		if session.TokenHash == tokenHash {
			copied := *session
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, session := range m.sessions {
		if session.AccountID == accountID {
			out = append(out, *session)
		}
	}
	return out, nil
}

func (m *MockSessionRepository) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return models.ErrNotFound
	}
	session.LastActiveAt = at
	return nil
}

func (m *MockSessionRepository) ClearMFAPending(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok || !session.MFAPending {
		return models.ErrNotFound
	}
	session.MFAPending = false
	return nil
}

func (m *MockSessionRepository) AttachDevice(ctx context.Context, id, deviceID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return models.ErrNotFound
	}
	session.DeviceID = &deviceID
	return nil
}

func (m *MockSessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return models.ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *MockSessionRepository) DeleteByAccountID(ctx context.Context, accountID uuid.UUID, keep *uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, session := range m.sessions {
		if session.AccountID != accountID {
			continue
		}
		if keep != nil && id == *keep {
			continue
		}
		delete(m.sessions, id)
		deleted++
	}
	return deleted, nil
}

func (m *MockSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, session := range m.sessions {
		if !session.ExpiresAt.After(now) {
			delete(m.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MockSessionRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// MockDeviceRepository implements repositories.DeviceRepository in memory.
type MockDeviceRepository struct {
	mu      sync.Mutex
	devices map[uuid.UUID]*models.Device

	CreateErr error
	ListErr   error
}

func NewMockDeviceRepository() *MockDeviceRepository {
	return &MockDeviceRepository{devices: make(map[uuid.UUID]*models.Device)}
}

func (m *MockDeviceRepository) Create(ctx context.Context, device *models.Device) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	device.ID = uuid.New()
	device.CreatedAt = device.LastLoginAt
	saved := *device
	m.devices[device.ID] = &saved
	return nil
}

func (m *MockDeviceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, ok := m.devices[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *device
	return &copied, nil
}

func (m *MockDeviceRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID) ([]models.Device, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Device
	for _, device := range m.devices {
		if device.AccountID == accountID {
			out = append(out, *device)
		}
	}
	return out, nil
}

func (m *MockDeviceRepository) SetTrusted(ctx context.Context, id uuid.UUID, trusted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, ok := m.devices[id]
	if !ok {
		return models.ErrNotFound
	}
	device.Trusted = trusted
	return nil
}

func (m *MockDeviceRepository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, ok := m.devices[id]
	if !ok {
		return models.ErrNotFound
	}
	device.LastLoginAt = at
	return nil
}

func (m *MockDeviceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[id]; !ok {
		return models.ErrNotFound
	}
	delete(m.devices, id)
	return nil
}

// MockMFARepository implements repositories.MFARepository in memory.
type MockMFARepository struct {
	mu         sync.Mutex
	credential *models.MFACredential
	codes      map[string]*models.RecoveryCode
}

func NewMockMFARepository() *MockMFARepository {
	return &MockMFARepository{codes: make(map[string]*models.RecoveryCode)}
}

func (m *MockMFARepository) UpsertCredential(ctx context.Context, cred *models.MFACredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := *cred
	saved.Activated = false
	saved.LastUsedAt = nil
	m.credential = &saved
	return nil
}

func (m *MockMFARepository) GetCredential(ctx context.Context, accountID uuid.UUID) (*models.MFACredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.credential == nil || m.credential.AccountID != accountID {
		return nil, models.ErrNotFound
	}
	copied := *m.credential
	return &copied, nil
}

func (m *MockMFARepository) ActivateCredential(ctx context.Context, accountID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.credential == nil || m.credential.AccountID != accountID {
		return models.ErrNotFound
	}
	m.credential.Activated = true
	return nil
}

func (m *MockMFARepository) MarkCredentialUsed(ctx context.Context, accountID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.credential == nil || m.credential.AccountID != accountID {
		return models.ErrNotFound
	}
	m.credential.LastUsedAt = &at
	return nil
}

func (m *MockMFARepository) DeleteCredential(ctx context.Context, accountID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.credential == nil || m.credential.AccountID != accountID {
		return models.ErrNotFound
	}
	m.credential = nil
	return nil
}

func (m *MockMFARepository) ReplaceRecoveryCodes(ctx context.Context, accountID uuid.UUID, codeHashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = make(map[string]*models.RecoveryCode)
	for _, hash := range codeHashes {
		m.codes[hash] = &models.RecoveryCode{
			ID:        uuid.New(),
			AccountID: accountID,
			CodeHash:  hash,
		}
	}
	return nil
}

func (m *MockMFARepository) ConsumeRecoveryCode(ctx context.Context, accountID uuid.UUID, codeHash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes[codeHash]
	if !ok || code.AccountID != accountID || code.Used {
		return models.ErrMFAInvalidCode
	}
	code.Used = true
	code.UsedAt = &at
	return nil
}

func (m *MockMFARepository) CountUnusedRecoveryCodes(ctx context.Context, accountID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, code := range m.codes {
		if code.AccountID == accountID && !code.Used {
			count++
		}
	}
	return count, nil
}

func (m *MockMFARepository) DeleteRecoveryCodes(ctx context.Context, accountID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, code := range m.codes {
		if code.AccountID == accountID {
			delete(m.codes, hash)
		}
	}
	return nil
}

// MockSecurityEventRepository records events in memory.
type MockSecurityEventRepository struct {
	mu     sync.Mutex
	Events []models.SecurityEvent

	CreateErr error
}

func (m *MockSecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = uuid.New()
	m.Events = append(m.Events, *event)
	return nil
}

func (m *MockSecurityEventRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID, filter repositories.EventFilter) ([]models.SecurityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SecurityEvent
	for _, event := range m.Events {
		if event.AccountID != nil && *event.AccountID == accountID {
			if filter.EventType != "" && event.EventType != filter.EventType {
				continue
			}
			out = append(out, event)
		}
	}
	return out, nil
}

func (m *MockSecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// Types returns the recorded event types in order.
func (m *MockSecurityEventRepository) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Events))
	for i, event := range m.Events {
		out[i] = event.EventType
	}
	return out
}

// MockEmailService records notifications instead of sending them.
type MockEmailService struct {
	mu            sync.Mutex
	NewDeviceSent int
	LockoutSent   int
}

func (m *MockEmailService) SendNewDeviceAlert(ctx context.Context, email string, device *models.Device, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NewDeviceSent++
	return nil
}

func (m *MockEmailService) SendLockoutAlert(ctx context.Context, email string, retryAfter time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LockoutSent++
	return nil
}
