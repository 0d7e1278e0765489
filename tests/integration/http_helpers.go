package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/orecrest/authcore/internal/auth"
	"github.com/orecrest/authcore/internal/background"
	"github.com/orecrest/authcore/internal/clock"
	"github.com/orecrest/authcore/internal/config"
	"github.com/orecrest/authcore/internal/database"
	"github.com/orecrest/authcore/internal/handlers"
	middlewareCustom "github.com/orecrest/authcore/internal/middleware"
	"github.com/orecrest/authcore/internal/models"
	"github.com/orecrest/authcore/internal/ratelimit"
	"github.com/orecrest/authcore/internal/repositories"
	"github.com/orecrest/authcore/internal/routes"
	"github.com/orecrest/authcore/internal/services"
	pkghttp "github.com/orecrest/authcore/pkg/http"
)

// SentAlert is a captured security notification
type SentAlert struct {
	Kind  string // "new_device" or "lockout"
	Email string
}

// MockEmailService captures security alerts for test assertions
type MockEmailService struct {
	mu     sync.Mutex
	Alerts []SentAlert
}

func (m *MockEmailService) SendNewDeviceAlert(ctx context.Context, email string, device *models.Device, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, SentAlert{Kind: "new_device", Email: email})
	return nil
}

func (m *MockEmailService) SendLockoutAlert(ctx context.Context, email string, retryAfter time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, SentAlert{Kind: "lockout", Email: email})
	return nil
}

// AlertCount returns how many alerts of the given kind were sent
func (m *MockEmailService) AlertCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, a := range m.Alerts {
		if a.Kind == kind {
			count++
		}
	}
	return count
}

// TestServer wraps httptest.Server with a real database and all
// dependencies wired the way main does it
type TestServer struct {
	Server       *httptest.Server
	DB           *database.DB
	EmailService *MockEmailService
	Clock        *clock.Fake
	Config       *config.Config

	LoginService   *services.LoginService
	SessionService *services.SessionService
	MFAService     *services.MFAService
	DeviceService  *services.DeviceService
	EventService   *services.SecurityEventService
	Cleanup        *background.CleanupManager

	AccountRepo repositories.AccountRepository
	SessionRepo repositories.SessionRepository
	DeviceRepo  repositories.DeviceRepository
	MFARepo     repositories.MFARepository
	EventRepo   repositories.SecurityEventRepository
}

// NewTestServer initializes a complete HTTP server with real database + mocked email
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			SessionTTL:          1 * time.Hour,
			RememberMeTTL:       30 * 24 * time.Hour,
			MFAChallengeSecret:  "integration-test-secret-32-chars",
			MFAChallengeTTL:     5 * time.Minute,
			TOTPEncryptionKey:   "integration-totp-key-32-bytes!!!",
			TOTPIssuer:          "OreCrestTest",
			RecoveryCodeCount:   10,
			CleanupInterval:     1 * time.Hour,
			TimingDelayBaseMs:   0,
			TimingDelayRandomMs: 0,
			EventRetentionDays:  90,
		},
		RateLimit: config.RateLimitConfig{
			Window:      15 * time.Minute,
			MaxAttempts: 5,
			BaseBlock:   15 * time.Minute,
			BackoffCap:  3,
			Backend:     "memory",
			EdgePerMin:  1000,
		},
		Server: config.ServerConfig{
			Port:           "0",
			Env:            "test",
			AllowedOrigins: []string{},
			TrustedProxies: []string{},
		},
	}

	// Fake clock so lockout windows can be advanced without sleeping
	clk := clock.NewFake(time.Now())

	accountRepo := repositories.NewAccountRepository(db.Pool)
	sessionRepo := repositories.NewSessionRepository(db.Pool)
	deviceRepo := repositories.NewDeviceRepository(db.Pool)
	mfaRepo := repositories.NewMFARepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db.Pool)

	limiterConfig := ratelimit.Config{
		Window:      cfg.RateLimit.Window,
		MaxAttempts: cfg.RateLimit.MaxAttempts,
		BaseBlock:   cfg.RateLimit.BaseBlock,
		BackoffCap:  cfg.RateLimit.BackoffCap,
	}
	throttle := ratelimit.NewLoginThrottle(
		ratelimit.NewMemoryStore(limiterConfig, clk),
		ratelimit.NewMemoryStore(limiterConfig, clk),
	)
	mfaAttempts := ratelimit.NewMemoryStore(limiterConfig, clk)

	totpManager, err := auth.NewTOTPManager([]byte(cfg.Auth.TOTPEncryptionKey), cfg.Auth.TOTPIssuer, clk)
	if err != nil {
		panic("failed to create TOTP manager: " + err.Error())
	}
	challengeManager := auth.NewChallengeManager(cfg.Auth.MFAChallengeSecret, cfg.Auth.MFAChallengeTTL)
	timingDelay := auth.NewTimingDelay(cfg.Auth.TimingDelayBaseMs, cfg.Auth.TimingDelayRandomMs)

	mockEmail := &MockEmailService{}

	eventService := services.NewSecurityEventService(eventRepo, logger)
	sessionService := services.NewSessionService(sessionRepo, accountRepo, eventService, clk, logger, cfg.Auth.SessionTTL, cfg.Auth.RememberMeTTL)
	deviceService := services.NewDeviceService(deviceRepo, eventService, clk, logger)
	mfaService := services.NewMFAService(mfaRepo, accountRepo, eventService, totpManager, mfaAttempts, clk, logger, cfg.Auth.RecoveryCodeCount)
	loginService := services.NewLoginService(accountRepo, sessionService, deviceService, mfaService, eventService, mockEmail, throttle, challengeManager, timingDelay, clk, logger)

	cleanupManager := background.NewCleanupManager(sessionService, throttle, mfaAttempts, eventRepo, clk, logger, cfg.Auth.CleanupInterval, cfg.Auth.EventRetentionDays)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(loginService, sessionService, ipConfig)
	mfaHandler := handlers.NewMFAHandler(mfaService, ipConfig)
	deviceHandler := handlers.NewDeviceHandler(deviceService, ipConfig)
	sessionHandler := handlers.NewSessionHandler(sessionService, ipConfig)
	eventHandler := handlers.NewSecurityEventHandler(eventService)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middlewareCustom.SecurityHeaders(cfg.Server.Env))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, authHandler, mfaHandler, deviceHandler, sessionHandler, eventHandler, sessionService, cfg.RateLimit.EdgePerMin)

	server := httptest.NewServer(r)

	return &TestServer{
		Server:         server,
		DB:             db,
		EmailService:   mockEmail,
		Clock:          clk,
		Config:         cfg,
		LoginService:   loginService,
		SessionService: sessionService,
		MFAService:     mfaService,
		DeviceService:  deviceService,
		EventService:   eventService,
		Cleanup:        cleanupManager,
		AccountRepo:    accountRepo,
		SessionRepo:    sessionRepo,
		DeviceRepo:     deviceRepo,
		MFARepo:        mfaRepo,
		EventRepo:      eventRepo,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body any, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with a session token
func (ts *TestServer) RequestWithAuth(method, path string, body any, token string) (*http.Response, error) {
	return ts.Request(method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// DecodeResponse decodes the response body into dest and closes it
func DecodeResponse(resp *http.Response, dest any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(dest)
}
