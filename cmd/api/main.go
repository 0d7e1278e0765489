package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

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
	pkgauth "github.com/orecrest/authcore/pkg/auth"
	pkghttp "github.com/orecrest/authcore/pkg/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db.Pool)
	sessionRepo := repositories.NewSessionRepository(db.Pool)
	deviceRepo := repositories.NewDeviceRepository(db.Pool)
	mfaRepo := repositories.NewMFARepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db.Pool)

	clk := clock.NewSystem()

	// Failure limiters: memory for single instances, redis when replicas
	// must share lockout state.
	throttle, mfaAttempts, err := buildLimiters(cfg, clk, logger)
	if err != nil {
		logger.Error("failed to initialize rate limiters", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize security primitives
	totpManager, err := auth.NewTOTPManager([]byte(cfg.Auth.TOTPEncryptionKey), cfg.Auth.TOTPIssuer, clk)
	if err != nil {
		logger.Error("failed to initialize totp manager", slog.Any("error", err))
		os.Exit(1)
	}
	challengeManager := auth.NewChallengeManager(cfg.Auth.MFAChallengeSecret, cfg.Auth.MFAChallengeTTL)
	timingDelay := auth.NewTimingDelay(cfg.Auth.TimingDelayBaseMs, cfg.Auth.TimingDelayRandomMs)

	// Security alert emails
	var emailService services.EmailService
	if cfg.Email.Enabled {
		sesService, err := services.NewAWSSESEmailService(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		emailService = sesService
	} else {
		logger.Info("email notifications disabled")
		emailService = services.NoopEmailService{}
	}

	// Initialize services
	eventService := services.NewSecurityEventService(eventRepo, logger)
	sessionService := services.NewSessionService(sessionRepo, accountRepo, eventService, clk, logger, cfg.Auth.SessionTTL, cfg.Auth.RememberMeTTL)
	deviceService := services.NewDeviceService(deviceRepo, eventService, clk, logger)
	mfaService := services.NewMFAService(mfaRepo, accountRepo, eventService, totpManager, mfaAttempts, clk, logger, cfg.Auth.RecoveryCodeCount)
	loginService := services.NewLoginService(accountRepo, sessionService, deviceService, mfaService, eventService, emailService, throttle, challengeManager, timingDelay, clk, logger)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(loginService, sessionService, ipConfig)
	mfaHandler := handlers.NewMFAHandler(mfaService, ipConfig)
	deviceHandler := handlers.NewDeviceHandler(deviceService, ipConfig)
	sessionHandler := handlers.NewSessionHandler(sessionService, ipConfig)
	eventHandler := handlers.NewSecurityEventHandler(eventService)

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(sessionService, throttle, mfaAttempts, eventRepo, clk, logger, cfg.Auth.CleanupInterval, cfg.Auth.EventRetentionDays)

	// Bootstrap first admin account if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminAccount(ctx, accountRepo, logger); err != nil {
		logger.Error("failed to ensure admin account", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(cfg.Server.Env))
	router.Use(middlewareCustom.CORS(middlewareCustom.CORSConfig{AllowedOrigins: cfg.Server.AllowedOrigins}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, mfaHandler, deviceHandler, sessionHandler, eventHandler, sessionService, cfg.RateLimit.EdgePerMin)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.HealthCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// buildLimiters wires the dual-key login throttle and the per-account
// second-factor limiter on the configured backend.
func buildLimiters(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*ratelimit.LoginThrottle, ratelimit.Store, error) {
	limiterConfig := ratelimit.Config{
		Window:      cfg.RateLimit.Window,
		MaxAttempts: cfg.RateLimit.MaxAttempts,
		BaseBlock:   cfg.RateLimit.BaseBlock,
		BackoffCap:  cfg.RateLimit.BackoffCap,
	}

	if cfg.RateLimit.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		throttle := ratelimit.NewLoginThrottle(
			ratelimit.NewRedisStore(client, limiterConfig, "login:ip", logger),
			ratelimit.NewRedisStore(client, limiterConfig, "login:account", logger),
		)
		return throttle, ratelimit.NewRedisStore(client, limiterConfig, "mfa:account", logger), nil
	}

	throttle := ratelimit.NewLoginThrottle(
		ratelimit.NewMemoryStore(limiterConfig, clk),
		ratelimit.NewMemoryStore(limiterConfig, clk),
	)
	return throttle, ratelimit.NewMemoryStore(limiterConfig, clk), nil
}

// ensureAdminAccount creates the first admin account if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminAccount(ctx context.Context, accounts repositories.AccountRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin account creation")
		return nil
	}

	// Check if admin already exists
	_, err := accounts.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin account already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(adminPassword); err != nil {
		return fmt.Errorf("ADMIN_PASSWORD rejected: %w", err)
	}

	hash, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.Account{
		Email:        adminEmail,
		PasswordHash: hash,
		Verified:     true,
		Role:         "admin",
	}
	if err := accounts.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	logger.Info("admin account created", slog.String("id", admin.ID.String()))
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
