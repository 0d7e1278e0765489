package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Email     EmailConfig
	Redis     RedisConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
}

type AuthConfig struct {
	SessionTTL          time.Duration // default session lifetime
	RememberMeTTL       time.Duration // lifetime with remember-me
	MFAChallengeSecret  string        // signs the short-lived MFA challenge token
	MFAChallengeTTL     time.Duration
	TOTPEncryptionKey   string // 32 bytes, AES-256 for secrets at rest
	TOTPIssuer          string
	RecoveryCodeCount   int
	CleanupInterval     time.Duration
	TimingDelayBaseMs   int
	TimingDelayRandomMs int
	EventRetentionDays  int
}

type RateLimitConfig struct {
	Window       time.Duration // failed-attempt counting window
	MaxAttempts  int           // attempts allowed inside the window
	BaseBlock    time.Duration // first lockout duration
	BackoffCap   int           // exponent cap for repeat lockouts
	Backend      string        // "memory" or "redis"
	EdgePerMin   int           // transport-level httprate ceiling
}

type EmailConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	challengeSecret := getEnv("MFA_CHALLENGE_SECRET", "")
	if challengeSecret == "" {
		return nil, fmt.Errorf("MFA_CHALLENGE_SECRET is required")
	}

	totpKey := getEnv("TOTP_ENCRYPTION_KEY", "")
	if len(totpKey) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be exactly 32 bytes (got %d)", len(totpKey))
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "orecrest"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsSlice("TRUSTED_PROXIES"),
		},
		Auth: AuthConfig{
			SessionTTL:          getEnvAsDuration("SESSION_TTL", 1*time.Hour),
			RememberMeTTL:       getEnvAsDuration("REMEMBER_ME_TTL", 30*24*time.Hour),
			MFAChallengeSecret:  challengeSecret,
			MFAChallengeTTL:     getEnvAsDuration("MFA_CHALLENGE_TTL", 5*time.Minute),
			TOTPEncryptionKey:   totpKey,
			TOTPIssuer:          getEnv("TOTP_ISSUER", "OreCrest"),
			RecoveryCodeCount:   getEnvAsInt("RECOVERY_CODE_COUNT", 10),
			CleanupInterval:     getEnvAsDuration("CLEANUP_INTERVAL", 5*time.Minute),
			TimingDelayBaseMs:   getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayRandomMs: getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
			EventRetentionDays:  getEnvAsInt("EVENT_RETENTION_DAYS", 90),
		},
		RateLimit: RateLimitConfig{
			Window:      getEnvAsDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			MaxAttempts: getEnvAsInt("RATE_LIMIT_MAX_ATTEMPTS", 5),
			BaseBlock:   getEnvAsDuration("RATE_LIMIT_BASE_BLOCK", 15*time.Minute),
			BackoffCap:  getEnvAsInt("RATE_LIMIT_BACKOFF_CAP", 3),
			Backend:     getEnv("RATE_LIMIT_BACKEND", "memory"),
			EdgePerMin:  getEnvAsInt("RATE_LIMIT_EDGE_PER_MIN", 10),
		},
		Email: EmailConfig{
			Enabled:     getEnvAsBool("EMAIL_ENABLED", false),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "security@orecrest.io"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateChallengeSecret(challengeSecret, env); err != nil {
		return nil, err
	}

	if cfg.RateLimit.Backend != "memory" && cfg.RateLimit.Backend != "redis" {
		return nil, fmt.Errorf("RATE_LIMIT_BACKEND must be \"memory\" or \"redis\" (got %q)", cfg.RateLimit.Backend)
	}

	return cfg, nil
}

// validateChallengeSecret enforces minimum strength for the MFA challenge signing secret
func validateChallengeSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("MFA_CHALLENGE_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("MFA_CHALLENGE_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsSlice(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{} // Default to no origins in production
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
