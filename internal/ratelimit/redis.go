package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes under a per-store namespace.
const (
	attemptsPrefix = "attempts:"
	blockPrefix    = "block:"
	strikesPrefix  = "strikes:"
)

// strikesTTL is how long the consecutive-lockout counter survives so
// repeat offenders keep escalating across windows.
const strikesTTL = 24 * time.Hour

// RedisStore is the shared-counter Store for multi-instance deployments.
// Redis INCR gives the per-key atomicity the memory store gets from its
// mutex; TTLs replace the sweep.
type RedisStore struct {
	client    redis.UniversalClient
	config    Config
	namespace string
	logger    *slog.Logger
}

// NewRedisStore creates a RedisStore. The namespace keeps independent
// limiter instances (IP vs account) from sharing counters.
func NewRedisStore(client redis.UniversalClient, config Config, namespace string, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client:    client,
		config:    config,
		namespace: namespace + ":",
		logger:    logger,
	}
}

func (s *RedisStore) Check(ctx context.Context, key string) Decision {
	remaining, err := s.client.TTL(ctx, s.namespace+blockPrefix+key).Result()
	if err != nil {
		// Fail open for availability - Redis outages shouldn't lock out
		// legitimate users. Block decisions themselves still fail closed.
		s.logger.Error("rate limit check failed", slog.Any("error", err))
		return Decision{Allowed: true}
	}

	if remaining > 0 {
		return Decision{Allowed: false, RetryAfter: remaining}
	}

	return Decision{Allowed: true}
}

func (s *RedisStore) RecordFailure(ctx context.Context, key string) Decision {
	if blocked := s.Check(ctx, key); !blocked.Allowed {
		return blocked
	}

	count, err := s.incrementWithTTL(ctx, s.namespace+attemptsPrefix+key, s.config.Window)
	if err != nil {
		s.logger.Error("rate limit increment failed", slog.Any("error", err))
		return Decision{Allowed: true}
	}

	if int(count) < s.config.MaxAttempts {
		return Decision{Allowed: true}
	}

	// Budget exhausted: escalate the strike counter and set the block.
	strikes, err := s.incrementWithTTL(ctx, s.namespace+strikesPrefix+key, strikesTTL)
	if err != nil {
		s.logger.Error("rate limit strike increment failed", slog.Any("error", err))
		strikes = 1
	}

	duration := s.blockDuration(int(strikes))

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.namespace+blockPrefix+key, 1, duration)
	pipe.Del(ctx, s.namespace+attemptsPrefix+key)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("rate limit block write failed", slog.Any("error", err))
	}

	return Decision{Allowed: false, RetryAfter: duration}
}

func (s *RedisStore) Reset(ctx context.Context, key string) {
	err := s.client.Del(ctx,
		s.namespace+attemptsPrefix+key,
		s.namespace+blockPrefix+key,
		s.namespace+strikesPrefix+key,
	).Err()
	if err != nil {
		s.logger.Error("rate limit reset failed", slog.Any("error", err))
	}
}

// Sweep is a no-op: Redis TTLs already bound growth.
func (s *RedisStore) Sweep(context.Context) {}

func (s *RedisStore) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisStore) blockDuration(strikes int) time.Duration {
	exponent := strikes - 1
	if exponent > s.config.BackoffCap {
		exponent = s.config.BackoffCap
	}
	if exponent < 0 {
		exponent = 0
	}
	return s.config.BaseBlock << exponent
}
