package ratelimit_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/orecrest/authcore/internal/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*ratelimit.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	store := ratelimit.NewRedisStore(client, testConfig(), "login", logger)
	return store, mr
}

func TestRedisStore_AllowsUnknownKey(t *testing.T) {
	store, _ := newRedisStore(t)

	decision := store.Check(context.Background(), "1.2.3.4")
	assert.True(t, decision.Allowed)
}

func TestRedisStore_BlocksAtBudget(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		decision := store.RecordFailure(ctx, "alice")
		assert.True(t, decision.Allowed, "attempt %d should not block", i+1)
	}

	decision := store.RecordFailure(ctx, "alice")
	assert.False(t, decision.Allowed)
	assert.Equal(t, 15*time.Minute, decision.RetryAfter)

	check := store.Check(ctx, "alice")
	assert.False(t, check.Allowed)
	assert.Greater(t, check.RetryAfter, time.Duration(0))
}

func TestRedisStore_BackoffEscalatesAcrossBlocks(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	lockout := func() time.Duration {
		for {
			if decision := store.RecordFailure(ctx, "alice"); !decision.Allowed {
				return decision.RetryAfter
			}
		}
	}

	first := lockout()
	require.Equal(t, 15*time.Minute, first)

	mr.FastForward(first + time.Minute)

	second := lockout()
	assert.Equal(t, 30*time.Minute, second)
}

func TestRedisStore_BlockLapsesWithTTL(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.RecordFailure(ctx, "alice")
	}
	require.False(t, store.Check(ctx, "alice").Allowed)

	mr.FastForward(16 * time.Minute)

	assert.True(t, store.Check(ctx, "alice").Allowed)
}

func TestRedisStore_ResetClearsCounters(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.RecordFailure(ctx, "alice")
	}
	require.False(t, store.Check(ctx, "alice").Allowed)

	store.Reset(ctx, "alice")

	assert.True(t, store.Check(ctx, "alice").Allowed)
	decision := store.RecordFailure(ctx, "alice")
	assert.True(t, decision.Allowed)
}

func TestRedisStore_FailsOpenWhenRedisDown(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	mr.Close()

	// Availability over strictness: an unreachable backend must not lock
	// legitimate users out
	assert.True(t, store.Check(ctx, "alice").Allowed)
	assert.True(t, store.RecordFailure(ctx, "alice").Allowed)
}

func TestRedisStore_NamespacesAreIndependent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ips := ratelimit.NewRedisStore(client, testConfig(), "ip", logger)
	accounts := ratelimit.NewRedisStore(client, testConfig(), "account", logger)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ips.RecordFailure(ctx, "shared-key")
	}

	assert.False(t, ips.Check(ctx, "shared-key").Allowed)
	assert.True(t, accounts.Check(ctx, "shared-key").Allowed)
}
