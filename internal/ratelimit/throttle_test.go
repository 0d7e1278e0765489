package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/orecrest/authcore/internal/clock"
	"github.com/orecrest/authcore/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newThrottle(t *testing.T) (*ratelimit.LoginThrottle, *clock.Fake) {
	t.Helper()

	clk := clock.NewFake(time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC))
	ips := ratelimit.NewMemoryStore(testConfig(), clk)
	accounts := ratelimit.NewMemoryStore(testConfig(), clk)
	return ratelimit.NewLoginThrottle(ips, accounts), clk
}

func TestLoginThrottle_AllowsFreshAttempt(t *testing.T) {
	throttle, _ := newThrottle(t)

	result := throttle.Check(context.Background(), "1.2.3.4", "alice@example.com")
	assert.True(t, result.Allowed)
	assert.Empty(t, result.Source)
}

func TestLoginThrottle_AccountBlockFollowsAcrossIPs(t *testing.T) {
	throttle, _ := newThrottle(t)
	ctx := context.Background()

	// Attacker rotates source addresses against one account. Each IP key
	// stays under budget but the account key accumulates all five.
	ips := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"}
	var last ratelimit.Result
	for _, ip := range ips {
		last = throttle.RecordFailure(ctx, ip, "alice@example.com")
	}

	require.False(t, last.Allowed)
	assert.Equal(t, ratelimit.SourceAccount, last.Source)

	// A brand-new IP is still rejected for the same account.
	result := throttle.Check(ctx, "10.0.0.99", "alice@example.com")
	assert.False(t, result.Allowed)
	assert.Equal(t, ratelimit.SourceAccount, result.Source)
}

func TestLoginThrottle_IPBlockCoversAllAccounts(t *testing.T) {
	throttle, _ := newThrottle(t)
	ctx := context.Background()

	accounts := []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"}
	for _, account := range accounts {
		throttle.RecordFailure(ctx, "1.2.3.4", account)
	}

	result := throttle.Check(ctx, "1.2.3.4", "fresh@x.com")
	assert.False(t, result.Allowed)
	assert.Equal(t, ratelimit.SourceIP, result.Source)
}

func TestLoginThrottle_MoreRestrictiveWaitWins(t *testing.T) {
	throttle, clk := newThrottle(t)
	ctx := context.Background()

	// Drive the account key through two lockouts so its next block is
	// longer than the IP's first.
	for i := 0; i < 5; i++ {
		throttle.RecordFailure(ctx, "1.2.3.4", "alice@example.com")
	}
	clk.Advance(16 * time.Minute)
	throttle.RecordSuccess(ctx, "1.2.3.4", "")

	var result ratelimit.Result
	for i := 0; i < 5; i++ {
		result = throttle.RecordFailure(ctx, "1.2.3.4", "alice@example.com")
	}

	require.False(t, result.Allowed)
	assert.Equal(t, ratelimit.SourceAccount, result.Source)
	assert.Equal(t, 30*time.Minute, result.RetryAfter)
}

func TestLoginThrottle_SuccessResetsBothKeys(t *testing.T) {
	throttle, _ := newThrottle(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		throttle.RecordFailure(ctx, "1.2.3.4", "alice@example.com")
	}
	throttle.RecordSuccess(ctx, "1.2.3.4", "alice@example.com")

	// Budget is back to full on both keys.
	for i := 0; i < 4; i++ {
		result := throttle.RecordFailure(ctx, "1.2.3.4", "alice@example.com")
		assert.True(t, result.Allowed, "attempt %d after reset", i+1)
	}
}
