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

func testConfig() ratelimit.Config {
	return ratelimit.Config{
		Window:      15 * time.Minute,
		MaxAttempts: 5,
		BaseBlock:   15 * time.Minute,
		BackoffCap:  3,
	}
}

func newStore(t *testing.T) (*ratelimit.MemoryStore, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	return ratelimit.NewMemoryStore(testConfig(), clk), clk
}

func TestMemoryStore_AllowsUnknownKey(t *testing.T) {
	store, _ := newStore(t)

	decision := store.Check(context.Background(), "1.2.3.4")
	assert.True(t, decision.Allowed)
}

func TestMemoryStore_BlocksExactlyAtBudget(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	// Four failures leave the key open
	for i := 0; i < 4; i++ {
		decision := store.RecordFailure(ctx, "alice")
		assert.True(t, decision.Allowed, "attempt %d should not block", i+1)
		assert.True(t, store.Check(ctx, "alice").Allowed)
	}

	// The fifth failure exhausts the budget and blocks the key
	decision := store.RecordFailure(ctx, "alice")
	assert.False(t, decision.Allowed)
	assert.Equal(t, 15*time.Minute, decision.RetryAfter)

	check := store.Check(ctx, "alice")
	assert.False(t, check.Allowed)
	assert.Greater(t, check.RetryAfter, time.Duration(0))
}

func TestMemoryStore_WindowResetClearsCount(t *testing.T) {
	store, clk := newStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		store.RecordFailure(ctx, "alice")
	}

	// Let the window age out; the next failure starts a fresh count
	clk.Advance(16 * time.Minute)

	decision := store.RecordFailure(ctx, "alice")
	assert.True(t, decision.Allowed)

	for i := 0; i < 3; i++ {
		decision = store.RecordFailure(ctx, "alice")
		assert.True(t, decision.Allowed)
	}
	decision = store.RecordFailure(ctx, "alice")
	assert.False(t, decision.Allowed)
}

func TestMemoryStore_ExponentialBackoff(t *testing.T) {
	store, clk := newStore(t)
	ctx := context.Background()

	lockout := func() time.Duration {
		var last ratelimit.Decision
		for {
			last = store.RecordFailure(ctx, "alice")
			if !last.Allowed {
				return last.RetryAfter
			}
		}
	}

	expected := []time.Duration{
		15 * time.Minute,  // base
		30 * time.Minute,  // 2x
		60 * time.Minute,  // 4x
		120 * time.Minute, // 8x (cap)
		120 * time.Minute, // stays capped
	}

	var previous time.Duration
	for i, want := range expected {
		got := lockout()
		assert.Equal(t, want, got, "lockout %d", i+1)
		assert.GreaterOrEqual(t, got, previous, "backoff must be non-decreasing")
		previous = got

		// Let the block lapse before the next round of failures
		clk.Advance(got + time.Minute)
	}
}

func TestMemoryStore_BlockExpires(t *testing.T) {
	store, clk := newStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.RecordFailure(ctx, "alice")
	}
	require.False(t, store.Check(ctx, "alice").Allowed)

	clk.Advance(14 * time.Minute)
	assert.False(t, store.Check(ctx, "alice").Allowed)

	clk.Advance(2 * time.Minute)
	assert.True(t, store.Check(ctx, "alice").Allowed)
}

func TestMemoryStore_ResetClearsEverything(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.RecordFailure(ctx, "alice")
	}
	require.False(t, store.Check(ctx, "alice").Allowed)

	store.Reset(ctx, "alice")

	assert.True(t, store.Check(ctx, "alice").Allowed)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_FailureDuringBlockDoesNotStack(t *testing.T) {
	store, clk := newStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.RecordFailure(ctx, "alice")
	}

	// A racing failure while blocked reports the remaining wait without
	// starting a second lockout
	clk.Advance(5 * time.Minute)
	decision := store.RecordFailure(ctx, "alice")
	assert.False(t, decision.Allowed)
	assert.Equal(t, 10*time.Minute, decision.RetryAfter)
}

func TestMemoryStore_SweepDropsStaleEntries(t *testing.T) {
	store, clk := newStore(t)
	ctx := context.Background()

	store.RecordFailure(ctx, "stale")
	clk.Advance(10 * time.Minute)
	store.RecordFailure(ctx, "fresh")

	clk.Advance(25 * time.Minute) // stale idle 35m >= 2*window, fresh idle 25m

	store.Sweep(ctx)

	assert.Equal(t, 1, store.Len())
	assert.True(t, store.Check(ctx, "stale").Allowed)
}

func TestMemoryStore_SweepKeepsActiveBlocks(t *testing.T) {
	cfg := testConfig()
	cfg.BaseBlock = 2 * time.Hour
	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	store := ratelimit.NewMemoryStore(cfg, clk)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.RecordFailure(ctx, "alice")
	}

	// Idle past the retention horizon but still inside the block
	clk.Advance(50 * time.Minute)
	store.Sweep(ctx)

	assert.False(t, store.Check(ctx, "alice").Allowed)
}

func TestMemoryStore_ConcurrentFailuresNeverUnderCount(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	const workers = 20
	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			store.RecordFailure(ctx, "alice")
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}

	// 20 concurrent failures far exceed the budget; the key must be blocked
	assert.False(t, store.Check(ctx, "alice").Allowed)
}
