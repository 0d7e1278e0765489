// Package ratelimit implements adaptive brute-force limiting for login
// attempts: windowed failure counters with exponential-backoff lockouts,
// keyed independently by client IP and account identifier.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/orecrest/authcore/internal/clock"
)

// Config holds limiter tuning parameters.
type Config struct {
	Window      time.Duration // failed-attempt counting window
	MaxAttempts int           // failures allowed before the key blocks
	BaseBlock   time.Duration // first lockout duration
	BackoffCap  int           // exponent cap: lockout maxes at BaseBlock * 2^BackoffCap
}

// DefaultConfig returns the documented production defaults.
func DefaultConfig() Config {
	return Config{
		Window:      15 * time.Minute,
		MaxAttempts: 5,
		BaseBlock:   15 * time.Minute,
		BackoffCap:  3, // caps lockout at 8x base
	}
}

// Decision is the outcome of a limiter check or mutation. The limiter
// never returns errors to the login path; a denied decision is terminal
// for that request.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Store tracks failed-attempt state per key. Implementations must
// serialize mutations per key so concurrent failures cannot under-count.
type Store interface {
	// Check reports whether an attempt for key may proceed.
	Check(ctx context.Context, key string) Decision
	// RecordFailure counts one failed attempt and reports the resulting
	// state; the transition to blocked happens here.
	RecordFailure(ctx context.Context, key string) Decision
	// Reset clears all state for key. Called on successful login.
	Reset(ctx context.Context, key string)
	// Sweep drops stale entries. Called by the background cleanup manager.
	Sweep(ctx context.Context)
}

type entry struct {
	count               int
	firstAttempt        time.Time
	lastAttempt         time.Time
	blocked             bool
	blockedUntil        time.Time
	consecutiveFailures int
}

// MemoryStore is the in-process Store for single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  Config
	clk     clock.Clock
}

// NewMemoryStore creates a MemoryStore with the given clock.
func NewMemoryStore(config Config, clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		config:  config,
		clk:     clk,
	}
}

func (s *MemoryStore) Check(_ context.Context, key string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Decision{Allowed: true}
	}

	now := s.clk.Now()
	s.rollWindow(e, now)

	if e.blocked {
		return Decision{Allowed: false, RetryAfter: e.blockedUntil.Sub(now)}
	}

	return Decision{Allowed: true}
}

func (s *MemoryStore) RecordFailure(_ context.Context, key string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{firstAttempt: now}
		s.entries[key] = e
	} else {
		s.rollWindow(e, now)
	}

	// A failure reported while the key is already blocked does not stack
	// another lockout; the caller raced an in-flight request.
	if e.blocked {
		e.lastAttempt = now
		return Decision{Allowed: false, RetryAfter: e.blockedUntil.Sub(now)}
	}

	e.count++
	e.lastAttempt = now

	if e.count >= s.config.MaxAttempts {
		e.consecutiveFailures++
		duration := s.blockDuration(e.consecutiveFailures)
		e.blocked = true
		e.blockedUntil = now.Add(duration)
		return Decision{Allowed: false, RetryAfter: duration}
	}

	return Decision{Allowed: true}
}

func (s *MemoryStore) Reset(_ context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Sweep deletes entries inactive for twice the window whose block, if
// any, has lapsed. Bounds memory growth under scanning traffic.
func (s *MemoryStore) Sweep(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	horizon := 2 * s.config.Window

	for key, e := range s.entries {
		if e.blocked && now.Before(e.blockedUntil) {
			continue
		}
		if now.Sub(e.lastAttempt) >= horizon {
			delete(s.entries, key)
		}
	}
}

// Len reports the number of tracked keys. Exposed for sweep telemetry.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// rollWindow starts a fresh counting window when the previous one aged
// out or a lockout lapsed. Consecutive failures survive the roll so
// repeat offenders keep escalating.
func (s *MemoryStore) rollWindow(e *entry, now time.Time) {
	if e.blocked {
		if now.Before(e.blockedUntil) {
			return
		}
		e.blocked = false
		e.count = 0
		e.firstAttempt = now
		return
	}

	if now.Sub(e.firstAttempt) > s.config.Window {
		e.count = 0
		e.firstAttempt = now
	}
}

// blockDuration computes the lockout for the nth consecutive block:
// base, 2x, 4x, then capped.
func (s *MemoryStore) blockDuration(consecutiveFailures int) time.Duration {
	exponent := consecutiveFailures - 1
	if exponent > s.config.BackoffCap {
		exponent = s.config.BackoffCap
	}
	if exponent < 0 {
		exponent = 0
	}
	return s.config.BaseBlock << exponent
}
