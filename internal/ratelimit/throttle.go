package ratelimit

import "context"

// Block sources, surfaced for logging and telemetry only. The client
// response never says which key tripped, to avoid account enumeration.
const (
	SourceIP      = "ip"
	SourceAccount = "account"
)

// Result is a throttle verdict covering both keys of a login attempt.
type Result struct {
	Decision
	Source string
}

// LoginThrottle runs two independent limiters per login attempt: one
// keyed by client IP, one by account identifier. An attempt is rejected
// when either blocks.
type LoginThrottle struct {
	ips      Store
	accounts Store
}

// NewLoginThrottle composes the two per-key stores.
func NewLoginThrottle(ips, accounts Store) *LoginThrottle {
	return &LoginThrottle{ips: ips, accounts: accounts}
}

// Check evaluates both keys. When both are blocked the more restrictive
// wait wins.
func (t *LoginThrottle) Check(ctx context.Context, ip, identifier string) Result {
	ipDecision := t.ips.Check(ctx, ip)
	accountDecision := t.accounts.Check(ctx, identifier)

	switch {
	case !ipDecision.Allowed && !accountDecision.Allowed:
		if accountDecision.RetryAfter > ipDecision.RetryAfter {
			return Result{Decision: accountDecision, Source: SourceAccount}
		}
		return Result{Decision: ipDecision, Source: SourceIP}
	case !ipDecision.Allowed:
		return Result{Decision: ipDecision, Source: SourceIP}
	case !accountDecision.Allowed:
		return Result{Decision: accountDecision, Source: SourceAccount}
	default:
		return Result{Decision: Decision{Allowed: true}}
	}
}

// RecordFailure counts a failed attempt against both keys and reports
// the combined state the same way Check does.
func (t *LoginThrottle) RecordFailure(ctx context.Context, ip, identifier string) Result {
	ipDecision := t.ips.RecordFailure(ctx, ip)
	accountDecision := t.accounts.RecordFailure(ctx, identifier)

	switch {
	case !ipDecision.Allowed && !accountDecision.Allowed:
		if accountDecision.RetryAfter > ipDecision.RetryAfter {
			return Result{Decision: accountDecision, Source: SourceAccount}
		}
		return Result{Decision: ipDecision, Source: SourceIP}
	case !ipDecision.Allowed:
		return Result{Decision: ipDecision, Source: SourceIP}
	case !accountDecision.Allowed:
		return Result{Decision: accountDecision, Source: SourceAccount}
	default:
		return Result{Decision: Decision{Allowed: true}}
	}
}

// RecordSuccess clears both keys after a successful credential check.
func (t *LoginThrottle) RecordSuccess(ctx context.Context, ip, identifier string) {
	t.ips.Reset(ctx, ip)
	t.accounts.Reset(ctx, identifier)
}

// Sweep forwards to both stores.
func (t *LoginThrottle) Sweep(ctx context.Context) {
	t.ips.Sweep(ctx)
	t.accounts.Sweep(ctx)
}
