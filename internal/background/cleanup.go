package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/orecrest/authcore/internal/clock"
	"github.com/orecrest/authcore/internal/ratelimit"
	"github.com/orecrest/authcore/internal/repositories"
	"github.com/orecrest/authcore/internal/services"
)

// CleanupManager runs the periodic maintenance sweeps: expired
// sessions, idle rate-limiter entries, and security events past
// retention.
type CleanupManager struct {
	sessions    *services.SessionService
	throttle    *ratelimit.LoginThrottle
	mfaAttempts ratelimit.Store
	events      repositories.SecurityEventRepository
	clk         clock.Clock
	logger      *slog.Logger
	interval    time.Duration
	retention   time.Duration
	stopCh      chan struct{}
}

func NewCleanupManager(
	sessions *services.SessionService,
	throttle *ratelimit.LoginThrottle,
	mfaAttempts ratelimit.Store,
	events repositories.SecurityEventRepository,
	clk clock.Clock,
	logger *slog.Logger,
	interval time.Duration,
	retentionDays int,
) *CleanupManager {
	return &CleanupManager{
		sessions:    sessions,
		throttle:    throttle,
		mfaAttempts: mfaAttempts,
		events:      events,
		clk:         clk,
		logger:      logger,
		interval:    interval,
		retention:   time.Duration(retentionDays) * 24 * time.Hour,
		stopCh:      make(chan struct{}),
	}
}

// Start runs sweeps until Stop is called or the context is cancelled.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runSweep(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if swept, err := cm.sessions.SweepExpired(sweepCtx); err != nil {
		cm.logger.Error("failed to sweep expired sessions", slog.Any("error", err))
	} else if swept > 0 {
		cm.logger.Info("expired sessions swept", slog.Int64("rows_deleted", swept))
	}

	cm.throttle.Sweep(sweepCtx)
	cm.mfaAttempts.Sweep(sweepCtx)

	cutoff := cm.clk.Now().Add(-cm.retention)
	if pruned, err := cm.events.DeleteOlderThan(sweepCtx, cutoff); err != nil {
		cm.logger.Error("failed to prune security events", slog.Any("error", err))
	} else if pruned > 0 {
		cm.logger.Info("security events pruned", slog.Int64("rows_deleted", pruned))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
