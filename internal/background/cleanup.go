package background

import (
	"context"
	"log/slog"
	"time"
)

// AdmissionSweeper drops expired lockouts and idle attempt records
type AdmissionSweeper interface {
	Sweep(ctx context.Context) (cleared, deleted int64, err error)
}

// AuditPurger removes audit events older than the retention window
type AuditPurger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// CleanupConfig holds the cleanup schedule
type CleanupConfig struct {
	Interval       time.Duration
	AuditRetention time.Duration // zero keeps audit events forever
	AuditEvery     time.Duration
}

// CleanupManager periodically sweeps the attempt store and, when a retention
// window is configured, purges old audit events.
type CleanupManager struct {
	sweeper   AdmissionSweeper
	purger    AuditPurger
	onTick    func(ctx context.Context)
	config    CleanupConfig
	logger    *slog.Logger
	lastPurge time.Time
	stopCh    chan struct{}
}

// NewCleanupManager creates a new cleanup manager. onTick, when set, runs
// after every sweep; it is used to refresh the database pool gauges.
func NewCleanupManager(
	sweeper AdmissionSweeper,
	purger AuditPurger,
	onTick func(ctx context.Context),
	config CleanupConfig,
	logger *slog.Logger,
) *CleanupManager {
	if config.AuditEvery <= 0 {
		config.AuditEvery = 24 * time.Hour
	}
	return &CleanupManager{
		sweeper: sweeper,
		purger:  purger,
		onTick:  onTick,
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.config.Interval)
	defer ticker.Stop()

	cm.RunOnce(ctx, time.Now())

	for {
		select {
		case now := <-ticker.C:
			cm.RunOnce(ctx, now)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs one cleanup pass as of now.
func (cm *CleanupManager) RunOnce(ctx context.Context, now time.Time) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if cm.sweeper != nil {
		cleared, deleted, err := cm.sweeper.Sweep(cleanupCtx)
		if err != nil {
			cm.logger.Error("failed to sweep attempt store", slog.Any("error", err))
		} else if cleared > 0 || deleted > 0 {
			cm.logger.Info("attempt store swept",
				slog.Int64("blocks_cleared", cleared),
				slog.Int64("records_deleted", deleted))
		}
	}

	if cm.purger != nil && cm.config.AuditRetention > 0 && now.Sub(cm.lastPurge) >= cm.config.AuditEvery {
		rows, err := cm.purger.Purge(cleanupCtx, cm.config.AuditRetention)
		if err != nil {
			cm.logger.Error("failed to purge audit events", slog.Any("error", err))
		} else {
			cm.lastPurge = now
			if rows > 0 {
				cm.logger.Info("audit events purged", slog.Int64("rows_deleted", rows))
			}
		}
	}

	if cm.onTick != nil {
		cm.onTick(cleanupCtx)
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
