package services

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/BradenHooton/garage/internal/config"
	"github.com/BradenHooton/garage/internal/models"
)

// AttemptStore persists AttemptRecords keyed by client identifier.
// Get returns (nil, nil) when no record exists.
type AttemptStore interface {
	Get(ctx context.Context, clientID string) (*models.AttemptRecord, error)
	// UpsertFailure increments the failure count, restarting it at 1 when the
	// previous attempt is older than idleWindow, and drops any block that has
	// expired by now.
	UpsertFailure(ctx context.Context, clientID string, now time.Time, idleWindow time.Duration) (*models.AttemptRecord, error)
	SetBlockedUntil(ctx context.Context, clientID string, until time.Time) error
	ClearBlock(ctx context.Context, clientID string) error
	Delete(ctx context.Context, clientID string) error
	ClearExpiredBlocks(ctx context.Context, now time.Time) (int64, error)
	DeleteIdle(ctx context.Context, before time.Time) (int64, error)
}

// BackoffPolicy maps a failure count to a lockout duration.
type BackoffPolicy struct {
	IdleWindow time.Duration
	Steps      []config.BackoffStep // ascending by MinFailures
}

// DefaultBackoffPolicy is the 15 minute idle window with 3/5/10/20 steps.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{IdleWindow: 15 * time.Minute, Steps: config.DefaultBackoffSteps()}
}

// LockoutFor returns the lockout for the given number of failures, or 0.
func (p BackoffPolicy) LockoutFor(failures int) time.Duration {
	var lockout time.Duration
	for _, step := range p.Steps {
		if failures >= step.MinFailures {
			lockout = step.Lockout
		}
	}
	return lockout
}

// MaxLockout is the longest lockout any step imposes.
func (p BackoffPolicy) MaxLockout() time.Duration {
	var longest time.Duration
	for _, step := range p.Steps {
		if step.Lockout > longest {
			longest = step.Lockout
		}
	}
	return longest
}

// AdmissionController decides whether a client may attempt a login. It fails
// open when the store is unavailable and never surfaces store errors from
// RecordFailure or RecordSuccess.
type AdmissionController struct {
	store        AttemptStore
	policy       BackoffPolicy
	storeTimeout time.Duration
	metrics      LoginMetrics
	now          func() time.Time
	logger       *slog.Logger
}

// AdmissionOption customises an AdmissionController.
type AdmissionOption func(*AdmissionController)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) AdmissionOption {
	return func(c *AdmissionController) { c.now = now }
}

// WithAdmissionMetrics attaches counters for blocks and store errors.
func WithAdmissionMetrics(m LoginMetrics) AdmissionOption {
	return func(c *AdmissionController) { c.metrics = m }
}

// NewAdmissionController creates an AdmissionController backed by store.
// storeTimeout bounds each store call.
func NewAdmissionController(store AttemptStore, policy BackoffPolicy, storeTimeout time.Duration, logger *slog.Logger, opts ...AdmissionOption) *AdmissionController {
	c := &AdmissionController{
		store:        store,
		policy:       policy,
		storeTimeout: storeTimeout,
		metrics:      noopMetrics{},
		now:          time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the active backoff policy.
func (c *AdmissionController) Policy() BackoffPolicy {
	return c.policy
}

// Check reports whether clientID may attempt a login now. Expired blocks and
// idle records are cleared as a side effect.
func (c *AdmissionController) Check(ctx context.Context, clientID string) models.AdmissionDecision {
	allowed := models.AdmissionDecision{Allowed: true}
	if clientID == "" {
		return allowed
	}

	ctx, cancel := c.storeContext(ctx)
	defer cancel()

	rec, err := c.store.Get(ctx, clientID)
	if err != nil {
		c.metrics.ObserveStoreError("get")
		c.logger.Error("admission store unavailable, allowing attempt",
			slog.String("client_id", clientID),
			slog.Any("error", err))
		return allowed
	}
	if rec == nil {
		return allowed
	}

	now := c.now()

	if now.Sub(rec.LastAttemptAt) > c.policy.IdleWindow {
		if err := c.store.Delete(ctx, clientID); err != nil {
			c.metrics.ObserveStoreError("delete")
			c.logger.Warn("failed to drop idle attempt record",
				slog.String("client_id", clientID),
				slog.Any("error", err))
		}
		return allowed
	}

	until := c.blockedUntil(rec)
	if until == nil {
		return allowed
	}

	if !now.Before(*until) {
		if rec.BlockedUntil != nil {
			if err := c.store.ClearBlock(ctx, clientID); err != nil {
				c.metrics.ObserveStoreError("clear_block")
				c.logger.Warn("failed to clear expired block",
					slog.String("client_id", clientID),
					slog.Any("error", err))
			}
		}
		return allowed
	}

	retryAfter := int(math.Ceil(until.Sub(now).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.metrics.ObserveAdmissionBlock()
	c.logger.Warn("login attempt blocked",
		slog.String("client_id", clientID),
		slog.Int("failure_count", rec.FailureCount),
		slog.Int("retry_after_seconds", retryAfter))

	return models.AdmissionDecision{Allowed: false, RetryAfterSeconds: retryAfter}
}

// RecordFailure counts one rejected attempt and applies the lockout step the
// new count reaches.
func (c *AdmissionController) RecordFailure(ctx context.Context, clientID string) {
	if clientID == "" {
		return
	}

	ctx, cancel := c.storeContext(ctx)
	defer cancel()

	now := c.now()
	rec, err := c.store.UpsertFailure(ctx, clientID, now, c.policy.IdleWindow)
	if err != nil {
		c.metrics.ObserveStoreError("upsert_failure")
		c.logger.Error("failed to record login failure",
			slog.String("client_id", clientID),
			slog.Any("error", err))
		return
	}

	lockout := c.policy.LockoutFor(rec.FailureCount)
	if lockout == 0 {
		return
	}

	if err := c.store.SetBlockedUntil(ctx, clientID, now.Add(lockout)); err != nil {
		c.metrics.ObserveStoreError("set_block")
		c.logger.Error("failed to store lockout",
			slog.String("client_id", clientID),
			slog.Any("error", err))
		return
	}

	c.logger.Warn("client locked out",
		slog.String("client_id", clientID),
		slog.Int("failure_count", rec.FailureCount),
		slog.Duration("lockout", lockout))
}

// RecordSuccess forgets every failure recorded for clientID.
func (c *AdmissionController) RecordSuccess(ctx context.Context, clientID string) {
	if clientID == "" {
		return
	}

	ctx, cancel := c.storeContext(ctx)
	defer cancel()

	if err := c.store.Delete(ctx, clientID); err != nil {
		c.metrics.ObserveStoreError("delete")
		c.logger.Error("failed to reset attempt record",
			slog.String("client_id", clientID),
			slog.Any("error", err))
	}
}

// Sweep clears expired blocks and drops records idle past the idle window.
// It is safe to call concurrently with Check.
func (c *AdmissionController) Sweep(ctx context.Context) (cleared, deleted int64, err error) {
	now := c.now()

	cleared, err = c.store.ClearExpiredBlocks(ctx, now)
	if err != nil {
		return 0, 0, err
	}

	// A record stays while its longest possible block could still be running.
	horizon := c.policy.IdleWindow
	if longest := c.policy.MaxLockout(); longest > horizon {
		horizon = longest
	}
	deleted, err = c.store.DeleteIdle(ctx, now.Add(-horizon))
	if err != nil {
		return cleared, 0, err
	}

	if cleared > 0 || deleted > 0 {
		c.logger.Info("admission sweep completed",
			slog.Int64("blocks_cleared", cleared),
			slog.Int64("records_deleted", deleted))
	}
	return cleared, deleted, nil
}

// blockedUntil prefers the stored block and falls back to deriving one from
// the failure count, which covers a crash between upsert and SetBlockedUntil.
func (c *AdmissionController) blockedUntil(rec *models.AttemptRecord) *time.Time {
	if rec.BlockedUntil != nil {
		return rec.BlockedUntil
	}
	if lockout := c.policy.LockoutFor(rec.FailureCount); lockout > 0 {
		until := rec.LastAttemptAt.Add(lockout)
		return &until
	}
	return nil
}

func (c *AdmissionController) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.storeTimeout)
}
