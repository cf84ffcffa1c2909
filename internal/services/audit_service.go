package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/garage/internal/models"
	pkglogger "github.com/BradenHooton/garage/pkg/logger"
)

// AuditEventStore persists login audit events.
type AuditEventStore interface {
	Append(ctx context.Context, e *models.AuditEvent) error
	Recent(ctx context.Context, limit int) ([]models.AuditEvent, error)
	Stats(ctx context.Context, since time.Time) (*models.AuditStats, error)
	HourlyLogins(ctx context.Context, since time.Time) ([]models.HourlyLoginTrend, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// RequestLogStore persists served requests and aggregates them.
type RequestLogStore interface {
	Append(ctx context.Context, l *models.RequestLog) error
	EndpointStats(ctx context.Context, since time.Time, limit int) ([]models.EndpointStat, error)
	SuspiciousClients(ctx context.Context, since time.Time, minFailedRequests, minFailedLogins int64, limit int) ([]models.SuspiciousClient, error)
	PrincipalActivity(ctx context.Context, since time.Time, limit int) ([]models.PrincipalActivity, error)
	HourlyRequests(ctx context.Context, since time.Time) ([]models.HourlyRequestTrend, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SuspiciousClientLister lists clients with many recorded failures. Only the
// Postgres attempt store implements it.
type SuspiciousClientLister interface {
	ListSuspicious(ctx context.Context, minFailures, limit int) ([]models.AttemptRecord, error)
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
	statsWindow       = 24 * time.Hour
	suspiciousMin     = 3

	// A client is suspicious above either threshold inside the stats window.
	suspiciousFailedRequests int64 = 10
	suspiciousFailedLogins   int64 = 3

	maxPendingRequestLogs = 256
)

// AuditService is the audit sink for login outcomes plus the read side used
// by the admin endpoints. Writes go to both the audit log line and the store.
type AuditService struct {
	store        AuditEventStore
	requests     RequestLogStore
	suspicious   SuspiciousClientLister
	auditLogger  *pkglogger.AuditLogger
	logger       *slog.Logger
	writeTimeout time.Duration
	now          func() time.Time

	pending  chan struct{}
	inflight sync.WaitGroup
}

// NewAuditService creates a new AuditService. suspicious may be nil.
func NewAuditService(store AuditEventStore, requests RequestLogStore, suspicious SuspiciousClientLister, auditLogger *pkglogger.AuditLogger, logger *slog.Logger, writeTimeout time.Duration) *AuditService {
	return &AuditService{
		store:        store,
		requests:     requests,
		suspicious:   suspicious,
		pending:      make(chan struct{}, maxPendingRequestLogs),
		auditLogger:  auditLogger,
		logger:       logger,
		writeTimeout: writeTimeout,
		now:          time.Now,
	}
}

// Record appends one event. Failures are logged, never returned. The write is
// detached from request cancellation so a client hanging up cannot drop it.
func (s *AuditService) Record(ctx context.Context, event models.AuditEvent, identifier string) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}

	entry := pkglogger.LoginAuditEntry{
		Identifier: identifier,
		Method:     string(event.Method),
		Outcome:    event.Outcome,
		ClientID:   event.ClientID,
		Success:    event.Success,
	}
	if event.PrincipalID != nil {
		entry.PrincipalID = *event.PrincipalID
	}
	if event.UserAgent != nil {
		entry.UserAgent = *event.UserAgent
	}
	s.auditLogger.LogLogin(ctx, entry)

	writeCtx, cancel := s.detached(ctx)
	defer cancel()

	if err := s.store.Append(writeCtx, &event); err != nil {
		s.logger.Error("failed to persist audit event",
			slog.String("outcome", event.Outcome),
			slog.String("client_id", event.ClientID),
			slog.Any("error", err))
	}
}

func (s *AuditService) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	writeCtx := context.WithoutCancel(ctx)
	if s.writeTimeout > 0 {
		return context.WithTimeout(writeCtx, s.writeTimeout)
	}
	return writeCtx, func() {}
}

// RecordRequest stores one served request in the background. When too many
// writes are pending the entry is dropped and logged.
func (s *AuditService) RecordRequest(ctx context.Context, entry models.RequestLog) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	select {
	case s.pending <- struct{}{}:
	default:
		s.logger.Warn("request log backlog full, dropping entry",
			slog.String("endpoint", entry.Endpoint),
			slog.String("client_id", entry.ClientID))
		return
	}

	writeCtx, cancel := s.detached(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() { <-s.pending }()
		defer cancel()

		if err := s.requests.Append(writeCtx, &entry); err != nil {
			s.logger.Error("failed to persist request log",
				slog.String("endpoint", entry.Endpoint),
				slog.String("client_id", entry.ClientID),
				slog.Any("error", err))
		}
	}()
}

// Wait blocks until every pending request log write has finished.
func (s *AuditService) Wait() {
	s.inflight.Wait()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultAuditLimit
	}
	if limit > maxAuditLimit {
		return maxAuditLimit
	}
	return limit
}

// RecentLogins returns the newest events. limit is clamped to [1, 200].
func (s *AuditService) RecentLogins(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	return s.store.Recent(ctx, clampLimit(limit))
}

// Stats aggregates the last 24 hours.
func (s *AuditService) Stats(ctx context.Context) (*models.AuditStats, error) {
	return s.store.Stats(ctx, s.now().Add(-statsWindow))
}

// BlockedClients lists clients with at least three recorded failures.
func (s *AuditService) BlockedClients(ctx context.Context, limit int) ([]models.AttemptRecord, error) {
	if s.suspicious == nil {
		return []models.AttemptRecord{}, nil
	}
	if limit <= 0 || limit > maxAuditLimit {
		limit = defaultAuditLimit
	}
	return s.suspicious.ListSuspicious(ctx, suspiciousMin, limit)
}

// EndpointStats ranks routes by traffic over the last 24 hours.
func (s *AuditService) EndpointStats(ctx context.Context, limit int) ([]models.EndpointStat, error) {
	return s.requests.EndpointStats(ctx, s.now().Add(-statsWindow), clampLimit(limit))
}

// SuspiciousClients lists clients with more than ten failed requests or more
// than three rejected logins over the last 24 hours.
func (s *AuditService) SuspiciousClients(ctx context.Context, limit int) ([]models.SuspiciousClient, error) {
	return s.requests.SuspiciousClients(ctx, s.now().Add(-statsWindow),
		suspiciousFailedRequests, suspiciousFailedLogins, clampLimit(limit))
}

func (s *AuditService) PrincipalActivity(ctx context.Context, limit int) ([]models.PrincipalActivity, error) {
	return s.requests.PrincipalActivity(ctx, s.now().Add(-statsWindow), clampLimit(limit))
}

// Trends buckets logins and requests by hour over the last 24 hours.
func (s *AuditService) Trends(ctx context.Context) (*models.HourlyTrends, error) {
	since := s.now().Add(-statsWindow)

	logins, err := s.store.HourlyLogins(ctx, since)
	if err != nil {
		return nil, err
	}
	requests, err := s.requests.HourlyRequests(ctx, since)
	if err != nil {
		return nil, err
	}

	return &models.HourlyTrends{Since: since, Logins: logins, Requests: requests}, nil
}

// Purge deletes login events and request logs older than retention.
func (s *AuditService) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)

	deleted, err := s.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	requestsDeleted, err := s.requests.DeleteBefore(ctx, cutoff)
	if err != nil {
		return deleted, err
	}

	if deleted > 0 || requestsDeleted > 0 {
		s.logger.Info("audit retention applied",
			slog.Int64("events_deleted", deleted),
			slog.Int64("request_logs_deleted", requestsDeleted))
	}
	return deleted + requestsDeleted, nil
}
