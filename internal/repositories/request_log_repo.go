package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/garage/internal/database"
	"github.com/BradenHooton/garage/internal/models"
	"github.com/google/uuid"
)

// RequestLogRepository stores served requests and answers the audit
// aggregates over them.
type RequestLogRepository struct {
	db *database.DB
}

func NewRequestLogRepository(db *database.DB) *RequestLogRepository {
	return &RequestLogRepository{db: db}
}

func (r *RequestLogRepository) Append(ctx context.Context, l *models.RequestLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO request_logs (id, principal_id, client_id, method, endpoint, path, status_code, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		l.ID, l.PrincipalID, l.ClientID, l.Method, l.Endpoint, l.Path, l.StatusCode, l.DurationMs, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append request log: %w", database.MapPostgresError(err))
	}
	return nil
}

// EndpointStats ranks routes by traffic.
func (r *RequestLogRepository) EndpointStats(ctx context.Context, since time.Time, limit int) ([]models.EndpointStat, error) {
	query := `
		SELECT method, endpoint,
			COUNT(*),
			COUNT(DISTINCT client_id),
			COALESCE(ROUND((100.0 * COUNT(*) FILTER (WHERE status_code BETWEEN 200 AND 299) / COUNT(*))::numeric, 2), 0)::float8
		FROM request_logs
		WHERE created_at >= $1
		GROUP BY method, endpoint
		ORDER BY COUNT(*) DESC, endpoint
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoint stats: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	stats := make([]models.EndpointStat, 0)
	for rows.Next() {
		var s models.EndpointStat
		if err := rows.Scan(&s.Method, &s.Endpoint, &s.TotalRequests, &s.UniqueClients, &s.SuccessRate); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint stat: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating endpoint stats: %w", err)
	}
	return stats, nil
}

// SuspiciousClients returns clients with more than minFailedRequests 4xx/5xx
// responses or more than minFailedLogins rejected logins since the cutoff.
func (r *RequestLogRepository) SuspiciousClients(ctx context.Context, since time.Time, minFailedRequests, minFailedLogins int64, limit int) ([]models.SuspiciousClient, error) {
	query := `
		WITH reqs AS (
			SELECT client_id,
				COUNT(*) AS total,
				COUNT(*) FILTER (WHERE status_code >= 400) AS failed,
				MAX(created_at) AS last_seen
			FROM request_logs
			WHERE created_at >= $1
			GROUP BY client_id
		), logins AS (
			SELECT client_id,
				COUNT(*) AS failed,
				MAX(created_at) AS last_seen
			FROM login_audit
			WHERE created_at >= $1 AND outcome = ANY($2)
			GROUP BY client_id
		)
		SELECT COALESCE(reqs.client_id, logins.client_id) AS client_id,
			COALESCE(reqs.total, 0),
			COALESCE(reqs.failed, 0),
			COALESCE(logins.failed, 0),
			GREATEST(reqs.last_seen, logins.last_seen)
		FROM reqs
		FULL OUTER JOIN logins ON logins.client_id = reqs.client_id
		WHERE COALESCE(reqs.failed, 0) > $3 OR COALESCE(logins.failed, 0) > $4
		ORDER BY COALESCE(logins.failed, 0) DESC, COALESCE(reqs.failed, 0) DESC, client_id
		LIMIT $5
	`

	rows, err := r.db.Pool.Query(ctx, query, since, models.RejectedLoginOutcomes, minFailedRequests, minFailedLogins, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query suspicious clients: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	clients := make([]models.SuspiciousClient, 0)
	for rows.Next() {
		var c models.SuspiciousClient
		if err := rows.Scan(&c.ClientID, &c.TotalRequests, &c.FailedRequests, &c.FailedLogins, &c.LastSeenAt); err != nil {
			return nil, fmt.Errorf("failed to scan suspicious client: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating suspicious clients: %w", err)
	}
	return clients, nil
}

// PrincipalActivity ranks principals by requests made since the cutoff.
// Principals with logins but no requests are included.
func (r *RequestLogRepository) PrincipalActivity(ctx context.Context, since time.Time, limit int) ([]models.PrincipalActivity, error) {
	query := `
		WITH reqs AS (
			SELECT principal_id, COUNT(*) AS total, MAX(created_at) AS last_seen
			FROM request_logs
			WHERE created_at >= $1 AND principal_id IS NOT NULL
			GROUP BY principal_id
		), logins AS (
			SELECT principal_id,
				COUNT(*) FILTER (WHERE success) AS ok,
				COUNT(*) FILTER (WHERE NOT success) AS failed,
				MAX(created_at) AS last_seen
			FROM login_audit
			WHERE created_at >= $1 AND principal_id IS NOT NULL
			GROUP BY principal_id
		)
		SELECT p.id, p.username, p.role,
			COALESCE(reqs.total, 0),
			COALESCE(logins.ok, 0),
			COALESCE(logins.failed, 0),
			GREATEST(reqs.last_seen, logins.last_seen)
		FROM principals p
		LEFT JOIN reqs ON reqs.principal_id = p.id
		LEFT JOIN logins ON logins.principal_id = p.id
		WHERE reqs.principal_id IS NOT NULL OR logins.principal_id IS NOT NULL
		ORDER BY COALESCE(reqs.total, 0) DESC, p.username
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query principal activity: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	activity := make([]models.PrincipalActivity, 0)
	for rows.Next() {
		var a models.PrincipalActivity
		if err := rows.Scan(&a.PrincipalID, &a.Username, &a.Role, &a.TotalRequests,
			&a.SuccessfulLogins, &a.FailedLogins, &a.LastActivityAt); err != nil {
			return nil, fmt.Errorf("failed to scan principal activity: %w", err)
		}
		activity = append(activity, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating principal activity: %w", err)
	}
	return activity, nil
}

// HourlyRequests buckets requests by hour, oldest first.
func (r *RequestLogRepository) HourlyRequests(ctx context.Context, since time.Time) ([]models.HourlyRequestTrend, error) {
	query := `
		SELECT date_trunc('hour', created_at) AS hour,
			COUNT(*),
			COUNT(DISTINCT client_id)
		FROM request_logs
		WHERE created_at >= $1
		GROUP BY hour
		ORDER BY hour
	`

	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query request trends: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	trends := make([]models.HourlyRequestTrend, 0)
	for rows.Next() {
		var t models.HourlyRequestTrend
		if err := rows.Scan(&t.Hour, &t.Total, &t.UniqueClients); err != nil {
			return nil, fmt.Errorf("failed to scan request trend: %w", err)
		}
		trends = append(trends, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating request trends: %w", err)
	}
	return trends, nil
}

func (r *RequestLogRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM request_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
