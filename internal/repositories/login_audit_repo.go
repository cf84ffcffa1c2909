package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/garage/internal/database"
	"github.com/BradenHooton/garage/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LoginAuditRepository is the append-only store behind the audit sink.
type LoginAuditRepository struct {
	db *database.DB
}

func NewLoginAuditRepository(db *database.DB) *LoginAuditRepository {
	return &LoginAuditRepository{db: db}
}

func scanAuditEventRow(row rowScanner) (*models.AuditEvent, error) {
	var e models.AuditEvent
	err := row.Scan(&e.ID, &e.PrincipalID, &e.Method, &e.Success, &e.Outcome, &e.ClientID, &e.UserAgent, &e.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &e, nil
}

func scanAuditEventRows(rows pgx.Rows) ([]models.AuditEvent, error) {
	defer rows.Close()

	events := make([]models.AuditEvent, 0)
	for rows.Next() {
		e, err := scanAuditEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}

	return events, nil
}

func (r *LoginAuditRepository) Append(ctx context.Context, e *models.AuditEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO login_audit (id, principal_id, method, success, outcome, client_id, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		e.ID, e.PrincipalID, string(e.Method), e.Success, e.Outcome, e.ClientID, e.UserAgent, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", database.MapPostgresError(err))
	}
	return nil
}

// Recent returns the newest events first.
func (r *LoginAuditRepository) Recent(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	query := `
		SELECT id, principal_id, method, success, outcome, client_id, user_agent, created_at
		FROM login_audit
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", database.MapPostgresError(err))
	}

	return scanAuditEventRows(rows)
}

func (r *LoginAuditRepository) Stats(ctx context.Context, since time.Time) (*models.AuditStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE success),
			COUNT(*) FILTER (WHERE NOT success),
			COUNT(*) FILTER (WHERE outcome = $2),
			COUNT(DISTINCT principal_id),
			COUNT(DISTINCT client_id)
		FROM login_audit
		WHERE created_at >= $1
	`

	stats := &models.AuditStats{Since: since}
	err := r.db.Pool.QueryRow(ctx, query, since, models.AuditOutcomeAdmissionBlocked).Scan(
		&stats.Total, &stats.Successful, &stats.Failed, &stats.Blocked,
		&stats.UniquePrincipals, &stats.UniqueClients,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute audit stats: %w", database.MapPostgresError(err))
	}
	return stats, nil
}

// HourlyLogins buckets login attempts by hour, oldest first.
func (r *LoginAuditRepository) HourlyLogins(ctx context.Context, since time.Time) ([]models.HourlyLoginTrend, error) {
	query := `
		SELECT date_trunc('hour', created_at) AS hour,
			COUNT(*),
			COUNT(*) FILTER (WHERE success)
		FROM login_audit
		WHERE created_at >= $1
		GROUP BY hour
		ORDER BY hour
	`

	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query login trends: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	trends := make([]models.HourlyLoginTrend, 0)
	for rows.Next() {
		var t models.HourlyLoginTrend
		if err := rows.Scan(&t.Hour, &t.Total, &t.Successful); err != nil {
			return nil, fmt.Errorf("failed to scan login trend: %w", err)
		}
		trends = append(trends, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating login trends: %w", err)
	}
	return trends, nil
}

// DeleteBefore enforces retention.
func (r *LoginAuditRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM login_audit WHERE created_at < $1`, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
