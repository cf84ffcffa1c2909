package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/garage/internal/database"
	"github.com/BradenHooton/garage/internal/models"
)

// AttemptRecordRepository is the Postgres attempt counter store.
type AttemptRecordRepository struct {
	db *database.DB
}

func NewAttemptRecordRepository(db *database.DB) *AttemptRecordRepository {
	return &AttemptRecordRepository{db: db}
}

func scanAttemptRecord(scanner rowScanner) (*models.AttemptRecord, error) {
	var rec models.AttemptRecord
	if err := scanner.Scan(&rec.ClientID, &rec.FailureCount, &rec.LastAttemptAt, &rec.BlockedUntil); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &rec, nil
}

func (r *AttemptRecordRepository) Get(ctx context.Context, clientID string) (*models.AttemptRecord, error) {
	query := `
		SELECT client_id, failure_count, last_attempt_at, blocked_until
		FROM attempt_records WHERE client_id = $1
	`

	rec, err := scanAttemptRecord(r.db.Pool.QueryRow(ctx, query, clientID))
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

func (r *AttemptRecordRepository) UpsertFailure(ctx context.Context, clientID string, now time.Time, idleWindow time.Duration) (*models.AttemptRecord, error) {
	query := `
		INSERT INTO attempt_records (client_id, failure_count, last_attempt_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (client_id) DO UPDATE SET
			failure_count = CASE
				WHEN attempt_records.last_attempt_at < $3 THEN 1
				ELSE attempt_records.failure_count + 1
			END,
			blocked_until = CASE
				WHEN attempt_records.last_attempt_at < $3 OR attempt_records.blocked_until <= $2 THEN NULL
				ELSE attempt_records.blocked_until
			END,
			last_attempt_at = $2
		RETURNING client_id, failure_count, last_attempt_at, blocked_until
	`

	return scanAttemptRecord(r.db.Pool.QueryRow(ctx, query, clientID, now, now.Add(-idleWindow)))
}

func (r *AttemptRecordRepository) SetBlockedUntil(ctx context.Context, clientID string, until time.Time) error {
	query := `UPDATE attempt_records SET blocked_until = $2 WHERE client_id = $1`

	result, err := r.db.Pool.Exec(ctx, query, clientID, until)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *AttemptRecordRepository) ClearBlock(ctx context.Context, clientID string) error {
	query := `UPDATE attempt_records SET blocked_until = NULL WHERE client_id = $1`

	if _, err := r.db.Pool.Exec(ctx, query, clientID); err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

func (r *AttemptRecordRepository) Delete(ctx context.Context, clientID string) error {
	query := `DELETE FROM attempt_records WHERE client_id = $1`

	if _, err := r.db.Pool.Exec(ctx, query, clientID); err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

func (r *AttemptRecordRepository) ClearExpiredBlocks(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE attempt_records SET blocked_until = NULL WHERE blocked_until <= $1`

	result, err := r.db.Pool.Exec(ctx, query, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

func (r *AttemptRecordRepository) DeleteIdle(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM attempt_records WHERE last_attempt_at < $1`

	result, err := r.db.Pool.Exec(ctx, query, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// ListSuspicious returns the clients with the most recorded failures.
func (r *AttemptRecordRepository) ListSuspicious(ctx context.Context, minFailures, limit int) ([]models.AttemptRecord, error) {
	query := `
		SELECT client_id, failure_count, last_attempt_at, blocked_until
		FROM attempt_records
		WHERE failure_count >= $1
		ORDER BY failure_count DESC, last_attempt_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, minFailures, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempt records: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	records := make([]models.AttemptRecord, 0)
	for rows.Next() {
		rec, err := scanAttemptRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}
