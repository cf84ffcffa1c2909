package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/garage/internal/database"
	"github.com/BradenHooton/garage/internal/models"
)

type MFAEnrollmentRepository struct {
	db *database.DB
}

func NewMFAEnrollmentRepository(db *database.DB) *MFAEnrollmentRepository {
	return &MFAEnrollmentRepository{db: db}
}

const enrollmentColumns = `principal_id, secret_encrypted, secret_nonce, enabled, created_at, enabled_at, last_used_step`

func scanEnrollmentRow(scanner rowScanner) (*models.MFAEnrollment, error) {
	var e models.MFAEnrollment
	err := scanner.Scan(&e.PrincipalID, &e.SecretEncrypted, &e.SecretNonce, &e.Enabled, &e.CreatedAt, &e.EnabledAt, &e.LastUsedStep)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &e, nil
}

// Get returns models.ErrNotFound when the principal has no enrollment.
func (r *MFAEnrollmentRepository) Get(ctx context.Context, principalID string) (*models.MFAEnrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM mfa_enrollments WHERE principal_id = $1`
	return scanEnrollmentRow(r.db.Pool.QueryRow(ctx, query, principalID))
}

// CreatePending stores a disabled enrollment unless one already exists, and
// returns whichever row is stored. Two racing first logins end up sharing the
// same secret.
func (r *MFAEnrollmentRepository) CreatePending(ctx context.Context, e *models.MFAEnrollment) (*models.MFAEnrollment, error) {
	query := `
		WITH ins AS (
			INSERT INTO mfa_enrollments (principal_id, secret_encrypted, secret_nonce, enabled, created_at)
			VALUES ($1, $2, $3, FALSE, $4)
			ON CONFLICT (principal_id) DO NOTHING
			RETURNING ` + enrollmentColumns + `
		)
		SELECT ` + enrollmentColumns + ` FROM ins
		UNION ALL
		SELECT ` + enrollmentColumns + ` FROM mfa_enrollments
		WHERE principal_id = $1 AND NOT EXISTS (SELECT 1 FROM ins)
	`

	return scanEnrollmentRow(r.db.Pool.QueryRow(ctx, query, e.PrincipalID, e.SecretEncrypted, e.SecretNonce, time.Now()))
}

// Enable flips a pending enrollment to active.
func (r *MFAEnrollmentRepository) Enable(ctx context.Context, principalID string, at time.Time) error {
	query := `
		UPDATE mfa_enrollments SET enabled = TRUE, enabled_at = $2
		WHERE principal_id = $1 AND enabled = FALSE
	`

	result, err := r.db.Pool.Exec(ctx, query, principalID, at)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// MarkUsed advances last_used_step to step. It returns models.ErrConflict
// when step is not newer than the stored one, so two requests racing with
// the same code cannot both succeed.
func (r *MFAEnrollmentRepository) MarkUsed(ctx context.Context, principalID string, step int64) error {
	query := `
		UPDATE mfa_enrollments SET last_used_step = $2
		WHERE principal_id = $1 AND last_used_step < $2
	`

	result, err := r.db.Pool.Exec(ctx, query, principalID, step)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrConflict
	}
	return nil
}

func (r *MFAEnrollmentRepository) Delete(ctx context.Context, principalID string) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM mfa_enrollments WHERE principal_id = $1`, principalID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
