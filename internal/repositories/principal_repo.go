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

type PrincipalRepository struct {
	db *database.DB
}

func NewPrincipalRepository(db *database.DB) *PrincipalRepository {
	return &PrincipalRepository{db: db}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const principalColumns = `id, username, email, role, created_at, updated_at`

func scanPrincipalRow(scanner rowScanner) (*models.Principal, error) {
	var p models.Principal
	err := scanner.Scan(&p.ID, &p.Username, &p.Email, &p.Role, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &p, nil
}

func scanPrincipalRows(rows pgx.Rows) ([]*models.Principal, error) {
	defer rows.Close()

	principals := make([]*models.Principal, 0)
	for rows.Next() {
		p, err := scanPrincipalRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		principals = append(principals, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return principals, nil
}

func (r *PrincipalRepository) GetByID(ctx context.Context, id string) (*models.Principal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	query := `SELECT ` + principalColumns + ` FROM principals WHERE id = $1`
	return scanPrincipalRow(r.db.Pool.QueryRow(ctx, query, id))
}

// FindByIdentifier matches a username exactly, or an e-mail case-insensitively.
// A username match wins over an e-mail match.
func (r *PrincipalRepository) FindByIdentifier(ctx context.Context, identifier string) (*models.Principal, error) {
	query := `
		SELECT ` + principalColumns + `
		FROM principals
		WHERE username = $1 OR lower(email) = lower($1)
		ORDER BY (username = $1) DESC
		LIMIT 1
	`
	return scanPrincipalRow(r.db.Pool.QueryRow(ctx, query, identifier))
}

func (r *PrincipalRepository) GetByEmail(ctx context.Context, email string) (*models.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE lower(email) = lower($1)`
	return scanPrincipalRow(r.db.Pool.QueryRow(ctx, query, email))
}

func (r *PrincipalRepository) List(ctx context.Context, limit, offset int) ([]*models.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query principals: %w", database.MapPostgresError(err))
	}

	return scanPrincipalRows(rows)
}

func (r *PrincipalRepository) Create(ctx context.Context, p *models.Principal) (*models.Principal, error) {
	return insertPrincipal(ctx, r.db.Pool, p)
}

// CreateWithCredential inserts a principal and its first credential atomically.
func (r *PrincipalRepository) CreateWithCredential(ctx context.Context, p *models.Principal, cred *models.Credential) (*models.Principal, error) {
	var created *models.Principal
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		created, err = insertPrincipal(ctx, tx, p)
		if err != nil {
			return err
		}
		cred.PrincipalID = created.ID
		_, err = insertCredential(ctx, tx, cred)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func insertPrincipal(ctx context.Context, q querier, p *models.Principal) (*models.Principal, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Role == "" {
		p.Role = models.RoleVisitor
	}
	now := time.Now()

	query := `
		INSERT INTO principals (id, username, email, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING ` + principalColumns

	return scanPrincipalRow(q.QueryRow(ctx, query, p.ID, p.Username, p.Email, p.Role, now))
}

func (r *PrincipalRepository) UpdateRole(ctx context.Context, id, role string) (*models.Principal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	query := `
		UPDATE principals SET role = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + principalColumns

	return scanPrincipalRow(r.db.Pool.QueryRow(ctx, query, id, role))
}

func (r *PrincipalRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return models.ErrNotFound
	}

	result, err := r.db.Pool.Exec(ctx, `DELETE FROM principals WHERE id = $1`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
