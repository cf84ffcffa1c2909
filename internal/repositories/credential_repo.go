package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/garage/internal/database"
	"github.com/BradenHooton/garage/internal/models"
	"github.com/google/uuid"
)

type CredentialRepository struct {
	db *database.DB
}

func NewCredentialRepository(db *database.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

const credentialColumns = `id, principal_id, method, secret_material, created_at`

func scanCredentialRow(scanner rowScanner) (*models.Credential, error) {
	var c models.Credential
	if err := scanner.Scan(&c.ID, &c.PrincipalID, &c.Method, &c.SecretMaterial, &c.CreatedAt); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &c, nil
}

// ListByMethod returns the principal's credentials of one method, oldest first.
func (r *CredentialRepository) ListByMethod(ctx context.Context, principalID string, method models.CredentialMethod) ([]models.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE principal_id = $1 AND method = $2
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, principalID, string(method))
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	creds := make([]models.Credential, 0)
	for rows.Next() {
		c, err := scanCredentialRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return creds, nil
}

func (r *CredentialRepository) Create(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	return insertCredential(ctx, r.db.Pool, cred)
}

func insertCredential(ctx context.Context, q querier, cred *models.Credential) (*models.Credential, error) {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}

	query := `
		INSERT INTO credentials (id, principal_id, method, secret_material, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + credentialColumns

	return scanCredentialRow(q.QueryRow(ctx, query, cred.ID, cred.PrincipalID, string(cred.Method), cred.SecretMaterial, time.Now()))
}
