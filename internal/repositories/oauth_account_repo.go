package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/garage/internal/database"
	"github.com/BradenHooton/garage/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OAuthAccountRepository maps delegated identities to principals.
type OAuthAccountRepository struct {
	db *database.DB
}

func NewOAuthAccountRepository(db *database.DB) *OAuthAccountRepository {
	return &OAuthAccountRepository{db: db}
}

func (r *OAuthAccountRepository) GetBySubject(ctx context.Context, provider, subjectID string) (*models.OAuthAccount, error) {
	query := `
		SELECT id, principal_id, provider, subject_id, email, created_at
		FROM oauth_accounts WHERE provider = $1 AND subject_id = $2
	`

	var a models.OAuthAccount
	err := r.db.Pool.QueryRow(ctx, query, provider, subjectID).Scan(
		&a.ID, &a.PrincipalID, &a.Provider, &a.SubjectID, &a.Email, &a.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &a, nil
}

// Link maps the identity to an existing principal and records a DELEGATED
// credential for it, in one transaction.
func (r *OAuthAccountRepository) Link(ctx context.Context, principalID string, identity *models.DelegatedIdentity) (*models.OAuthAccount, error) {
	var account *models.OAuthAccount
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		account, err = linkIdentity(ctx, tx, principalID, identity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Provision creates a principal for a first-time delegated identity and links it.
func (r *OAuthAccountRepository) Provision(ctx context.Context, p *models.Principal, identity *models.DelegatedIdentity) (*models.Principal, error) {
	var created *models.Principal
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		created, err = insertPrincipal(ctx, tx, p)
		if err != nil {
			return err
		}
		_, err = linkIdentity(ctx, tx, created.ID, identity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func linkIdentity(ctx context.Context, tx pgx.Tx, principalID string, identity *models.DelegatedIdentity) (*models.OAuthAccount, error) {
	account := &models.OAuthAccount{
		ID:          uuid.New().String(),
		PrincipalID: principalID,
		Provider:    identity.Provider,
		SubjectID:   identity.SubjectID,
		Email:       identity.Email,
		CreatedAt:   time.Now(),
	}

	query := `
		INSERT INTO oauth_accounts (id, principal_id, provider, subject_id, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := tx.Exec(ctx, query, account.ID, account.PrincipalID, account.Provider, account.SubjectID, account.Email, account.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if _, err := insertCredential(ctx, tx, &models.Credential{
		PrincipalID: principalID,
		Method:      models.MethodDelegated,
	}); err != nil {
		return nil, err
	}

	return account, nil
}
