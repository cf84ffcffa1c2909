package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/garage/internal/models"
	pkglogger "github.com/BradenHooton/garage/pkg/logger"
)

// PrincipalAdminStore is the subset of the principal repository the admin
// endpoints need.
type PrincipalAdminStore interface {
	GetByID(ctx context.Context, id string) (*models.Principal, error)
	List(ctx context.Context, limit, offset int) ([]*models.Principal, error)
	UpdateRole(ctx context.Context, id, role string) (*models.Principal, error)
	Delete(ctx context.Context, id string) error
}

// PrincipalService handles principal administration
type PrincipalService struct {
	store       PrincipalAdminStore
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
}

func NewPrincipalService(store PrincipalAdminStore, auditLogger *pkglogger.AuditLogger, logger *slog.Logger) *PrincipalService {
	return &PrincipalService{
		store:       store,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

func (s *PrincipalService) Get(ctx context.Context, id string) (*models.Principal, error) {
	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to get principal", slog.String("user_id", id), slog.Any("error", err))
		}
		return nil, err
	}
	return p, nil
}

func (s *PrincipalService) List(ctx context.Context, limit, offset int) ([]*models.Principal, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	principals, err := s.store.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list principals", slog.Any("error", err))
		return nil, err
	}
	return principals, nil
}

// UpdateRole changes another principal's role. Changing one's own role is
// forbidden so the last super admin cannot lock everyone out by accident.
func (s *PrincipalService) UpdateRole(ctx context.Context, actorID, id, role string) (*models.Principal, error) {
	if !models.IsValidRole(role) {
		return nil, fmt.Errorf("%w: invalid role", models.ErrBadRequest)
	}
	if actorID == id {
		return nil, fmt.Errorf("%w: cannot change your own role", models.ErrForbidden)
	}

	p, err := s.store.UpdateRole(ctx, id, role)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to update role", slog.String("user_id", id), slog.Any("error", err))
		}
		return nil, err
	}

	s.auditLogger.LogAccountAction(ctx, "role_changed", actorID, id, map[string]string{"role": role})
	return p, nil
}

func (s *PrincipalService) Delete(ctx context.Context, actorID, id string) error {
	if actorID == id {
		return fmt.Errorf("%w: cannot delete yourself", models.ErrForbidden)
	}

	if err := s.store.Delete(ctx, id); err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to delete principal", slog.String("user_id", id), slog.Any("error", err))
		}
		return err
	}

	s.auditLogger.LogAccountAction(ctx, "principal_deleted", actorID, id, nil)
	return nil
}
