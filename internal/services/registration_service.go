package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BradenHooton/garage/internal/models"
	pkgauth "github.com/BradenHooton/garage/pkg/auth"
	pkglogger "github.com/BradenHooton/garage/pkg/logger"
)

// RegistrationStore creates principals together with their first credential.
type RegistrationStore interface {
	FindByIdentifier(ctx context.Context, identifier string) (*models.Principal, error)
	CreateWithCredential(ctx context.Context, p *models.Principal, cred *models.Credential) (*models.Principal, error)
}

// RegisterRequest describes a new principal and its first credential.
type RegisterRequest struct {
	Username  string
	Email     *string
	Password  string
	Method    models.CredentialMethod
	Algorithm string // HASHED only: bcrypt, md5 or sha256
	Role      string // empty means VISITOR
}

type RegistrationService struct {
	store       RegistrationStore
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
}

func NewRegistrationService(store RegistrationStore, auditLogger *pkglogger.AuditLogger, logger *slog.Logger) *RegistrationService {
	return &RegistrationService{
		store:       store,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// Register creates a principal with a PLAINTEXT or HASHED credential.
func (s *RegistrationService) Register(ctx context.Context, req RegisterRequest) (*models.Principal, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", models.ErrBadRequest)
	}

	var email *string
	if req.Email != nil {
		if e := strings.ToLower(strings.TrimSpace(*req.Email)); e != "" {
			email = &e
		}
	}

	role := req.Role
	if role == "" {
		role = models.RoleVisitor
	}
	if !models.IsValidRole(role) {
		return nil, fmt.Errorf("%w: invalid role", models.ErrBadRequest)
	}

	if err := pkgauth.ValidatePassword(req.Password); err != nil {
		var pve *pkgauth.PasswordValidationError
		if errors.As(err, &pve) && len(pve.Errors) > 0 {
			return nil, fmt.Errorf("%w: password %s", models.ErrBadRequest, strings.Join(pve.Errors, ", "))
		}
		return nil, fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}

	material, err := secretMaterial(req)
	if err != nil {
		return nil, err
	}

	p, err := s.store.CreateWithCredential(ctx,
		&models.Principal{Username: username, Email: email, Role: role},
		&models.Credential{Method: req.Method, SecretMaterial: &material},
	)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, fmt.Errorf("%w: username or email already registered", models.ErrConflict)
		}
		s.logger.Error("failed to register principal", slog.Any("error", err))
		return nil, fmt.Errorf("failed to register principal: %w", err)
	}

	s.auditLogger.LogAccountAction(ctx, "principal_registered", p.ID, p.ID, map[string]string{
		"method": string(req.Method),
		"role":   p.Role,
	})

	return p, nil
}

// BootstrapSuperAdmin creates a SUPER_ADMIN with a bcrypt HASHED credential
// unless username already exists. It reports whether a principal was created.
func (s *RegistrationService) BootstrapSuperAdmin(ctx context.Context, username string, email *string, password string) (bool, error) {
	_, err := s.store.FindByIdentifier(ctx, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return false, fmt.Errorf("failed to look up bootstrap principal: %w", err)
	}

	p, err := s.Register(ctx, RegisterRequest{
		Username:  username,
		Email:     email,
		Password:  password,
		Method:    models.MethodHashed,
		Algorithm: string(pkgauth.SchemeBcrypt),
		Role:      models.RoleSuperAdmin,
	})
	if err != nil {
		return false, err
	}

	s.logger.Info("bootstrapped super admin", slog.String("user_id", p.ID))
	return true, nil
}

func secretMaterial(req RegisterRequest) (string, error) {
	switch req.Method {
	case models.MethodPlaintext:
		return req.Password, nil
	case models.MethodHashed:
		scheme, err := pkgauth.ParseScheme(req.Algorithm)
		if err != nil {
			return "", fmt.Errorf("%w: %v", models.ErrBadRequest, err)
		}
		hashed, err := pkgauth.HashSecret(req.Password, scheme)
		if err != nil {
			return "", fmt.Errorf("failed to hash secret: %w", err)
		}
		return hashed, nil
	default:
		return "", fmt.Errorf("%w: unsupported method %q", models.ErrBadRequest, req.Method)
	}
}
