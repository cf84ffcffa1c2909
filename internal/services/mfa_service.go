package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/garage/internal/auth"
	"github.com/BradenHooton/garage/internal/models"
	pkglogger "github.com/BradenHooton/garage/pkg/logger"
)

// MFAStore persists the single TOTP enrollment of each principal.
// Get, Enable and Delete return models.ErrNotFound when there is no row.
// MarkUsed returns models.ErrConflict unless step is newer than the stored one.
type MFAStore interface {
	Get(ctx context.Context, principalID string) (*models.MFAEnrollment, error)
	CreatePending(ctx context.Context, e *models.MFAEnrollment) (*models.MFAEnrollment, error)
	Enable(ctx context.Context, principalID string, at time.Time) error
	MarkUsed(ctx context.Context, principalID string, step int64) error
	Delete(ctx context.Context, principalID string) error
}

// MFAService handles TOTP enrollment, verification and management.
type MFAService struct {
	store       MFAStore
	totp        *auth.TOTPManager
	notifier    Notifier
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
	now         func() time.Time
}

// NewMFAService creates a new MFA service
func NewMFAService(store MFAStore, totp *auth.TOTPManager, notifier Notifier, auditLogger *pkglogger.AuditLogger, logger *slog.Logger) *MFAService {
	return &MFAService{
		store:       store,
		totp:        totp,
		notifier:    notifier,
		auditLogger: auditLogger,
		logger:      logger,
		now:         time.Now,
	}
}

// Enrollment returns the principal's enrollment, or nil when there is none.
func (s *MFAService) Enrollment(ctx context.Context, principalID string) (*models.MFAEnrollment, error) {
	e, err := s.store.Get(ctx, principalID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load enrollment: %w", err)
	}
	return e, nil
}

// Status summarises the principal's enrollment.
func (s *MFAService) Status(ctx context.Context, principalID string) (*models.MFAStatus, error) {
	e, err := s.Enrollment(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return &models.MFAStatus{}, nil
	}

	createdAt := e.CreatedAt
	return &models.MFAStatus{
		Enrolled:  true,
		Enabled:   e.Enabled,
		CreatedAt: &createdAt,
		EnabledAt: e.EnabledAt,
	}, nil
}

// EnsurePending returns the principal's enrollment, creating a disabled one if
// none exists. The payload is set only while the enrollment is not enabled, so
// an active secret is never shown again.
func (s *MFAService) EnsurePending(ctx context.Context, p *models.Principal) (*models.MFAEnrollment, *models.MFAEnrollmentPayload, error) {
	existing, err := s.Enrollment(ctx, p.ID)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		if existing.Enabled {
			return existing, nil, nil
		}
		payload, err := s.payloadFor(existing, p)
		if err != nil {
			return nil, nil, err
		}
		return existing, payload, nil
	}

	fresh, err := s.totp.Enroll(accountName(p))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate enrollment: %w", err)
	}

	stored, err := s.store.CreatePending(ctx, &models.MFAEnrollment{
		PrincipalID:     p.ID,
		SecretEncrypted: fresh.SecretEncrypted,
		SecretNonce:     fresh.SecretNonce,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to store enrollment: %w", err)
	}

	s.logger.Info("mfa enrollment created", slog.String("user_id", p.ID))

	// A concurrent request may have stored its own secret first.
	if stored.Enabled {
		return stored, nil, nil
	}
	payload, err := s.payloadFor(stored, p)
	if err != nil {
		return nil, nil, err
	}
	return stored, payload, nil
}

// Setup starts enrollment from the account settings.
func (s *MFAService) Setup(ctx context.Context, p *models.Principal) (*models.MFAEnrollmentPayload, error) {
	e, payload, err := s.EnsurePending(ctx, p)
	if err != nil {
		return nil, err
	}
	if e.Enabled {
		return nil, fmt.Errorf("%w: second factor already enabled", models.ErrConflict)
	}
	return payload, nil
}

// VerifyCode checks a TOTP code against the principal's enrollment. A pending
// enrollment is activated by its first valid code. Each time step is accepted
// at most once.
func (s *MFAService) VerifyCode(ctx context.Context, p *models.Principal, code string) error {
	return s.verify(ctx, p, code, nil)
}

// VerifyChallengeCode is VerifyCode for a challenge issued while the
// enrollment's last accepted step was challengeStep. Once any code has been
// accepted since, the challenge is spent.
func (s *MFAService) VerifyChallengeCode(ctx context.Context, p *models.Principal, code string, challengeStep int64) error {
	return s.verify(ctx, p, code, &challengeStep)
}

func (s *MFAService) verify(ctx context.Context, p *models.Principal, code string, challengeStep *int64) error {
	e, err := s.Enrollment(ctx, p.ID)
	if err != nil {
		return err
	}
	if e == nil {
		return models.ErrBadSecondFactor
	}
	if challengeStep != nil && e.LastUsedStep != *challengeStep {
		s.logger.Warn("spent mfa challenge presented", slog.String("user_id", p.ID))
		return models.ErrBadSecondFactor
	}

	ok, err := s.check(ctx, e, code)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrBadSecondFactor
	}

	if !e.Enabled {
		return s.activate(ctx, p)
	}
	return nil
}

// Enable confirms a pending enrollment.
func (s *MFAService) Enable(ctx context.Context, p *models.Principal, code string) error {
	e, err := s.Enrollment(ctx, p.ID)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("%w: no pending enrollment", models.ErrNotFound)
	}
	if e.Enabled {
		return fmt.Errorf("%w: second factor already enabled", models.ErrConflict)
	}

	ok, err := s.check(ctx, e, code)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrBadSecondFactor
	}
	return s.activate(ctx, p)
}

// Disable removes an active enrollment after checking a current code. The
// next setup generates a new secret.
func (s *MFAService) Disable(ctx context.Context, p *models.Principal, code string) error {
	e, err := s.Enrollment(ctx, p.ID)
	if err != nil {
		return err
	}
	if e == nil || !e.Enabled {
		return fmt.Errorf("%w: second factor is not enabled", models.ErrNotFound)
	}

	ok, err := s.check(ctx, e, code)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrBadSecondFactor
	}

	if err := s.store.Delete(ctx, p.ID); err != nil {
		return fmt.Errorf("failed to delete enrollment: %w", err)
	}

	s.auditLogger.LogAccountAction(ctx, "mfa_disabled", p.ID, p.ID, nil)
	return nil
}

func (s *MFAService) activate(ctx context.Context, p *models.Principal) error {
	now := s.now()
	if err := s.store.Enable(ctx, p.ID, now); err != nil {
		// Lost a race with another activation; the enrollment is enabled either way.
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to enable enrollment: %w", err)
	}

	s.auditLogger.LogAccountAction(ctx, "mfa_enabled", p.ID, p.ID, nil)

	if p.Email != nil && *p.Email != "" {
		if err := s.notifier.NotifySecondFactorEnabled(ctx, *p.Email, p.Username, now); err != nil {
			s.logger.Warn("failed to send mfa notification",
				slog.String("user_id", p.ID),
				slog.Any("error", err))
		}
	}
	return nil
}

// check validates code and records its time step. A step at or before the
// last accepted one is a replay and fails like a wrong code.
func (s *MFAService) check(ctx context.Context, e *models.MFAEnrollment, code string) (bool, error) {
	secret, err := s.totp.Open(e.SecretEncrypted, e.SecretNonce)
	if err != nil {
		return false, fmt.Errorf("failed to open enrollment secret: %w", err)
	}

	step, ok := s.totp.MatchStep(secret, code, s.now())
	if !ok {
		return false, nil
	}
	if step <= e.LastUsedStep {
		s.logger.Warn("totp code replay rejected", slog.String("user_id", e.PrincipalID))
		return false, nil
	}

	if err := s.store.MarkUsed(ctx, e.PrincipalID, step); err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.logger.Warn("totp code replay rejected", slog.String("user_id", e.PrincipalID))
			return false, nil
		}
		return false, fmt.Errorf("failed to record code use: %w", err)
	}
	return true, nil
}

func (s *MFAService) payloadFor(e *models.MFAEnrollment, p *models.Principal) (*models.MFAEnrollmentPayload, error) {
	secret, err := s.totp.Open(e.SecretEncrypted, e.SecretNonce)
	if err != nil {
		return nil, fmt.Errorf("failed to open enrollment secret: %w", err)
	}
	qr, err := s.totp.QRCode(secret, accountName(p))
	if err != nil {
		return nil, err
	}
	return &models.MFAEnrollmentPayload{QRCode: qr, ManualEntryKey: secret}, nil
}

func accountName(p *models.Principal) string {
	if p.Email != nil && *p.Email != "" {
		return *p.Email
	}
	return p.Username
}
