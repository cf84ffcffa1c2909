package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/garage/internal/auth"
	"github.com/BradenHooton/garage/internal/models"
	pkgauth "github.com/BradenHooton/garage/pkg/auth"
)

// PrincipalStore looks principals up. Misses return models.ErrNotFound.
type PrincipalStore interface {
	GetByID(ctx context.Context, id string) (*models.Principal, error)
	FindByIdentifier(ctx context.Context, identifier string) (*models.Principal, error)
	GetByEmail(ctx context.Context, email string) (*models.Principal, error)
}

// CredentialStore lists a principal's credentials of one method, oldest first.
type CredentialStore interface {
	ListByMethod(ctx context.Context, principalID string, method models.CredentialMethod) ([]models.Credential, error)
}

// OAuthStore maps delegated identities to principals.
type OAuthStore interface {
	GetBySubject(ctx context.Context, provider, subjectID string) (*models.OAuthAccount, error)
	Link(ctx context.Context, principalID string, identity *models.DelegatedIdentity) (*models.OAuthAccount, error)
	Provision(ctx context.Context, p *models.Principal, identity *models.DelegatedIdentity) (*models.Principal, error)
}

// AuditSink receives exactly one event per login outcome.
type AuditSink interface {
	Record(ctx context.Context, event models.AuditEvent, identifier string)
}

// Admission is the admission controller as seen by the login flow.
type Admission interface {
	Check(ctx context.Context, clientID string) models.AdmissionDecision
	RecordFailure(ctx context.Context, clientID string)
	RecordSuccess(ctx context.Context, clientID string)
}

// LoginRequest is one PLAINTEXT or HASHED login attempt.
type LoginRequest struct {
	Identifier string
	Secret     string
	Code       string // optional one-shot second factor
	Method     models.CredentialMethod
	ClientID   string
	UserAgent  *string
}

// ChallengeRequest completes a login that was answered with a challenge.
type ChallengeRequest struct {
	ChallengeToken string
	Code           string
	ClientID       string
	UserAgent      *string
}

// DelegatedLoginRequest is a login through an external identity provider.
type DelegatedLoginRequest struct {
	Assertion auth.DelegatedAssertion
	ClientID  string
	UserAgent *string
}

// LoginConfig holds login policy switches.
type LoginConfig struct {
	// EnforceOnHashed makes every HASHED login go through a second factor,
	// enrolling the principal on first use.
	EnforceOnHashed bool
}

// LoginService is the credential verifier. It runs the admission check, the
// method-specific primary check, the optional TOTP step and session issuance,
// and reports each terminal outcome once to the audit sink and the admission
// controller.
type LoginService struct {
	principals  PrincipalStore
	credentials CredentialStore
	oauth       OAuthStore
	mfa         *MFAService
	admission   Admission
	audit       AuditSink
	tokens      *auth.TokenManager
	identities  auth.IdentityVerifier
	timing      *auth.TimingDelay
	metrics     LoginMetrics
	config      LoginConfig
	logger      *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewLoginService creates a new LoginService
func NewLoginService(
	principals PrincipalStore,
	credentials CredentialStore,
	oauth OAuthStore,
	mfa *MFAService,
	admission Admission,
	audit AuditSink,
	tokens *auth.TokenManager,
	identities auth.IdentityVerifier,
	timing *auth.TimingDelay,
	metrics LoginMetrics,
	config LoginConfig,
	logger *slog.Logger,
) *LoginService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &LoginService{
		principals:  principals,
		credentials: credentials,
		oauth:       oauth,
		mfa:         mfa,
		admission:   admission,
		audit:       audit,
		tokens:      tokens,
		identities:  identities,
		timing:      timing,
		metrics:     metrics,
		config:      config,
		logger:      logger,
	}
}

// attempt carries what every outcome report needs.
type attempt struct {
	method      models.CredentialMethod
	identifier  string
	clientID    string
	userAgent   *string
	principalID string
	start       time.Time
}

// Login authenticates a PLAINTEXT or HASHED attempt. It returns a result with
// either a session or a challenge, or one of: *models.AdmissionBlockedError,
// ErrUnknownPrincipal, ErrBadPrimarySecret, ErrBadSecondFactor, or an
// internal error.
func (s *LoginService) Login(ctx context.Context, req LoginRequest) (*models.LoginResult, error) {
	at := &attempt{
		method:     req.Method,
		identifier: strings.TrimSpace(req.Identifier),
		clientID:   req.ClientID,
		userAgent:  req.UserAgent,
	}

	if req.Method != models.MethodPlaintext && req.Method != models.MethodHashed {
		return nil, fmt.Errorf("%w: unsupported method %q", models.ErrBadRequest, req.Method)
	}

	// Nothing may touch the credential store before admission says yes.
	if err := s.admit(ctx, at); err != nil {
		return nil, err
	}
	at.start = time.Now()

	p, err := s.VerifyPrimary(ctx, at.identifier, req.Secret, req.Method)
	if err != nil {
		if p != nil {
			at.principalID = p.ID
		}
		return nil, s.fail(ctx, at, err)
	}
	at.principalID = p.ID

	required, err := s.RequiresSecondFactor(ctx, p.ID, req.Method)
	if err != nil {
		return nil, s.fail(ctx, at, err)
	}
	if !required {
		return s.succeed(ctx, at, p)
	}

	if req.Code != "" {
		existing, err := s.mfa.Enrollment(ctx, p.ID)
		if err != nil {
			return nil, s.fail(ctx, at, err)
		}
		// A pending enrollment is confirmed through the challenge, which is
		// where its QR code is handed out.
		if existing != nil && existing.Enabled {
			if err := s.mfa.VerifyCode(ctx, p, req.Code); err != nil {
				return nil, s.fail(ctx, at, err)
			}
			return s.succeed(ctx, at, p)
		}
	}

	result, err := s.IssueOrChallenge(ctx, p, req.Method)
	if err != nil {
		return nil, s.fail(ctx, at, err)
	}

	// A challenge is not terminal: the admission outcome is decided by the
	// second step.
	s.report(ctx, at, false, models.AuditOutcomeSecondFactorRequired)
	return result, nil
}

// VerifyPrimary checks identifier and secret for PLAINTEXT or HASHED. On
// ErrBadPrimarySecret the principal is returned alongside the error so the
// rejection can be attributed.
func (s *LoginService) VerifyPrimary(ctx context.Context, identifier, secret string, method models.CredentialMethod) (*models.Principal, error) {
	if identifier == "" || secret == "" {
		return nil, models.ErrUnknownPrincipal
	}

	p, err := s.principals.FindByIdentifier(ctx, identifier)
	if errors.Is(err, models.ErrNotFound) {
		if method == models.MethodHashed {
			// Keep the unknown-principal path as slow as a bcrypt compare.
			pkgauth.DetectAndVerify(secret, s.dummyBcryptHash())
		}
		return nil, models.ErrUnknownPrincipal
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up principal: %w", err)
	}

	creds, err := s.credentials.ListByMethod(ctx, p.ID, method)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	switch method {
	case models.MethodPlaintext:
		// Only the oldest PLAINTEXT credential is consulted.
		if len(creds) > 0 && creds[0].SecretMaterial != nil && pkgauth.EqualPlaintext(secret, *creds[0].SecretMaterial) {
			return p, nil
		}
	case models.MethodHashed:
		// First match wins across every HASHED credential.
		for _, c := range creds {
			if c.SecretMaterial != nil && pkgauth.DetectAndVerify(secret, *c.SecretMaterial) {
				return p, nil
			}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported method %q", models.ErrBadRequest, method)
	}

	return p, models.ErrBadPrimarySecret
}

// RequiresSecondFactor reports whether a session may only be issued after a
// TOTP check. PLAINTEXT needs one iff an enabled enrollment exists. HASHED
// always does when EnforceOnHashed is set.
func (s *LoginService) RequiresSecondFactor(ctx context.Context, principalID string, method models.CredentialMethod) (bool, error) {
	if method == models.MethodDelegated {
		return false, nil
	}
	if method == models.MethodHashed && s.config.EnforceOnHashed {
		return true, nil
	}

	e, err := s.mfa.Enrollment(ctx, principalID)
	if err != nil {
		return false, err
	}
	return e != nil && e.Enabled, nil
}

// IssueOrChallenge returns a session when no second factor is due, otherwise a
// challenge. A principal without an enrollment gets a new disabled one whose
// QR code is included in the challenge.
func (s *LoginService) IssueOrChallenge(ctx context.Context, p *models.Principal, method models.CredentialMethod) (*models.LoginResult, error) {
	required, err := s.RequiresSecondFactor(ctx, p.ID, method)
	if err != nil {
		return nil, err
	}
	if !required {
		session, err := s.tokens.IssueSession(p, method)
		if err != nil {
			return nil, err
		}
		return &models.LoginResult{State: models.StateSessionIssued, Session: session}, nil
	}

	enrollment, payload, err := s.mfa.EnsurePending(ctx, p)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.tokens.IssueChallenge(p, method, enrollment.LastUsedStep)
	if err != nil {
		return nil, err
	}

	return &models.LoginResult{
		State: models.StateAwaitingSecondFactor,
		Challenge: &models.MFAChallenge{
			PrincipalID:    p.ID,
			ChallengeToken: token,
			ExpiresAt:      expiresAt,
			Enrollment:     payload,
		},
	}, nil
}

// VerifySecondFactor completes a challenge. The challenge token binds the code
// to the principal that passed the primary check, and is good for one
// accepted code.
func (s *LoginService) VerifySecondFactor(ctx context.Context, req ChallengeRequest) (*models.Session, error) {
	at := &attempt{clientID: req.ClientID, userAgent: req.UserAgent}

	claims, tokenErr := s.tokens.VerifyType(req.ChallengeToken, models.TokenTypeMFAChallenge)
	if tokenErr == nil {
		at.method = claims.Method
		at.identifier = claims.Username
		at.principalID = claims.UserID
	}

	if err := s.admit(ctx, at); err != nil {
		return nil, err
	}
	at.start = time.Now()

	if tokenErr != nil {
		return nil, s.fail(ctx, at, models.ErrBadSecondFactor)
	}

	p, err := s.principals.GetByID(ctx, claims.UserID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, s.fail(ctx, at, models.ErrBadSecondFactor)
	}
	if err != nil {
		return nil, s.fail(ctx, at, err)
	}

	if err := s.mfa.VerifyChallengeCode(ctx, p, req.Code, claims.MFAStep); err != nil {
		return nil, s.fail(ctx, at, err)
	}

	result, err := s.succeed(ctx, at, p)
	if err != nil {
		return nil, err
	}
	return result.Session, nil
}

// LoginDelegated authenticates through the configured identity verifier,
// provisioning a VISITOR principal for a first-time identity. Delegated logins
// never require a second factor.
func (s *LoginService) LoginDelegated(ctx context.Context, req DelegatedLoginRequest) (*models.Session, error) {
	at := &attempt{
		method:     models.MethodDelegated,
		identifier: req.Assertion.Email,
		clientID:   req.ClientID,
		userAgent:  req.UserAgent,
	}

	if err := s.admit(ctx, at); err != nil {
		return nil, err
	}
	at.start = time.Now()

	identity, err := s.identities.VerifyIdentity(ctx, req.Assertion)
	if err != nil {
		return nil, s.fail(ctx, at, err)
	}
	at.identifier = identity.Email

	p, err := s.resolveDelegated(ctx, identity)
	if err != nil {
		return nil, s.fail(ctx, at, err)
	}
	at.principalID = p.ID

	result, err := s.succeed(ctx, at, p)
	if err != nil {
		return nil, err
	}
	return result.Session, nil
}

// resolveDelegated finds the principal mapped to identity: by subject, then by
// e-mail (linking it), else a new principal. Staff principals and principals
// with an enabled second factor are never linked by e-mail; they must be
// linked while signed in some other way.
func (s *LoginService) resolveDelegated(ctx context.Context, identity *models.DelegatedIdentity) (*models.Principal, error) {
	account, err := s.oauth.GetBySubject(ctx, identity.Provider, identity.SubjectID)
	if err == nil {
		return s.principals.GetByID(ctx, account.PrincipalID)
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up oauth account: %w", err)
	}

	p, err := s.principals.GetByEmail(ctx, identity.Email)
	switch {
	case err == nil:
		protected, err := s.protectedFromLinking(ctx, p)
		if err != nil {
			return nil, err
		}
		if protected {
			s.logger.Warn("refused to link delegated identity by email",
				slog.String("user_id", p.ID),
				slog.String("provider", identity.Provider))
			return nil, fmt.Errorf("%w: account cannot be linked by email", models.ErrBadPrimarySecret)
		}
		if _, err := s.oauth.Link(ctx, p.ID, identity); err != nil && !errors.Is(err, models.ErrConflict) {
			return nil, fmt.Errorf("failed to link oauth account: %w", err)
		}
		return p, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("failed to look up principal by email: %w", err)
	}

	email := identity.Email
	candidates := []string{identity.Email}
	if local, _, ok := strings.Cut(identity.Email, "@"); ok && local != "" {
		candidates = []string{local, identity.Email}
	}

	for _, username := range candidates {
		created, err := s.oauth.Provision(ctx, &models.Principal{
			Username: username,
			Email:    &email,
			Role:     models.RoleVisitor,
		}, identity)
		if err == nil {
			s.logger.Info("provisioned delegated principal",
				slog.String("user_id", created.ID),
				slog.String("provider", identity.Provider))
			return created, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return nil, fmt.Errorf("failed to provision principal: %w", err)
		}
	}

	// Every candidate collided; a concurrent request may have provisioned it.
	account, err = s.oauth.GetBySubject(ctx, identity.Provider, identity.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to provision principal: %w", models.ErrConflict)
	}
	return s.principals.GetByID(ctx, account.PrincipalID)
}

func (s *LoginService) protectedFromLinking(ctx context.Context, p *models.Principal) (bool, error) {
	if p.Role != models.RoleVisitor {
		return true, nil
	}
	e, err := s.mfa.Enrollment(ctx, p.ID)
	if err != nil {
		return false, err
	}
	return e != nil && e.Enabled, nil
}

// admit runs the admission check and reports a blocked attempt.
func (s *LoginService) admit(ctx context.Context, at *attempt) error {
	decision := s.admission.Check(ctx, at.clientID)
	if decision.Allowed {
		return nil
	}
	s.report(ctx, at, false, models.AuditOutcomeAdmissionBlocked)
	return &models.AdmissionBlockedError{RetryAfterSeconds: decision.RetryAfterSeconds}
}

// succeed issues the session and reports the terminal success.
func (s *LoginService) succeed(ctx context.Context, at *attempt, p *models.Principal) (*models.LoginResult, error) {
	session, err := s.tokens.IssueSession(p, at.method)
	if err != nil {
		return nil, s.fail(ctx, at, err)
	}

	s.report(ctx, at, true, models.AuditOutcomeSessionIssued)
	s.admission.RecordSuccess(ctx, at.clientID)

	return &models.LoginResult{State: models.StateSessionIssued, Session: session}, nil
}

// fail reports a terminal failure. Credential rejections count against the
// client and are padded to the rejection delay. Anything else is an internal
// error and does not touch the admission controller.
func (s *LoginService) fail(ctx context.Context, at *attempt, err error) error {
	var outcome string
	switch {
	case errors.Is(err, models.ErrUnknownPrincipal):
		outcome = models.AuditOutcomeUnknownPrincipal
	case errors.Is(err, models.ErrBadPrimarySecret):
		outcome = models.AuditOutcomeBadSecret
	case errors.Is(err, models.ErrBadSecondFactor):
		outcome = models.AuditOutcomeBadSecondFactor
	default:
		s.logger.Error("login failed with internal error",
			slog.String("method", string(at.method)),
			slog.String("client_id", at.clientID),
			slog.Any("error", err))
		s.report(ctx, at, false, models.AuditOutcomeInternalError)
		return fmt.Errorf("%w: %w", models.ErrInternalServer, err)
	}

	s.report(ctx, at, false, outcome)
	s.admission.RecordFailure(ctx, at.clientID)
	s.timing.WaitFrom(ctx, at.start)
	return err
}

func (s *LoginService) report(ctx context.Context, at *attempt, success bool, outcome string) {
	event := models.AuditEvent{
		Method:    at.method,
		Success:   success,
		Outcome:   outcome,
		ClientID:  at.clientID,
		UserAgent: at.userAgent,
	}
	if at.principalID != "" {
		id := at.principalID
		event.PrincipalID = &id
	}

	s.audit.Record(ctx, event, at.identifier)
	s.metrics.ObserveLogin(at.method, outcome)
}

func (s *LoginService) dummyBcryptHash() string {
	s.dummyOnce.Do(func() {
		hash, err := pkgauth.HashPassword("garage-dummy-password")
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}
