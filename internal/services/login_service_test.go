package services

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/garage/internal/auth"
	"github.com/BradenHooton/garage/internal/models"
	pkgauth "github.com/BradenHooton/garage/pkg/auth"
	pkglogger "github.com/BradenHooton/garage/pkg/logger"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testClient = "203.0.113.7"

type loginHarness struct {
	svc         *LoginService
	principals  *MockPrincipalStore
	credentials *MockCredentialStore
	oauth       *MockOAuthStore
	mfaStore    *MockMFAStore
	mfa         *MFAService
	totp        *auth.TOTPManager
	tokens      *auth.TokenManager
	admission   *MockAdmission
	audit       *MockAuditSink
	metrics     *MockLoginMetrics
	notifier    *MockNotifier
	alice       *models.Principal
}

func newLoginHarness(t *testing.T, config LoginConfig) *loginHarness {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	totpManager, err := auth.NewTOTPManager(key, "Garage")
	require.NoError(t, err)

	logger := newTestLogger()
	alice := NewTestPrincipal("p-alice", "alice", models.RoleVisitor)
	alice.Email = strPtr("alice@example.com")

	h := &loginHarness{
		principals: &MockPrincipalStore{},
		credentials: &MockCredentialStore{Credentials: map[string][]models.Credential{
			alice.ID: {{ID: "c-1", PrincipalID: alice.ID, Method: models.MethodPlaintext, SecretMaterial: strPtr("hunter2")}},
		}},
		oauth:     &MockOAuthStore{},
		mfaStore:  NewMockMFAStore(),
		totp:      totpManager,
		admission: &MockAdmission{},
		audit:     &MockAuditSink{},
		metrics:   &MockLoginMetrics{},
		notifier:  &MockNotifier{},
		alice:     alice,
	}
	h.principals.FindByIdentifierFunc = func(ctx context.Context, identifier string) (*models.Principal, error) {
		if identifier == "alice" || identifier == "alice@example.com" {
			return alice, nil
		}
		return nil, models.ErrNotFound
	}
	h.principals.GetByIDFunc = func(ctx context.Context, id string) (*models.Principal, error) {
		if id == alice.ID {
			return alice, nil
		}
		return nil, models.ErrNotFound
	}

	h.tokens = auth.NewTokenManager(auth.TokenConfig{
		Secret:       "login-service-test-secret-0123456789",
		Issuer:       "garage",
		Audience:     "garage-api",
		SessionTTL:   time.Hour,
		ChallengeTTL: 5 * time.Minute,
	})
	h.mfa = NewMFAService(h.mfaStore, totpManager, h.notifier, pkglogger.NewAuditLogger(logger), logger)
	h.svc = NewLoginService(
		h.principals, h.credentials, h.oauth, h.mfa, h.admission, h.audit,
		h.tokens, auth.SimulatedVerifier{}, auth.NewTimingDelay(auth.TimingConfig{}),
		h.metrics, config, logger,
	)
	return h
}

// enableMFA enrolls alice and returns the shared secret.
func (h *loginHarness) enableMFA(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	payload, err := h.mfa.Setup(ctx, h.alice)
	require.NoError(t, err)
	require.NotNil(t, payload)

	require.NoError(t, h.mfa.Enable(ctx, h.alice, h.code(t, payload.ManualEntryKey, time.Now())))
	return payload.ManualEntryKey
}

func (h *loginHarness) code(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, at)
	require.NoError(t, err)
	return code
}

func (h *loginHarness) storedSecret(t *testing.T, principalID string) string {
	t.Helper()
	e, err := h.mfaStore.Get(context.Background(), principalID)
	require.NoError(t, err)
	secret, err := h.totp.Open(e.SecretEncrypted, e.SecretNonce)
	require.NoError(t, err)
	return secret
}

func plaintextLogin(identifier, secret string) LoginRequest {
	return LoginRequest{
		Identifier: identifier,
		Secret:     secret,
		Method:     models.MethodPlaintext,
		ClientID:   testClient,
	}
}

// ============================================================================
// Primary credential (PLAINTEXT)
// ============================================================================

func TestLoginService_Login_PlaintextSuccess(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})

	result, err := h.svc.Login(context.Background(), plaintextLogin("alice", "hunter2"))

	require.NoError(t, err)
	assert.Equal(t, models.StateSessionIssued, result.State)
	require.NotNil(t, result.Session)
	assert.Nil(t, result.Challenge)

	claims, err := h.tokens.VerifyType(result.Session.Token, models.TokenTypeSession)
	require.NoError(t, err)
	assert.Equal(t, "p-alice", claims.UserID)
	assert.Equal(t, models.RoleVisitor, claims.Role)
	assert.Equal(t, models.MethodPlaintext, claims.Method)

	assert.Equal(t, []string{testClient}, h.admission.Successes)
	assert.Empty(t, h.admission.Failures)
	assert.Equal(t, []string{models.AuditOutcomeSessionIssued}, h.audit.Outcomes())
	assert.True(t, h.audit.Events[0].Success)
}

func TestLoginService_Login_EmailIdentifier(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})

	result, err := h.svc.Login(context.Background(), plaintextLogin("alice@example.com", "hunter2"))

	require.NoError(t, err)
	assert.Equal(t, "p-alice", result.Session.Principal.ID)
}

func TestLoginService_Login_BadSecret(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})

	result, err := h.svc.Login(context.Background(), plaintextLogin("alice", "wrong"))

	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrBadPrimarySecret)
	assert.Equal(t, []string{testClient}, h.admission.Failures)
	assert.Empty(t, h.admission.Successes)

	require.Len(t, h.audit.Events, 1)
	assert.Equal(t, models.AuditOutcomeBadSecret, h.audit.Events[0].Outcome)
	require.NotNil(t, h.audit.Events[0].PrincipalID)
	assert.Equal(t, "p-alice", *h.audit.Events[0].PrincipalID)
}

func TestLoginService_Login_UnknownPrincipal(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})

	_, err := h.svc.Login(context.Background(), plaintextLogin("mallory", "hunter2"))

	assert.ErrorIs(t, err, models.ErrUnknownPrincipal)
	assert.Len(t, h.admission.Failures, 1)
	require.Len(t, h.audit.Events, 1)
	assert.Nil(t, h.audit.Events[0].PrincipalID)
	assert.Equal(t, "mallory", h.audit.Identifiers[0])
}

func TestLoginService_Login_EmptyInput(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})

	_, err := h.svc.Login(context.Background(), plaintextLogin("  ", ""))

	assert.ErrorIs(t, err, models.ErrUnknownPrincipal)
	assert.Equal(t, 0, h.principals.FindCalls)
	assert.Len(t, h.admission.Failures, 1)
}

func TestLoginService_Login_OnlyOldestPlaintextCredentialCounts(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	h.credentials.Credentials["p-alice"] = append(h.credentials.Credentials["p-alice"],
		models.Credential{ID: "c-2", PrincipalID: "p-alice", Method: models.MethodPlaintext, SecretMaterial: strPtr("second")})

	_, err := h.svc.Login(context.Background(), plaintextLogin("alice", "second"))

	assert.ErrorIs(t, err, models.ErrBadPrimarySecret)
}

func TestLoginService_Login_UnsupportedMethod(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	req := plaintextLogin("alice", "hunter2")
	req.Method = models.MethodDelegated

	_, err := h.svc.Login(context.Background(), req)

	assert.ErrorIs(t, err, models.ErrBadRequest)
	assert.Empty(t, h.admission.Checks)
	assert.Empty(t, h.audit.Events)
}

// ============================================================================
// Primary credential (HASHED)
// ============================================================================

func TestLoginService_Login_HashedSchemes(t *testing.T) {
	tests := []struct {
		name   string
		scheme pkgauth.Scheme
	}{
		{"md5", pkgauth.SchemeMD5},
		{"sha256", pkgauth.SchemeSHA256},
		{"bcrypt", pkgauth.SchemeBcrypt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newLoginHarness(t, LoginConfig{})
			stored, err := pkgauth.HashSecret("s3cret!", tt.scheme)
			require.NoError(t, err)
			h.credentials.Credentials["p-alice"] = []models.Credential{
				{ID: "c-h", PrincipalID: "p-alice", Method: models.MethodHashed, SecretMaterial: &stored},
			}

			req := plaintextLogin("alice", "s3cret!")
			req.Method = models.MethodHashed
			result, err := h.svc.Login(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, models.StateSessionIssued, result.State)

			req.Secret = "s3cret?"
			_, err = h.svc.Login(context.Background(), req)
			assert.ErrorIs(t, err, models.ErrBadPrimarySecret)
		})
	}
}

func TestLoginService_Login_HashedFirstMatchAcrossCredentials(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	first, err := pkgauth.HashSecret("old-secret", pkgauth.SchemeMD5)
	require.NoError(t, err)
	second, err := pkgauth.HashSecret("new-secret", pkgauth.SchemeSHA256)
	require.NoError(t, err)
	h.credentials.Credentials["p-alice"] = []models.Credential{
		{ID: "c-1", PrincipalID: "p-alice", Method: models.MethodHashed, SecretMaterial: &first},
		{ID: "c-2", PrincipalID: "p-alice", Method: models.MethodHashed, SecretMaterial: &second},
	}

	req := plaintextLogin("alice", "new-secret")
	req.Method = models.MethodHashed
	result, err := h.svc.Login(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, models.StateSessionIssued, result.State)
}

func TestLoginService_Login_HashedIgnoresPlaintextCredential(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})

	req := plaintextLogin("alice", "hunter2")
	req.Method = models.MethodHashed
	_, err := h.svc.Login(context.Background(), req)

	assert.ErrorIs(t, err, models.ErrBadPrimarySecret)
}

// ============================================================================
// Admission
// ============================================================================

func TestLoginService_Login_AdmissionBlocked(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	h.admission.Decision = &models.AdmissionDecision{Allowed: false, RetryAfterSeconds: 42}

	result, err := h.svc.Login(context.Background(), plaintextLogin("alice", "hunter2"))

	assert.Nil(t, result)
	var blocked *models.AdmissionBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 42, blocked.RetryAfterSeconds)
	assert.ErrorIs(t, err, models.ErrAdmissionBlocked)

	assert.Equal(t, 0, h.principals.FindCalls)
	assert.Equal(t, 0, h.admission.Calls())
	assert.Equal(t, []string{models.AuditOutcomeAdmissionBlocked}, h.audit.Outcomes())
	assert.Equal(t, []string{"PLAINTEXT/admission_blocked"}, h.metrics.Logins)
}

func TestLoginService_Login_InternalErrorLeavesAdmissionAlone(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	h.credentials.ListByMethodFunc = func(ctx context.Context, principalID string, method models.CredentialMethod) ([]models.Credential, error) {
		return nil, errors.New("connection reset")
	}

	_, err := h.svc.Login(context.Background(), plaintextLogin("alice", "hunter2"))

	assert.ErrorIs(t, err, models.ErrInternalServer)
	assert.False(t, models.IsCredentialRejection(err))
	assert.Equal(t, 0, h.admission.Calls())
	assert.Equal(t, []string{models.AuditOutcomeInternalError}, h.audit.Outcomes())
}

// ============================================================================
// Second factor
// ============================================================================

func TestLoginService_Login_PlaintextWithMFAIssuesChallenge(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	h.enableMFA(t)

	result, err := h.svc.Login(context.Background(), plaintextLogin("alice", "hunter2"))

	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitingSecondFactor, result.State)
	assert.Nil(t, result.Session)
	require.NotNil(t, result.Challenge)
	assert.Nil(t, result.Challenge.Enrollment, "enabled secret must not be shown again")
	assert.Equal(t, "p-alice", result.Challenge.PrincipalID)

	assert.Equal(t, 0, h.admission.Calls())
	assert.Equal(t, []string{models.AuditOutcomeSecondFactorRequired}, h.audit.Outcomes())
}

func TestLoginService_VerifySecondFactor_Success(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	secret := h.enableMFA(t)
	ctx := context.Background()

	result, err := h.svc.Login(ctx, plaintextLogin("alice", "hunter2"))
	require.NoError(t, err)

	// enableMFA spent the current step.
	session, err := h.svc.VerifySecondFactor(ctx, ChallengeRequest{
		ChallengeToken: result.Challenge.ChallengeToken,
		Code:           h.code(t, secret, time.Now().Add(30*time.Second)),
		ClientID:       testClient,
	})

	require.NoError(t, err)
	assert.Equal(t, "p-alice", session.Principal.ID)
	assert.Equal(t, []string{testClient}, h.admission.Successes)
	assert.Equal(t, []string{
		models.AuditOutcomeSecondFactorRequired,
		models.AuditOutcomeSessionIssued,
	}, h.audit.Outcomes())
}

func TestLoginService_VerifySecondFactor_SameRequestTwice(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	secret := h.enableMFA(t)
	ctx := context.Background()

	result, err := h.svc.Login(ctx, plaintextLogin("alice", "hunter2"))
	require.NoError(t, err)

	req := ChallengeRequest{
		ChallengeToken: result.Challenge.ChallengeToken,
		Code:           h.code(t, secret, time.Now().Add(30*time.Second)),
		ClientID:       testClient,
	}
	first, err := h.svc.VerifySecondFactor(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := h.svc.VerifySecondFactor(ctx, req)
	assert.Nil(t, second)
	assert.ErrorIs(t, err, models.ErrBadSecondFactor)
	assert.Equal(t, []string{testClient}, h.admission.Successes)
	assert.Equal(t, []string{testClient}, h.admission.Failures)
}

func TestLoginService_VerifySecondFactor_ChallengeIsSpentAfterUse(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	ctx := context.Background()

	// Enable with the previous step's code so the current and next steps
	// are both still unused.
	payload, err := h.mfa.Setup(ctx, h.alice)
	require.NoError(t, err)
	secret := payload.ManualEntryKey
	require.NoError(t, h.mfa.Enable(ctx, h.alice, h.code(t, secret, time.Now().Add(-30*time.Second))))

	result, err := h.svc.Login(ctx, plaintextLogin("alice", "hunter2"))
	require.NoError(t, err)
	token := result.Challenge.ChallengeToken

	_, err = h.svc.VerifySecondFactor(ctx, ChallengeRequest{
		ChallengeToken: token,
		Code:           h.code(t, secret, time.Now()),
		ClientID:       testClient,
	})
	require.NoError(t, err)

	// A fresh, never used code does not revive the spent challenge.
	_, err = h.svc.VerifySecondFactor(ctx, ChallengeRequest{
		ChallengeToken: token,
		Code:           h.code(t, secret, time.Now().Add(30*time.Second)),
		ClientID:       testClient,
	})
	assert.ErrorIs(t, err, models.ErrBadSecondFactor)
	assert.Len(t, h.admission.Successes, 1)
}

func TestLoginService_VerifySecondFactor_StaleCode(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	secret := h.enableMFA(t)
	ctx := context.Background()

	result, err := h.svc.Login(ctx, plaintextLogin("alice", "hunter2"))
	require.NoError(t, err)

	_, err = h.svc.VerifySecondFactor(ctx, ChallengeRequest{
		ChallengeToken: result.Challenge.ChallengeToken,
		Code:           h.code(t, secret, time.Now().Add(-10*time.Minute)),
		ClientID:       testClient,
	})

	assert.ErrorIs(t, err, models.ErrBadSecondFactor)
	assert.Equal(t, []string{testClient}, h.admission.Failures)
	assert.Empty(t, h.admission.Successes)
}

func TestLoginService_VerifySecondFactor_InvalidChallengeToken(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})

	_, err := h.svc.VerifySecondFactor(context.Background(), ChallengeRequest{
		ChallengeToken: "not-a-token",
		Code:           "123456",
		ClientID:       testClient,
	})

	assert.ErrorIs(t, err, models.ErrBadSecondFactor)
	assert.Equal(t, []string{testClient}, h.admission.Failures)
}

func TestLoginService_VerifySecondFactor_SessionTokenIsNotAChallenge(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	session, err := h.tokens.IssueSession(h.alice, models.MethodPlaintext)
	require.NoError(t, err)

	_, err = h.svc.VerifySecondFactor(context.Background(), ChallengeRequest{
		ChallengeToken: session.Token,
		Code:           "123456",
		ClientID:       testClient,
	})

	assert.ErrorIs(t, err, models.ErrBadSecondFactor)
}

func TestLoginService_VerifySecondFactor_Blocked(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	h.admission.Decision = &models.AdmissionDecision{Allowed: false, RetryAfterSeconds: 30}

	_, err := h.svc.VerifySecondFactor(context.Background(), ChallengeRequest{
		ChallengeToken: "whatever",
		Code:           "123456",
		ClientID:       testClient,
	})

	assert.ErrorIs(t, err, models.ErrAdmissionBlocked)
	assert.Equal(t, 0, h.admission.Calls())
}

func TestLoginService_Login_InlineCode(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	secret := h.enableMFA(t)

	req := plaintextLogin("alice", "hunter2")
	req.Code = h.code(t, secret, time.Now().Add(30*time.Second))
	result, err := h.svc.Login(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, models.StateSessionIssued, result.State)
	assert.Len(t, h.admission.Successes, 1)
}

func TestLoginService_Login_InlineCodeCannotBeReused(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	secret := h.enableMFA(t)
	ctx := context.Background()

	req := plaintextLogin("alice", "hunter2")
	req.Code = h.code(t, secret, time.Now().Add(30*time.Second))
	_, err := h.svc.Login(ctx, req)
	require.NoError(t, err)

	_, err = h.svc.Login(ctx, req)
	assert.ErrorIs(t, err, models.ErrBadSecondFactor)
	assert.Len(t, h.admission.Successes, 1)
	assert.Len(t, h.admission.Failures, 1)
}

func TestLoginService_Login_InlineCodeOnPendingEnrollmentStillChallenges(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{EnforceOnHashed: true})
	stored, err := pkgauth.HashSecret("s3cret!", pkgauth.SchemeBcrypt)
	require.NoError(t, err)
	h.credentials.Credentials["p-alice"] = []models.Credential{
		{ID: "c-h", PrincipalID: "p-alice", Method: models.MethodHashed, SecretMaterial: &stored},
	}
	ctx := context.Background()

	// Create the pending enrollment out of band, then send a code inline.
	_, err = h.mfa.Setup(ctx, h.alice)
	require.NoError(t, err)

	req := plaintextLogin("alice", "s3cret!")
	req.Method = models.MethodHashed
	req.Code = h.code(t, h.storedSecret(t, "p-alice"), time.Now())
	result, err := h.svc.Login(ctx, req)

	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitingSecondFactor, result.State)
	require.NotNil(t, result.Challenge.Enrollment)

	status, err := h.mfa.Status(ctx, "p-alice")
	require.NoError(t, err)
	assert.False(t, status.Enabled)
	assert.Equal(t, 0, h.admission.Calls())
}

func TestLoginService_Login_InlineCodeWrong(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	secret := h.enableMFA(t)

	req := plaintextLogin("alice", "hunter2")
	req.Code = h.code(t, secret, time.Now().Add(-time.Hour))
	_, err := h.svc.Login(context.Background(), req)

	assert.ErrorIs(t, err, models.ErrBadSecondFactor)
	assert.Len(t, h.admission.Failures, 1)
}

func TestLoginService_Login_HashedEnforcedEnrollsOnFirstUse(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{EnforceOnHashed: true})
	stored, err := pkgauth.HashSecret("s3cret!", pkgauth.SchemeBcrypt)
	require.NoError(t, err)
	h.credentials.Credentials["p-alice"] = []models.Credential{
		{ID: "c-h", PrincipalID: "p-alice", Method: models.MethodHashed, SecretMaterial: &stored},
	}
	ctx := context.Background()

	req := plaintextLogin("alice", "s3cret!")
	req.Method = models.MethodHashed
	result, err := h.svc.Login(ctx, req)
	require.NoError(t, err)
	require.Equal(t, models.StateAwaitingSecondFactor, result.State)
	require.NotNil(t, result.Challenge.Enrollment, "first challenge carries the QR code")
	assert.Contains(t, result.Challenge.Enrollment.QRCode, "data:image/png;base64,")

	// A second attempt before confirming re-displays the same secret.
	again, err := h.svc.Login(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, result.Challenge.Enrollment.ManualEntryKey, again.Challenge.Enrollment.ManualEntryKey)

	secret := h.storedSecret(t, "p-alice")
	session, err := h.svc.VerifySecondFactor(ctx, ChallengeRequest{
		ChallengeToken: result.Challenge.ChallengeToken,
		Code:           h.code(t, secret, time.Now()),
		ClientID:       testClient,
	})
	require.NoError(t, err)
	assert.Equal(t, "p-alice", session.Principal.ID)

	status, err := h.mfa.Status(ctx, "p-alice")
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.Equal(t, []string{"alice@example.com"}, h.notifier.Sent)

	// Once enabled, the challenge no longer exposes the secret.
	third, err := h.svc.Login(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, third.Challenge.Enrollment)
}

func TestLoginService_RequiresSecondFactor(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{EnforceOnHashed: true})
	ctx := context.Background()

	required, err := h.svc.RequiresSecondFactor(ctx, "p-alice", models.MethodPlaintext)
	require.NoError(t, err)
	assert.False(t, required)

	required, err = h.svc.RequiresSecondFactor(ctx, "p-alice", models.MethodHashed)
	require.NoError(t, err)
	assert.True(t, required)

	required, err = h.svc.RequiresSecondFactor(ctx, "p-alice", models.MethodDelegated)
	require.NoError(t, err)
	assert.False(t, required)

	// A pending enrollment does not gate PLAINTEXT logins.
	_, err = h.mfa.Setup(ctx, h.alice)
	require.NoError(t, err)
	required, err = h.svc.RequiresSecondFactor(ctx, "p-alice", models.MethodPlaintext)
	require.NoError(t, err)
	assert.False(t, required)
}

// ============================================================================
// Delegated login
// ============================================================================

func delegatedLogin(subject, email string) DelegatedLoginRequest {
	return DelegatedLoginRequest{
		Assertion: auth.DelegatedAssertion{SubjectID: subject, Email: email, Name: "Carol"},
		ClientID:  testClient,
	}
}

func TestLoginService_LoginDelegated_ProvisionsNewPrincipal(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	var provisioned *models.Principal
	h.oauth.ProvisionFunc = func(ctx context.Context, p *models.Principal, identity *models.DelegatedIdentity) (*models.Principal, error) {
		p.ID = "p-carol"
		provisioned = p
		return p, nil
	}

	session, err := h.svc.LoginDelegated(context.Background(), delegatedLogin("google-123", "Carol@Example.com"))

	require.NoError(t, err)
	require.NotNil(t, provisioned)
	assert.Equal(t, "carol", provisioned.Username)
	assert.Equal(t, models.RoleVisitor, provisioned.Role)
	assert.Equal(t, "carol@example.com", *provisioned.Email)
	assert.Equal(t, "p-carol", session.Principal.ID)

	claims, err := h.tokens.VerifyType(session.Token, models.TokenTypeSession)
	require.NoError(t, err)
	assert.Equal(t, models.MethodDelegated, claims.Method)
	assert.Len(t, h.admission.Successes, 1)
}

func TestLoginService_LoginDelegated_UsernameCollisionFallsBackToEmail(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	var tried []string
	h.oauth.ProvisionFunc = func(ctx context.Context, p *models.Principal, identity *models.DelegatedIdentity) (*models.Principal, error) {
		tried = append(tried, p.Username)
		if p.Username == "alice" {
			return nil, models.ErrConflict
		}
		p.ID = "p-other-alice"
		return p, nil
	}

	session, err := h.svc.LoginDelegated(context.Background(), delegatedLogin("google-9", "alice@other.org"))

	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "alice@other.org"}, tried)
	assert.Equal(t, "alice@other.org", session.Principal.Username)
}

func TestLoginService_LoginDelegated_LinksExistingEmail(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	h.principals.GetByEmailFunc = func(ctx context.Context, email string) (*models.Principal, error) {
		if email == "alice@example.com" {
			return h.alice, nil
		}
		return nil, models.ErrNotFound
	}
	var linked string
	h.oauth.LinkFunc = func(ctx context.Context, principalID string, identity *models.DelegatedIdentity) (*models.OAuthAccount, error) {
		linked = principalID
		return &models.OAuthAccount{PrincipalID: principalID}, nil
	}
	h.oauth.ProvisionFunc = func(ctx context.Context, p *models.Principal, identity *models.DelegatedIdentity) (*models.Principal, error) {
		t.Fatal("must not provision when the email is known")
		return nil, nil
	}

	session, err := h.svc.LoginDelegated(context.Background(), delegatedLogin("google-1", "alice@example.com"))

	require.NoError(t, err)
	assert.Equal(t, "p-alice", linked)
	assert.Equal(t, "p-alice", session.Principal.ID)
}

func TestLoginService_LoginDelegated_RefusesToLinkProtectedAccounts(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *loginHarness)
	}{
		{"super admin", func(t *testing.T, h *loginHarness) { h.alice.Role = models.RoleSuperAdmin }},
		{"admin", func(t *testing.T, h *loginHarness) { h.alice.Role = models.RoleAdmin }},
		{"second factor enabled", func(t *testing.T, h *loginHarness) { h.enableMFA(t) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newLoginHarness(t, LoginConfig{})
			tt.setup(t, h)
			h.principals.GetByEmailFunc = func(ctx context.Context, email string) (*models.Principal, error) {
				return h.alice, nil
			}
			h.oauth.LinkFunc = func(ctx context.Context, principalID string, identity *models.DelegatedIdentity) (*models.OAuthAccount, error) {
				t.Fatal("must not link a protected account")
				return nil, nil
			}

			session, err := h.svc.LoginDelegated(context.Background(), delegatedLogin("attacker-sub", "alice@example.com"))

			assert.Nil(t, session)
			assert.ErrorIs(t, err, models.ErrBadPrimarySecret)
			assert.Empty(t, h.admission.Successes)
			assert.Equal(t, []string{testClient}, h.admission.Failures)
			assert.Equal(t, []string{models.AuditOutcomeBadSecret}, h.audit.Outcomes())
		})
	}
}

func TestLoginService_LoginDelegated_KnownSubject(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})
	h.oauth.GetBySubjectFunc = func(ctx context.Context, provider, subjectID string) (*models.OAuthAccount, error) {
		assert.Equal(t, models.ProviderGoogle, provider)
		return &models.OAuthAccount{PrincipalID: "p-alice", Provider: provider, SubjectID: subjectID}, nil
	}

	session, err := h.svc.LoginDelegated(context.Background(), delegatedLogin("google-1", "renamed@example.com"))

	require.NoError(t, err)
	assert.Equal(t, "p-alice", session.Principal.ID)
}

func TestLoginService_LoginDelegated_SkipsSecondFactor(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{EnforceOnHashed: true})
	h.enableMFA(t)
	h.oauth.GetBySubjectFunc = func(ctx context.Context, provider, subjectID string) (*models.OAuthAccount, error) {
		return &models.OAuthAccount{PrincipalID: "p-alice"}, nil
	}

	session, err := h.svc.LoginDelegated(context.Background(), delegatedLogin("google-1", "alice@example.com"))

	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
}

func TestLoginService_LoginDelegated_RejectedAssertion(t *testing.T) {
	h := newLoginHarness(t, LoginConfig{})

	_, err := h.svc.LoginDelegated(context.Background(), delegatedLogin("", "carol@example.com"))

	assert.ErrorIs(t, err, models.ErrBadPrimarySecret)
	assert.Len(t, h.admission.Failures, 1)
	assert.Equal(t, []string{models.AuditOutcomeBadSecret}, h.audit.Outcomes())
}
