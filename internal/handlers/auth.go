package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/garage/internal/auth"
	"github.com/BradenHooton/garage/internal/models"
	"github.com/BradenHooton/garage/internal/services"
	pkghttp "github.com/BradenHooton/garage/pkg/http"
)

// LoginServiceInterface defines the interface for the credential verifier
type LoginServiceInterface interface {
	Login(ctx context.Context, req services.LoginRequest) (*models.LoginResult, error)
	VerifySecondFactor(ctx context.Context, req services.ChallengeRequest) (*models.Session, error)
	LoginDelegated(ctx context.Context, req services.DelegatedLoginRequest) (*models.Session, error)
}

// RegistrationServiceInterface defines the interface for self-registration
type RegistrationServiceInterface interface {
	Register(ctx context.Context, req services.RegisterRequest) (*models.Principal, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	login        LoginServiceInterface
	registration RegistrationServiceInterface
	ipConfig     *pkghttp.IPConfig
	logger       *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(login LoginServiceInterface, registration RegistrationServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		login:        login,
		registration: registration,
		ipConfig:     ipConfig,
		logger:       logger,
	}
}

// Request DTOs

// LoginRequest represents the request body for PLAINTEXT and HASHED login
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=255"`
	Secret     string `json:"secret" validate:"required,max=128"`
	Code       string `json:"code,omitempty" validate:"omitempty,len=6,numeric"`
}

// VerifySecondFactorRequest completes a challenged login
type VerifySecondFactorRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
	Code           string `json:"code" validate:"required,len=6,numeric"`
}

// GoogleLoginRequest carries either an ID token or, in simulated mode, the
// identity fields themselves.
type GoogleLoginRequest struct {
	IDToken   string `json:"id_token,omitempty" validate:"omitempty,max=4096"`
	SubjectID string `json:"subject_id,omitempty" validate:"omitempty,max=255"`
	Email     string `json:"email,omitempty" validate:"omitempty,email,max=255"`
	Name      string `json:"name,omitempty" validate:"omitempty,max=255"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=64"`
	Email     string `json:"email,omitempty" validate:"omitempty,email,max=255"`
	Password  string `json:"password" validate:"required"`
	Algorithm string `json:"algorithm,omitempty" validate:"omitempty,oneof=bcrypt md5 sha256"`
}

// Response DTOs

// PrincipalResponse is the public view of a principal
type PrincipalResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     *string   `json:"email,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionResponse is returned when a session assertion is issued
type SessionResponse struct {
	OK        bool               `json:"ok"`
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
	User      *PrincipalResponse `json:"user"`
}

// ChallengeResponse is returned when a second factor is due
type ChallengeResponse struct {
	OK                   bool                         `json:"ok"`
	SecondFactorRequired bool                         `json:"second_factor_required"`
	ChallengeToken       string                       `json:"challenge_token"`
	ExpiresAt            time.Time                    `json:"expires_at"`
	Enrollment           *models.MFAEnrollmentPayload `json:"enrollment,omitempty"`
}

// MeResponse describes the caller's verified session
type MeResponse struct {
	OK        bool                    `json:"ok"`
	UserID    string                  `json:"user_id"`
	Username  string                  `json:"username"`
	Role      string                  `json:"role"`
	Method    models.CredentialMethod `json:"method"`
	ExpiresAt *time.Time              `json:"expires_at,omitempty"`
}

func principalToResponse(p *models.Principal) *PrincipalResponse {
	if p == nil {
		return nil
	}
	return &PrincipalResponse{
		ID:        p.ID,
		Username:  p.Username,
		Email:     p.Email,
		Role:      p.Role,
		CreatedAt: p.CreatedAt,
	}
}

// LoginPlaintext handles POST /auth/login/plaintext
func (h *AuthHandler) LoginPlaintext(w http.ResponseWriter, r *http.Request) {
	h.loginWith(w, r, models.MethodPlaintext)
}

// LoginHashed handles POST /auth/login/hashed
func (h *AuthHandler) LoginHashed(w http.ResponseWriter, r *http.Request) {
	h.loginWith(w, r, models.MethodHashed)
}

func (h *AuthHandler) loginWith(w http.ResponseWriter, r *http.Request, method models.CredentialMethod) {
	var req LoginRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.login.Login(r.Context(), services.LoginRequest{
		Identifier: req.Identifier,
		Secret:     req.Secret,
		Code:       req.Code,
		Method:     method,
		ClientID:   pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:  pkghttp.UserAgent(r),
	})
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	if result.Challenge != nil {
		pkghttp.WriteJSON(w, http.StatusOK, ChallengeResponse{
			OK:                   false,
			SecondFactorRequired: true,
			ChallengeToken:       result.Challenge.ChallengeToken,
			ExpiresAt:            result.Challenge.ExpiresAt,
			Enrollment:           result.Challenge.Enrollment,
		})
		return
	}

	writeSession(w, result.Session)
}

// VerifySecondFactor handles POST /auth/mfa/verify
func (h *AuthHandler) VerifySecondFactor(w http.ResponseWriter, r *http.Request) {
	var req VerifySecondFactorRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	session, err := h.login.VerifySecondFactor(r.Context(), services.ChallengeRequest{
		ChallengeToken: req.ChallengeToken,
		Code:           req.Code,
		ClientID:       pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:      pkghttp.UserAgent(r),
	})
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	writeSession(w, session)
}

// LoginGoogle handles POST /auth/login/google
func (h *AuthHandler) LoginGoogle(w http.ResponseWriter, r *http.Request) {
	var req GoogleLoginRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if req.IDToken == "" && (req.SubjectID == "" || req.Email == "") {
		pkghttp.WriteBadRequest(w, "id_token, or subject_id and email, are required")
		return
	}

	session, err := h.login.LoginDelegated(r.Context(), services.DelegatedLoginRequest{
		Assertion: auth.DelegatedAssertion{
			IDToken:   req.IDToken,
			SubjectID: req.SubjectID,
			Email:     req.Email,
			Name:      req.Name,
		},
		ClientID:  pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: pkghttp.UserAgent(r),
	})
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	writeSession(w, session)
}

// RegisterPlaintext handles POST /auth/register/plaintext
func (h *AuthHandler) RegisterPlaintext(w http.ResponseWriter, r *http.Request) {
	h.registerWith(w, r, models.MethodPlaintext)
}

// RegisterHashed handles POST /auth/register/hashed
func (h *AuthHandler) RegisterHashed(w http.ResponseWriter, r *http.Request) {
	h.registerWith(w, r, models.MethodHashed)
}

func (h *AuthHandler) registerWith(w http.ResponseWriter, r *http.Request, method models.CredentialMethod) {
	var req RegisterRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if method == models.MethodPlaintext && req.Algorithm != "" {
		pkghttp.WriteBadRequest(w, "algorithm is only accepted for hashed registration")
		return
	}

	var email *string
	if req.Email != "" {
		email = &req.Email
	}

	p, err := h.registration.Register(r.Context(), services.RegisterRequest{
		Username:  req.Username,
		Email:     email,
		Password:  req.Password,
		Method:    method,
		Algorithm: req.Algorithm,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "registration failed")
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, principalToResponse(p))
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	resp := MeResponse{
		OK:       true,
		UserID:   claims.UserID,
		Username: claims.Username,
		Role:     claims.Role,
		Method:   claims.Method,
	}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		resp.ExpiresAt = &exp
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

func writeSession(w http.ResponseWriter, session *models.Session) {
	pkghttp.WriteJSON(w, http.StatusOK, SessionResponse{
		OK:        true,
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      principalToResponse(session.Principal),
	})
}

// writeLoginError maps the login taxonomy onto responses. Unknown principals
// and bad secrets share one body.
func (h *AuthHandler) writeLoginError(w http.ResponseWriter, err error) {
	var blocked *models.AdmissionBlockedError
	switch {
	case errors.As(err, &blocked):
		pkghttp.WriteAdmissionBlocked(w, blocked.RetryAfterSeconds)
	case models.IsCredentialRejection(err):
		pkghttp.WriteInvalidCredentials(w)
	case errors.Is(err, models.ErrBadSecondFactor):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeInvalidCreds, "invalid verification code")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, clientMessage(err, models.ErrBadRequest))
	default:
		h.logger.Error("login failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w)
	}
}
