package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the "type" claim.
const (
	TokenTypeSession      = "session"
	TokenTypeMFAChallenge = "mfa_challenge"
)

// SessionClaims are the claims of a signed session assertion or challenge token.
type SessionClaims struct {
	Type     string           `json:"type"`
	UserID   string           `json:"user_id"`
	Username string           `json:"username"`
	Role     string           `json:"role,omitempty"`
	Method   CredentialMethod `json:"method,omitempty"`
	// MFAStep pins a challenge to the enrollment's last accepted step, so
	// the challenge stops working once any code has been accepted.
	MFAStep int64 `json:"mfa_step,omitempty"`
	jwt.RegisteredClaims
}

// Session is an issued assertion together with its owner.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Principal *Principal
}

// LoginState names where a login attempt ended up.
type LoginState string

const (
	StateAwaitingPrimary          LoginState = "AWAITING_PRIMARY"
	StatePrimaryVerified          LoginState = "PRIMARY_VERIFIED"
	StateAwaitingSecondFactor     LoginState = "AWAITING_SECOND_FACTOR"
	StateSecondFactorVerified     LoginState = "SECOND_FACTOR_VERIFIED"
	StateSessionIssued            LoginState = "SESSION_ISSUED"
	StateRejectedUnknownPrincipal LoginState = "REJECTED_UNKNOWN_PRINCIPAL"
	StateRejectedBadSecret        LoginState = "REJECTED_BAD_SECRET"
	StateRejectedBadSecondFactor  LoginState = "REJECTED_BAD_SECOND_FACTOR"
)

// LoginResult is either a Session or a Challenge, never both.
type LoginResult struct {
	State     LoginState
	Session   *Session
	Challenge *MFAChallenge
}
