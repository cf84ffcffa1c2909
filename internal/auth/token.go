package auth

import (
	"fmt"
	"time"

	"github.com/BradenHooton/garage/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager signs and verifies session assertions and MFA challenge tokens.
type TokenManager struct {
	secret       []byte
	issuer       string
	audience     string
	sessionTTL   time.Duration
	challengeTTL time.Duration
	now          func() time.Time
}

// TokenConfig configures a TokenManager.
type TokenConfig struct {
	Secret       string
	Issuer       string
	Audience     string
	SessionTTL   time.Duration
	ChallengeTTL time.Duration
}

func NewTokenManager(cfg TokenConfig) *TokenManager {
	return &TokenManager{
		secret:       []byte(cfg.Secret),
		issuer:       cfg.Issuer,
		audience:     cfg.Audience,
		sessionTTL:   cfg.SessionTTL,
		challengeTTL: cfg.ChallengeTTL,
		now:          time.Now,
	}
}

// SetClock replaces time.Now for both signing and verification.
func (tm *TokenManager) SetClock(now func() time.Time) {
	tm.now = now
}

// SessionTTL is the configured session lifetime.
func (tm *TokenManager) SessionTTL() time.Duration {
	return tm.sessionTTL
}

// Sign fills the registered claims and signs with HS256. The returned time is
// the absolute expiry.
func (tm *TokenManager) Sign(claims *models.SessionClaims, ttl time.Duration) (string, time.Time, error) {
	if claims.UserID == "" || claims.Type == "" {
		return "", time.Time{}, fmt.Errorf("%w: user_id and type are required", models.ErrSigner)
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: ttl must be positive", models.ErrSigner)
	}

	now := tm.now()
	expiresAt := now.Add(ttl)

	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		Subject:   claims.UserID,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
	if tm.issuer != "" {
		claims.Issuer = tm.issuer
	}
	if tm.audience != "" {
		claims.Audience = jwt.ClaimStrings{tm.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", models.ErrSigner, err)
	}

	return signed, expiresAt, nil
}

// Verify checks signature, expiry and issuer/audience, and returns the claims.
func (tm *TokenManager) Verify(tokenString string) (*models.SessionClaims, error) {
	claims := &models.SessionClaims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(tm.now),
	}
	if tm.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tm.issuer))
	}
	if tm.audience != "" {
		opts = append(opts, jwt.WithAudience(tm.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type == "" || claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing required claims", models.ErrUnauthorized)
	}

	return claims, nil
}

// VerifyType is Verify plus a check of the "type" claim.
func (tm *TokenManager) VerifyType(tokenString, tokenType string) (*models.SessionClaims, error) {
	claims, err := tm.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != tokenType {
		return nil, fmt.Errorf("%w: expected %s token", models.ErrUnauthorized, tokenType)
	}
	return claims, nil
}

// IssueSession signs a session assertion for p with the session TTL.
func (tm *TokenManager) IssueSession(p *models.Principal, method models.CredentialMethod) (*models.Session, error) {
	if p.Username == "" || p.Role == "" {
		return nil, fmt.Errorf("%w: username and role are required", models.ErrSigner)
	}

	token, expiresAt, err := tm.Sign(&models.SessionClaims{
		Type:     models.TokenTypeSession,
		UserID:   p.ID,
		Username: p.Username,
		Role:     p.Role,
		Method:   method,
	}, tm.sessionTTL)
	if err != nil {
		return nil, err
	}

	return &models.Session{Token: token, ExpiresAt: expiresAt, Principal: p}, nil
}

// IssueChallenge signs a short-lived token that lets p submit a second factor.
// mfaStep is the enrollment's last accepted TOTP step at issue time.
func (tm *TokenManager) IssueChallenge(p *models.Principal, method models.CredentialMethod, mfaStep int64) (string, time.Time, error) {
	return tm.Sign(&models.SessionClaims{
		Type:     models.TokenTypeMFAChallenge,
		UserID:   p.ID,
		Username: p.Username,
		Method:   method,
		MFAStep:  mfaStep,
	}, tm.challengeTTL)
}
