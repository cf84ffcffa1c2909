package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/garage/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPrincipalLookup struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.Principal, error)
}

func (m *mockPrincipalLookup) GetByID(ctx context.Context, id string) (*models.Principal, error) {
	return m.GetByIDFunc(ctx, id)
}

func newMiddlewareTokenManager() *TokenManager {
	return NewTokenManager(TokenConfig{
		Secret:       "middleware-test-secret-0123456789",
		Issuer:       "garage-api",
		Audience:     "garage-app",
		SessionTTL:   2 * time.Minute,
		ChallengeTTL: 5 * time.Minute,
	})
}

var bob = &models.Principal{ID: "p-1", Username: "bob", Role: models.RoleVisitor}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_AcceptsSession(t *testing.T) {
	tm := newMiddlewareTokenManager()
	session, err := tm.IssueSession(bob, models.MethodPlaintext)
	require.NoError(t, err)

	var seen *models.SessionClaims
	handler := AuthMiddleware(tm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserFromContext(r)
	}))

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "bob", seen.Username)
	assert.Equal(t, models.RoleVisitor, seen.Role)
}

func TestAuthMiddleware_RejectsChallengeToken(t *testing.T) {
	tm := newMiddlewareTokenManager()
	challenge, _, err := tm.IssueChallenge(bob, models.MethodHashed, 0)
	require.NoError(t, err)

	called := false
	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+challenge)
	w := httptest.NewRecorder()
	AuthMiddleware(tm)(okHandler(&called)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, called)
}

func TestAuthMiddleware_RejectsExpiredSession(t *testing.T) {
	tm := newMiddlewareTokenManager()
	issuedAt := time.Now().Add(-10 * time.Minute)
	tm.SetClock(func() time.Time { return issuedAt })
	session, err := tm.IssueSession(bob, models.MethodPlaintext)
	require.NoError(t, err)
	tm.SetClock(time.Now)

	called := false
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	w := httptest.NewRecorder()
	AuthMiddleware(tm)(okHandler(&called)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, called)
}

func TestAuthMiddleware_MalformedHeaders(t *testing.T) {
	tm := newMiddlewareTokenManager()
	headers := []string{"", "Bearer", "Bearer ", "Basic Ym9iOmh1bnRlcjI=", "Token abc"}

	for _, h := range headers {
		called := false
		req := httptest.NewRequest("GET", "/", nil)
		if h != "" {
			req.Header.Set("Authorization", h)
		}
		w := httptest.NewRecorder()
		AuthMiddleware(tm)(okHandler(&called)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q", h)
		assert.False(t, called, "header %q", h)
	}
}

func TestRequireRole(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	tests := []struct {
		name       string
		current    *models.Principal
		lookupErr  error
		claims     *models.SessionClaims
		wantStatus int
	}{
		{
			name:       "admin allowed",
			current:    &models.Principal{ID: "p-1", Role: models.RoleAdmin},
			claims:     &models.SessionClaims{UserID: "p-1", Role: models.RoleAdmin},
			wantStatus: http.StatusOK,
		},
		{
			name:       "demoted since token was issued",
			current:    &models.Principal{ID: "p-1", Role: models.RoleVisitor},
			claims:     &models.SessionClaims{UserID: "p-1", Role: models.RoleAdmin},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "deleted principal",
			lookupErr:  models.ErrNotFound,
			claims:     &models.SessionClaims{UserID: "p-1", Role: models.RoleAdmin},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "store failure",
			lookupErr:  errors.New("connection reset"),
			claims:     &models.SessionClaims{UserID: "p-1", Role: models.RoleAdmin},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "no claims in context",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := &mockPrincipalLookup{
				GetByIDFunc: func(ctx context.Context, id string) (*models.Principal, error) {
					return tt.current, tt.lookupErr
				},
			}

			called := false
			handler := RequireRole(lookup, logger, models.RoleAdmin, models.RoleSuperAdmin)(okHandler(&called))

			req := httptest.NewRequest("DELETE", "/vehicles/1", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantStatus == http.StatusOK, called)
		})
	}
}
