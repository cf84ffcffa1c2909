package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/garage/internal/auth"
	"github.com/BradenHooton/garage/internal/models"
	"github.com/BradenHooton/garage/internal/services"
	pkghttp "github.com/BradenHooton/garage/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds session claims to the request context
func WithAuthContext(req *http.Request, userID, username, role string) *http.Request {
	claims := &models.SessionClaims{
		Type:     models.TokenTypeSession,
		UserID:   userID,
		Username: username,
		Role:     role,
		Method:   models.MethodPlaintext,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// WithURLParam sets a chi URL parameter on the request
func WithURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(req.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks status and the envelope error code
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedCode string) pkghttp.Envelope {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.Envelope
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error envelope")
	assert.False(t, resp.OK)
	assert.Equal(t, expectedCode, resp.Code, "Error code mismatch")
	assert.NotEmpty(t, resp.Error, "Error message should not be empty")
	return resp
}

// MockLoginService implements LoginServiceInterface for testing
type MockLoginService struct {
	LoginFunc              func(ctx context.Context, req services.LoginRequest) (*models.LoginResult, error)
	VerifySecondFactorFunc func(ctx context.Context, req services.ChallengeRequest) (*models.Session, error)
	LoginDelegatedFunc     func(ctx context.Context, req services.DelegatedLoginRequest) (*models.Session, error)
}

func (m *MockLoginService) Login(ctx context.Context, req services.LoginRequest) (*models.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrBadPrimarySecret
	}
	return m.LoginFunc(ctx, req)
}

func (m *MockLoginService) VerifySecondFactor(ctx context.Context, req services.ChallengeRequest) (*models.Session, error) {
	if m.VerifySecondFactorFunc == nil {
		return nil, models.ErrBadSecondFactor
	}
	return m.VerifySecondFactorFunc(ctx, req)
}

func (m *MockLoginService) LoginDelegated(ctx context.Context, req services.DelegatedLoginRequest) (*models.Session, error) {
	if m.LoginDelegatedFunc == nil {
		return nil, models.ErrBadPrimarySecret
	}
	return m.LoginDelegatedFunc(ctx, req)
}

// MockRegistrationService implements RegistrationServiceInterface for testing
type MockRegistrationService struct {
	RegisterFunc func(ctx context.Context, req services.RegisterRequest) (*models.Principal, error)
}

func (m *MockRegistrationService) Register(ctx context.Context, req services.RegisterRequest) (*models.Principal, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, req)
}

// MockMFAService implements MFAServiceInterface for testing
type MockMFAService struct {
	StatusFunc  func(ctx context.Context, principalID string) (*models.MFAStatus, error)
	SetupFunc   func(ctx context.Context, p *models.Principal) (*models.MFAEnrollmentPayload, error)
	EnableFunc  func(ctx context.Context, p *models.Principal, code string) error
	DisableFunc func(ctx context.Context, p *models.Principal, code string) error
}

func (m *MockMFAService) Status(ctx context.Context, principalID string) (*models.MFAStatus, error) {
	if m.StatusFunc == nil {
		return &models.MFAStatus{}, nil
	}
	return m.StatusFunc(ctx, principalID)
}

func (m *MockMFAService) Setup(ctx context.Context, p *models.Principal) (*models.MFAEnrollmentPayload, error) {
	if m.SetupFunc == nil {
		return &models.MFAEnrollmentPayload{QRCode: "data:image/png;base64,AAAA", ManualEntryKey: "JBSWY3DPEHPK3PXP"}, nil
	}
	return m.SetupFunc(ctx, p)
}

func (m *MockMFAService) Enable(ctx context.Context, p *models.Principal, code string) error {
	if m.EnableFunc == nil {
		return nil
	}
	return m.EnableFunc(ctx, p, code)
}

func (m *MockMFAService) Disable(ctx context.Context, p *models.Principal, code string) error {
	if m.DisableFunc == nil {
		return nil
	}
	return m.DisableFunc(ctx, p, code)
}

// MockPrincipalLookup implements auth.PrincipalLookup for testing
type MockPrincipalLookup struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.Principal, error)
}

func (m *MockPrincipalLookup) GetByID(ctx context.Context, id string) (*models.Principal, error) {
	if m.GetByIDFunc == nil {
		return &models.Principal{ID: id, Username: "user-" + id, Role: models.RoleVisitor}, nil
	}
	return m.GetByIDFunc(ctx, id)
}

// MockAuditService implements AuditServiceInterface for testing
type MockAuditService struct {
	RecentLoginsFunc   func(ctx context.Context, limit int) ([]models.AuditEvent, error)
	StatsFunc          func(ctx context.Context) (*models.AuditStats, error)
	BlockedClientsFunc func(ctx context.Context, limit int) ([]models.AttemptRecord, error)
	EndpointStatsFunc  func(ctx context.Context, limit int) ([]models.EndpointStat, error)
	SuspiciousFunc     func(ctx context.Context, limit int) ([]models.SuspiciousClient, error)
	ActivityFunc       func(ctx context.Context, limit int) ([]models.PrincipalActivity, error)
	TrendsFunc         func(ctx context.Context) (*models.HourlyTrends, error)
}

func (m *MockAuditService) RecentLogins(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	if m.RecentLoginsFunc == nil {
		return nil, nil
	}
	return m.RecentLoginsFunc(ctx, limit)
}

func (m *MockAuditService) Stats(ctx context.Context) (*models.AuditStats, error) {
	if m.StatsFunc == nil {
		return &models.AuditStats{}, nil
	}
	return m.StatsFunc(ctx)
}

func (m *MockAuditService) BlockedClients(ctx context.Context, limit int) ([]models.AttemptRecord, error) {
	if m.BlockedClientsFunc == nil {
		return nil, nil
	}
	return m.BlockedClientsFunc(ctx, limit)
}

func (m *MockAuditService) EndpointStats(ctx context.Context, limit int) ([]models.EndpointStat, error) {
	if m.EndpointStatsFunc == nil {
		return nil, nil
	}
	return m.EndpointStatsFunc(ctx, limit)
}

func (m *MockAuditService) SuspiciousClients(ctx context.Context, limit int) ([]models.SuspiciousClient, error) {
	if m.SuspiciousFunc == nil {
		return nil, nil
	}
	return m.SuspiciousFunc(ctx, limit)
}

func (m *MockAuditService) PrincipalActivity(ctx context.Context, limit int) ([]models.PrincipalActivity, error) {
	if m.ActivityFunc == nil {
		return nil, nil
	}
	return m.ActivityFunc(ctx, limit)
}

func (m *MockAuditService) Trends(ctx context.Context) (*models.HourlyTrends, error) {
	if m.TrendsFunc == nil {
		return &models.HourlyTrends{}, nil
	}
	return m.TrendsFunc(ctx)
}

// MockPrincipalService implements PrincipalServiceInterface for testing
type MockPrincipalService struct {
	GetFunc        func(ctx context.Context, id string) (*models.Principal, error)
	ListFunc       func(ctx context.Context, limit, offset int) ([]*models.Principal, error)
	UpdateRoleFunc func(ctx context.Context, actorID, id, role string) (*models.Principal, error)
	DeleteFunc     func(ctx context.Context, actorID, id string) error
}

func (m *MockPrincipalService) Get(ctx context.Context, id string) (*models.Principal, error) {
	if m.GetFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetFunc(ctx, id)
}

func (m *MockPrincipalService) List(ctx context.Context, limit, offset int) ([]*models.Principal, error) {
	if m.ListFunc == nil {
		return []*models.Principal{}, nil
	}
	return m.ListFunc(ctx, limit, offset)
}

func (m *MockPrincipalService) UpdateRole(ctx context.Context, actorID, id, role string) (*models.Principal, error) {
	if m.UpdateRoleFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UpdateRoleFunc(ctx, actorID, id, role)
}

func (m *MockPrincipalService) Delete(ctx context.Context, actorID, id string) error {
	if m.DeleteFunc == nil {
		return nil
	}
	return m.DeleteFunc(ctx, actorID, id)
}

// MockVehicleService implements VehicleServiceInterface for testing
type MockVehicleService struct {
	ListFunc      func(ctx context.Context, f models.VehicleFilter, staff bool) (*models.VehiclePage, error)
	GetFunc       func(ctx context.Context, id string, staff bool) (*models.Vehicle, error)
	CreateFunc    func(ctx context.Context, v *models.Vehicle) (*models.Vehicle, error)
	UpdateFunc    func(ctx context.Context, id string, patch models.VehiclePatch) (*models.Vehicle, error)
	SetActiveFunc func(ctx context.Context, id string, active bool) (*models.Vehicle, error)
}

func (m *MockVehicleService) List(ctx context.Context, f models.VehicleFilter, staff bool) (*models.VehiclePage, error) {
	if m.ListFunc == nil {
		return &models.VehiclePage{Page: f.Page, PageSize: f.PageSize}, nil
	}
	return m.ListFunc(ctx, f, staff)
}

func (m *MockVehicleService) Get(ctx context.Context, id string, staff bool) (*models.Vehicle, error) {
	if m.GetFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetFunc(ctx, id, staff)
}

func (m *MockVehicleService) Create(ctx context.Context, v *models.Vehicle) (*models.Vehicle, error) {
	if m.CreateFunc == nil {
		v.ID = "v-1"
		return v, nil
	}
	return m.CreateFunc(ctx, v)
}

func (m *MockVehicleService) Update(ctx context.Context, id string, patch models.VehiclePatch) (*models.Vehicle, error) {
	if m.UpdateFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UpdateFunc(ctx, id, patch)
}

func (m *MockVehicleService) SetActive(ctx context.Context, id string, active bool) (*models.Vehicle, error) {
	if m.SetActiveFunc == nil {
		return &models.Vehicle{ID: id, IsActive: active}, nil
	}
	return m.SetActiveFunc(ctx, id, active)
}
