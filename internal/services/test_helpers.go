package services

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/garage/internal/models"
)

// MockAttemptStore implements AttemptStore for testing
type MockAttemptStore struct {
	GetFunc                func(ctx context.Context, clientID string) (*models.AttemptRecord, error)
	UpsertFailureFunc      func(ctx context.Context, clientID string, now time.Time, idleWindow time.Duration) (*models.AttemptRecord, error)
	SetBlockedUntilFunc    func(ctx context.Context, clientID string, until time.Time) error
	ClearBlockFunc         func(ctx context.Context, clientID string) error
	DeleteFunc             func(ctx context.Context, clientID string) error
	ClearExpiredBlocksFunc func(ctx context.Context, now time.Time) (int64, error)
	DeleteIdleFunc         func(ctx context.Context, before time.Time) (int64, error)
}

func (m *MockAttemptStore) Get(ctx context.Context, clientID string) (*models.AttemptRecord, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, clientID)
	}
	return nil, nil
}

func (m *MockAttemptStore) UpsertFailure(ctx context.Context, clientID string, now time.Time, idleWindow time.Duration) (*models.AttemptRecord, error) {
	if m.UpsertFailureFunc != nil {
		return m.UpsertFailureFunc(ctx, clientID, now, idleWindow)
	}
	return &models.AttemptRecord{ClientID: clientID, FailureCount: 1, LastAttemptAt: now}, nil
}

func (m *MockAttemptStore) SetBlockedUntil(ctx context.Context, clientID string, until time.Time) error {
	if m.SetBlockedUntilFunc != nil {
		return m.SetBlockedUntilFunc(ctx, clientID, until)
	}
	return nil
}

func (m *MockAttemptStore) ClearBlock(ctx context.Context, clientID string) error {
	if m.ClearBlockFunc != nil {
		return m.ClearBlockFunc(ctx, clientID)
	}
	return nil
}

func (m *MockAttemptStore) Delete(ctx context.Context, clientID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, clientID)
	}
	return nil
}

func (m *MockAttemptStore) ClearExpiredBlocks(ctx context.Context, now time.Time) (int64, error) {
	if m.ClearExpiredBlocksFunc != nil {
		return m.ClearExpiredBlocksFunc(ctx, now)
	}
	return 0, nil
}

func (m *MockAttemptStore) DeleteIdle(ctx context.Context, before time.Time) (int64, error) {
	if m.DeleteIdleFunc != nil {
		return m.DeleteIdleFunc(ctx, before)
	}
	return 0, nil
}

// MockLoginMetrics records every observation in call order
type MockLoginMetrics struct {
	mu          sync.Mutex
	Logins      []string // "METHOD/outcome"
	Blocks      int
	StoreErrors []string
}

func (m *MockLoginMetrics) ObserveLogin(method models.CredentialMethod, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logins = append(m.Logins, string(method)+"/"+outcome)
}

func (m *MockLoginMetrics) ObserveAdmissionBlock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Blocks++
}

func (m *MockLoginMetrics) ObserveStoreError(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StoreErrors = append(m.StoreErrors, op)
}

// MockAdmission records admission calls and answers Check from Decision.
type MockAdmission struct {
	Decision  *models.AdmissionDecision // nil means allowed
	Checks    []string
	Failures  []string
	Successes []string
	OnCheck   func() // runs before Check answers
}

func (m *MockAdmission) Check(ctx context.Context, clientID string) models.AdmissionDecision {
	m.Checks = append(m.Checks, clientID)
	if m.OnCheck != nil {
		m.OnCheck()
	}
	if m.Decision != nil {
		return *m.Decision
	}
	return models.AdmissionDecision{Allowed: true}
}

func (m *MockAdmission) RecordFailure(ctx context.Context, clientID string) {
	m.Failures = append(m.Failures, clientID)
}

func (m *MockAdmission) RecordSuccess(ctx context.Context, clientID string) {
	m.Successes = append(m.Successes, clientID)
}

// Calls is the number of terminal admission calls.
func (m *MockAdmission) Calls() int {
	return len(m.Failures) + len(m.Successes)
}

// MockAuditSink records every event
type MockAuditSink struct {
	Events      []models.AuditEvent
	Identifiers []string
}

func (m *MockAuditSink) Record(ctx context.Context, event models.AuditEvent, identifier string) {
	m.Events = append(m.Events, event)
	m.Identifiers = append(m.Identifiers, identifier)
}

// Outcomes lists the recorded outcomes in order.
func (m *MockAuditSink) Outcomes() []string {
	out := make([]string, 0, len(m.Events))
	for _, e := range m.Events {
		out = append(out, e.Outcome)
	}
	return out
}

// MockPrincipalStore implements PrincipalStore, RegistrationStore and
// PrincipalAdminStore for testing
type MockPrincipalStore struct {
	GetByIDFunc              func(ctx context.Context, id string) (*models.Principal, error)
	FindByIdentifierFunc     func(ctx context.Context, identifier string) (*models.Principal, error)
	GetByEmailFunc           func(ctx context.Context, email string) (*models.Principal, error)
	ListFunc                 func(ctx context.Context, limit, offset int) ([]*models.Principal, error)
	UpdateRoleFunc           func(ctx context.Context, id, role string) (*models.Principal, error)
	DeleteFunc               func(ctx context.Context, id string) error
	CreateWithCredentialFunc func(ctx context.Context, p *models.Principal, cred *models.Credential) (*models.Principal, error)
	FindCalls                int
}

func (m *MockPrincipalStore) GetByID(ctx context.Context, id string) (*models.Principal, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockPrincipalStore) FindByIdentifier(ctx context.Context, identifier string) (*models.Principal, error) {
	m.FindCalls++
	if m.FindByIdentifierFunc != nil {
		return m.FindByIdentifierFunc(ctx, identifier)
	}
	return nil, models.ErrNotFound
}

func (m *MockPrincipalStore) GetByEmail(ctx context.Context, email string) (*models.Principal, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockPrincipalStore) List(ctx context.Context, limit, offset int) ([]*models.Principal, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return []*models.Principal{}, nil
}

func (m *MockPrincipalStore) UpdateRole(ctx context.Context, id, role string) (*models.Principal, error) {
	if m.UpdateRoleFunc != nil {
		return m.UpdateRoleFunc(ctx, id, role)
	}
	return nil, models.ErrNotFound
}

func (m *MockPrincipalStore) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockPrincipalStore) CreateWithCredential(ctx context.Context, p *models.Principal, cred *models.Credential) (*models.Principal, error) {
	if m.CreateWithCredentialFunc != nil {
		return m.CreateWithCredentialFunc(ctx, p, cred)
	}
	return nil, models.ErrInternalServer
}

// MockCredentialStore serves credentials from a map keyed by principal id
type MockCredentialStore struct {
	Credentials      map[string][]models.Credential
	ListByMethodFunc func(ctx context.Context, principalID string, method models.CredentialMethod) ([]models.Credential, error)
}

func (m *MockCredentialStore) ListByMethod(ctx context.Context, principalID string, method models.CredentialMethod) ([]models.Credential, error) {
	if m.ListByMethodFunc != nil {
		return m.ListByMethodFunc(ctx, principalID, method)
	}
	var out []models.Credential
	for _, c := range m.Credentials[principalID] {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out, nil
}

// MockOAuthStore implements OAuthStore for testing
type MockOAuthStore struct {
	GetBySubjectFunc func(ctx context.Context, provider, subjectID string) (*models.OAuthAccount, error)
	LinkFunc         func(ctx context.Context, principalID string, identity *models.DelegatedIdentity) (*models.OAuthAccount, error)
	ProvisionFunc    func(ctx context.Context, p *models.Principal, identity *models.DelegatedIdentity) (*models.Principal, error)
}

func (m *MockOAuthStore) GetBySubject(ctx context.Context, provider, subjectID string) (*models.OAuthAccount, error) {
	if m.GetBySubjectFunc != nil {
		return m.GetBySubjectFunc(ctx, provider, subjectID)
	}
	return nil, models.ErrNotFound
}

func (m *MockOAuthStore) Link(ctx context.Context, principalID string, identity *models.DelegatedIdentity) (*models.OAuthAccount, error) {
	if m.LinkFunc != nil {
		return m.LinkFunc(ctx, principalID, identity)
	}
	return &models.OAuthAccount{PrincipalID: principalID, Provider: identity.Provider, SubjectID: identity.SubjectID}, nil
}

func (m *MockOAuthStore) Provision(ctx context.Context, p *models.Principal, identity *models.DelegatedIdentity) (*models.Principal, error) {
	if m.ProvisionFunc != nil {
		return m.ProvisionFunc(ctx, p, identity)
	}
	p.ID = "provisioned-1"
	return p, nil
}

// MockMFAStore keeps enrollments in memory unless a func field overrides it
type MockMFAStore struct {
	mu          sync.Mutex
	Enrollments map[string]*models.MFAEnrollment
	GetFunc     func(ctx context.Context, principalID string) (*models.MFAEnrollment, error)
}

func NewMockMFAStore() *MockMFAStore {
	return &MockMFAStore{Enrollments: make(map[string]*models.MFAEnrollment)}
}

func (m *MockMFAStore) Get(ctx context.Context, principalID string) (*models.MFAEnrollment, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, principalID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Enrollments[principalID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MockMFAStore) CreatePending(ctx context.Context, e *models.MFAEnrollment) (*models.MFAEnrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.Enrollments[e.PrincipalID]; ok {
		cp := *existing
		return &cp, nil
	}
	stored := *e
	stored.Enabled = false
	stored.CreatedAt = time.Now()
	m.Enrollments[e.PrincipalID] = &stored
	cp := stored
	return &cp, nil
}

func (m *MockMFAStore) Enable(ctx context.Context, principalID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Enrollments[principalID]
	if !ok || e.Enabled {
		return models.ErrNotFound
	}
	e.Enabled = true
	e.EnabledAt = &at
	return nil
}

func (m *MockMFAStore) MarkUsed(ctx context.Context, principalID string, step int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Enrollments[principalID]
	if !ok || e.LastUsedStep >= step {
		return models.ErrConflict
	}
	e.LastUsedStep = step
	return nil
}

func (m *MockMFAStore) Delete(ctx context.Context, principalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Enrollments[principalID]; !ok {
		return models.ErrNotFound
	}
	delete(m.Enrollments, principalID)
	return nil
}

// MockNotifier records notifications
type MockNotifier struct {
	Sent []string
	Err  error
}

func (m *MockNotifier) NotifySecondFactorEnabled(ctx context.Context, email, username string, at time.Time) error {
	m.Sent = append(m.Sent, email)
	return m.Err
}

// MockAuditEventStore implements AuditEventStore for testing
type MockAuditEventStore struct {
	AppendFunc       func(ctx context.Context, e *models.AuditEvent) error
	RecentFunc       func(ctx context.Context, limit int) ([]models.AuditEvent, error)
	StatsFunc        func(ctx context.Context, since time.Time) (*models.AuditStats, error)
	HourlyLoginsFunc func(ctx context.Context, since time.Time) ([]models.HourlyLoginTrend, error)
	DeleteBeforeFunc func(ctx context.Context, before time.Time) (int64, error)
	Appended         []models.AuditEvent
}

func (m *MockAuditEventStore) Append(ctx context.Context, e *models.AuditEvent) error {
	m.Appended = append(m.Appended, *e)
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, e)
	}
	return nil
}

func (m *MockAuditEventStore) Recent(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	if m.RecentFunc != nil {
		return m.RecentFunc(ctx, limit)
	}
	return []models.AuditEvent{}, nil
}

func (m *MockAuditEventStore) Stats(ctx context.Context, since time.Time) (*models.AuditStats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx, since)
	}
	return &models.AuditStats{Since: since}, nil
}

func (m *MockAuditEventStore) HourlyLogins(ctx context.Context, since time.Time) ([]models.HourlyLoginTrend, error) {
	if m.HourlyLoginsFunc != nil {
		return m.HourlyLoginsFunc(ctx, since)
	}
	return []models.HourlyLoginTrend{}, nil
}

func (m *MockAuditEventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	if m.DeleteBeforeFunc != nil {
		return m.DeleteBeforeFunc(ctx, before)
	}
	return 0, nil
}

// MockRequestLogStore implements RequestLogStore for testing. Append is
// called from background goroutines, so Appended is guarded.
type MockRequestLogStore struct {
	AppendFunc            func(ctx context.Context, l *models.RequestLog) error
	EndpointStatsFunc     func(ctx context.Context, since time.Time, limit int) ([]models.EndpointStat, error)
	SuspiciousClientsFunc func(ctx context.Context, since time.Time, minFailedRequests, minFailedLogins int64, limit int) ([]models.SuspiciousClient, error)
	ActivityFunc          func(ctx context.Context, since time.Time, limit int) ([]models.PrincipalActivity, error)
	HourlyRequestsFunc    func(ctx context.Context, since time.Time) ([]models.HourlyRequestTrend, error)
	DeleteBeforeFunc      func(ctx context.Context, before time.Time) (int64, error)

	mu       sync.Mutex
	appended []models.RequestLog
}

func (m *MockRequestLogStore) Append(ctx context.Context, l *models.RequestLog) error {
	m.mu.Lock()
	m.appended = append(m.appended, *l)
	m.mu.Unlock()
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, l)
	}
	return nil
}

func (m *MockRequestLogStore) Appended() []models.RequestLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.RequestLog(nil), m.appended...)
}

func (m *MockRequestLogStore) EndpointStats(ctx context.Context, since time.Time, limit int) ([]models.EndpointStat, error) {
	if m.EndpointStatsFunc != nil {
		return m.EndpointStatsFunc(ctx, since, limit)
	}
	return []models.EndpointStat{}, nil
}

func (m *MockRequestLogStore) SuspiciousClients(ctx context.Context, since time.Time, minFailedRequests, minFailedLogins int64, limit int) ([]models.SuspiciousClient, error) {
	if m.SuspiciousClientsFunc != nil {
		return m.SuspiciousClientsFunc(ctx, since, minFailedRequests, minFailedLogins, limit)
	}
	return []models.SuspiciousClient{}, nil
}

func (m *MockRequestLogStore) PrincipalActivity(ctx context.Context, since time.Time, limit int) ([]models.PrincipalActivity, error) {
	if m.ActivityFunc != nil {
		return m.ActivityFunc(ctx, since, limit)
	}
	return []models.PrincipalActivity{}, nil
}

func (m *MockRequestLogStore) HourlyRequests(ctx context.Context, since time.Time) ([]models.HourlyRequestTrend, error) {
	if m.HourlyRequestsFunc != nil {
		return m.HourlyRequestsFunc(ctx, since)
	}
	return []models.HourlyRequestTrend{}, nil
}

func (m *MockRequestLogStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	if m.DeleteBeforeFunc != nil {
		return m.DeleteBeforeFunc(ctx, before)
	}
	return 0, nil
}

// MockVehicleStore implements VehicleStore for testing
type MockVehicleStore struct {
	ListFunc      func(ctx context.Context, f models.VehicleFilter) (*models.VehiclePage, error)
	GetByIDFunc   func(ctx context.Context, id string) (*models.Vehicle, error)
	CreateFunc    func(ctx context.Context, v *models.Vehicle) (*models.Vehicle, error)
	UpdateFunc    func(ctx context.Context, id string, patch models.VehiclePatch) (*models.Vehicle, error)
	SetActiveFunc func(ctx context.Context, id string, active bool) (*models.Vehicle, error)
}

func (m *MockVehicleStore) List(ctx context.Context, f models.VehicleFilter) (*models.VehiclePage, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, f)
	}
	return &models.VehiclePage{Vehicles: []models.Vehicle{}, Page: f.Page, PageSize: f.PageSize}, nil
}

func (m *MockVehicleStore) GetByID(ctx context.Context, id string) (*models.Vehicle, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockVehicleStore) Create(ctx context.Context, v *models.Vehicle) (*models.Vehicle, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, v)
	}
	v.ID = "vehicle-1"
	v.IsActive = true
	return v, nil
}

func (m *MockVehicleStore) Update(ctx context.Context, id string, patch models.VehiclePatch) (*models.Vehicle, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, patch)
	}
	return nil, models.ErrNotFound
}

func (m *MockVehicleStore) SetActive(ctx context.Context, id string, active bool) (*models.Vehicle, error) {
	if m.SetActiveFunc != nil {
		return m.SetActiveFunc(ctx, id, active)
	}
	return &models.Vehicle{ID: id, IsActive: active}, nil
}

// NewTestPrincipal creates a principal for tests
func NewTestPrincipal(id, username, role string) *models.Principal {
	now := time.Now()
	return &models.Principal{
		ID:        id,
		Username:  username,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func strPtr(s string) *string {
	return &s
}
