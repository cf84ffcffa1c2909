package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/garage/internal/models"
	pkghttp "github.com/BradenHooton/garage/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRecorder struct {
	entries []models.RequestLog
}

func (r *recordingRecorder) RecordRequest(ctx context.Context, entry models.RequestLog) {
	r.entries = append(r.entries, entry)
}

func auditedRouter(rec *recordingRecorder) http.Handler {
	router := chi.NewRouter()
	router.Use(AuditRequests(rec, nil))
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Get("/vehicles/{id}", func(w http.ResponseWriter, r *http.Request) {
		pkghttp.SetActor(r.Context(), "p-alice")
		w.WriteHeader(http.StatusNotFound)
	})
	router.Post("/auth/login/plaintext", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	return router
}

func TestAuditRequests_RecordsRoutePattern(t *testing.T) {
	rec := &recordingRecorder{}
	req := httptest.NewRequest(http.MethodGet, "/vehicles/42?brand=honda", nil)
	req.RemoteAddr = "203.0.113.10:40000"

	auditedRouter(rec).ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, rec.entries, 1)
	entry := rec.entries[0]
	assert.Equal(t, http.MethodGet, entry.Method)
	assert.Equal(t, "/vehicles/{id}", entry.Endpoint)
	assert.Equal(t, "/vehicles/42", entry.Path)
	assert.Equal(t, http.StatusNotFound, entry.StatusCode)
	assert.Equal(t, "203.0.113.10", entry.ClientID)
	require.NotNil(t, entry.PrincipalID)
	assert.Equal(t, "p-alice", *entry.PrincipalID)
}

func TestAuditRequests_AnonymousAndImplicitStatus(t *testing.T) {
	rec := &recordingRecorder{}

	auditedRouter(rec).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/auth/login/plaintext", nil))

	require.Len(t, rec.entries, 1)
	assert.Nil(t, rec.entries[0].PrincipalID)
	assert.Equal(t, http.StatusOK, rec.entries[0].StatusCode)
}

func TestAuditRequests_UnmatchedRoute(t *testing.T) {
	rec := &recordingRecorder{}

	auditedRouter(rec).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-admin", nil))

	require.Len(t, rec.entries, 1)
	assert.Equal(t, "unmatched", rec.entries[0].Endpoint)
	assert.Equal(t, http.StatusNotFound, rec.entries[0].StatusCode)
}

func TestAuditRequests_SkipsHealth(t *testing.T) {
	rec := &recordingRecorder{}

	auditedRouter(rec).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Empty(t, rec.entries)
}
