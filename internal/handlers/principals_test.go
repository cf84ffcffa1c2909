package handlers_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/garage/internal/handlers"
	"github.com/BradenHooton/garage/internal/models"
	pkghttp "github.com/BradenHooton/garage/pkg/http"
	"github.com/stretchr/testify/assert"
)

func TestPrincipalHandler_List(t *testing.T) {
	svc := &handlers.MockPrincipalService{
		ListFunc: func(ctx context.Context, limit, offset int) ([]*models.Principal, error) {
			assert.Equal(t, 5, limit)
			assert.Equal(t, 10, offset)
			return []*models.Principal{
				{ID: "p-1", Username: "alice", Role: models.RoleVisitor},
				{ID: "p-2", Username: "root", Role: models.RoleSuperAdmin},
			}, nil
		},
	}
	h := handlers.NewPrincipalHandler(svc, testLogger())

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/principals?limit=5&offset=10", nil))

	var resp handlers.ListPrincipalsResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Len(t, resp.Principals, 2)
	assert.Equal(t, 5, resp.Limit)
	assert.Equal(t, 10, resp.Offset)
}

func TestPrincipalHandler_List_DefaultPaging(t *testing.T) {
	var gotLimit, gotOffset int
	svc := &handlers.MockPrincipalService{
		ListFunc: func(ctx context.Context, limit, offset int) ([]*models.Principal, error) {
			gotLimit, gotOffset = limit, offset
			return nil, nil
		},
	}
	h := handlers.NewPrincipalHandler(svc, testLogger())

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/principals", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, gotLimit)
	assert.Equal(t, 0, gotOffset)
	assert.Contains(t, w.Body.String(), `"principals":[]`)
}

func TestPrincipalHandler_Get_NotFound(t *testing.T) {
	h := handlers.NewPrincipalHandler(&handlers.MockPrincipalService{}, testLogger())

	req := handlers.WithURLParam(httptest.NewRequest(http.MethodGet, "/principals/p-missing", nil), "id", "p-missing")
	w := httptest.NewRecorder()
	h.Get(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusNotFound, pkghttp.CodeNotFound)
}

func TestPrincipalHandler_UpdateRole(t *testing.T) {
	svc := &handlers.MockPrincipalService{
		UpdateRoleFunc: func(ctx context.Context, actorID, id, role string) (*models.Principal, error) {
			assert.Equal(t, "p-root", actorID)
			assert.Equal(t, "p-1", id)
			return &models.Principal{ID: id, Username: "alice", Role: role}, nil
		},
	}
	h := handlers.NewPrincipalHandler(svc, testLogger())

	req := handlers.NewTestRequest(t, http.MethodPatch, "/principals/p-1/role", handlers.UpdateRoleRequest{Role: models.RoleAdmin})
	req = handlers.WithURLParam(req, "id", "p-1")
	req = handlers.WithAuthContext(req, "p-root", "root", models.RoleSuperAdmin)
	w := httptest.NewRecorder()
	h.UpdateRole(w, req)

	var resp handlers.PrincipalResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, models.RoleAdmin, resp.Role)
}

func TestPrincipalHandler_UpdateRole_InvalidRole(t *testing.T) {
	h := handlers.NewPrincipalHandler(&handlers.MockPrincipalService{}, testLogger())

	req := handlers.NewTestRequest(t, http.MethodPatch, "/principals/p-1/role", handlers.UpdateRoleRequest{Role: "OWNER"})
	req = handlers.WithURLParam(req, "id", "p-1")
	req = handlers.WithAuthContext(req, "p-root", "root", models.RoleSuperAdmin)
	w := httptest.NewRecorder()
	h.UpdateRole(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, pkghttp.CodeBadRequest)
}

func TestPrincipalHandler_UpdateRole_Self(t *testing.T) {
	svc := &handlers.MockPrincipalService{
		UpdateRoleFunc: func(ctx context.Context, actorID, id, role string) (*models.Principal, error) {
			return nil, fmt.Errorf("%w: cannot change your own role", models.ErrForbidden)
		},
	}
	h := handlers.NewPrincipalHandler(svc, testLogger())

	req := handlers.NewTestRequest(t, http.MethodPatch, "/principals/p-root/role", handlers.UpdateRoleRequest{Role: models.RoleVisitor})
	req = handlers.WithURLParam(req, "id", "p-root")
	req = handlers.WithAuthContext(req, "p-root", "root", models.RoleSuperAdmin)
	w := httptest.NewRecorder()
	h.UpdateRole(w, req)

	resp := handlers.AssertErrorResponse(t, w, http.StatusForbidden, pkghttp.CodeForbidden)
	assert.Equal(t, "cannot change your own role", resp.Error)
}

func TestPrincipalHandler_Delete(t *testing.T) {
	var deleted string
	svc := &handlers.MockPrincipalService{
		DeleteFunc: func(ctx context.Context, actorID, id string) error {
			deleted = id
			return nil
		},
	}
	h := handlers.NewPrincipalHandler(svc, testLogger())

	req := handlers.WithURLParam(httptest.NewRequest(http.MethodDelete, "/principals/p-1", nil), "id", "p-1")
	req = handlers.WithAuthContext(req, "p-root", "root", models.RoleSuperAdmin)
	w := httptest.NewRecorder()
	h.Delete(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "p-1", deleted)
}

func TestPrincipalHandler_Delete_Unauthenticated(t *testing.T) {
	h := handlers.NewPrincipalHandler(&handlers.MockPrincipalService{}, testLogger())

	req := handlers.WithURLParam(httptest.NewRequest(http.MethodDelete, "/principals/p-1", nil), "id", "p-1")
	w := httptest.NewRecorder()
	h.Delete(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, pkghttp.CodeUnauthorized)
}
