package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/garage/internal/auth"
	"github.com/BradenHooton/garage/internal/models"
	pkghttp "github.com/BradenHooton/garage/pkg/http"
	"github.com/go-chi/chi/v5"
)

// PrincipalServiceInterface defines principal administration
type PrincipalServiceInterface interface {
	Get(ctx context.Context, id string) (*models.Principal, error)
	List(ctx context.Context, limit, offset int) ([]*models.Principal, error)
	UpdateRole(ctx context.Context, actorID, id, role string) (*models.Principal, error)
	Delete(ctx context.Context, actorID, id string) error
}

// PrincipalHandler handles principal administration requests
type PrincipalHandler struct {
	service PrincipalServiceInterface
	logger  *slog.Logger
}

// NewPrincipalHandler creates a new PrincipalHandler
func NewPrincipalHandler(service PrincipalServiceInterface, logger *slog.Logger) *PrincipalHandler {
	return &PrincipalHandler{service: service, logger: logger}
}

// UpdateRoleRequest represents the request body for a role change
type UpdateRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=VISITOR ADMIN SUPER_ADMIN"`
}

// ListPrincipalsResponse represents a page of principals
type ListPrincipalsResponse struct {
	OK         bool                 `json:"ok"`
	Principals []*PrincipalResponse `json:"principals"`
	Limit      int                  `json:"limit"`
	Offset     int                  `json:"offset"`
}

// List handles GET /principals?limit=&offset=
func (h *PrincipalHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	principals, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list principals")
		return
	}

	resp := ListPrincipalsResponse{OK: true, Principals: make([]*PrincipalResponse, 0, len(principals)), Limit: limit, Offset: offset}
	for _, p := range principals {
		resp.Principals = append(resp.Principals, principalToResponse(p))
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Get handles GET /principals/{id}
func (h *PrincipalHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get principal")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, principalToResponse(p))
}

// UpdateRole handles PATCH /principals/{id}/role
func (h *PrincipalHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req UpdateRoleRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	p, err := h.service.UpdateRole(r.Context(), claims.UserID, chi.URLParam(r, "id"), req.Role)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to update role")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, principalToResponse(p))
}

// Delete handles DELETE /principals/{id}
func (h *PrincipalHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.Delete(r.Context(), claims.UserID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, h.logger, err, "failed to delete principal")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
