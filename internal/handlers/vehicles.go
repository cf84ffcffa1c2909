package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BradenHooton/garage/internal/auth"
	"github.com/BradenHooton/garage/internal/models"
	pkghttp "github.com/BradenHooton/garage/pkg/http"
	"github.com/go-chi/chi/v5"
)

// VehicleServiceInterface defines the inventory operations
type VehicleServiceInterface interface {
	List(ctx context.Context, f models.VehicleFilter, staff bool) (*models.VehiclePage, error)
	Get(ctx context.Context, id string, staff bool) (*models.Vehicle, error)
	Create(ctx context.Context, v *models.Vehicle) (*models.Vehicle, error)
	Update(ctx context.Context, id string, patch models.VehiclePatch) (*models.Vehicle, error)
	SetActive(ctx context.Context, id string, active bool) (*models.Vehicle, error)
}

// VehicleHandler handles vehicle inventory requests
type VehicleHandler struct {
	service VehicleServiceInterface
	logger  *slog.Logger
}

func NewVehicleHandler(service VehicleServiceInterface, logger *slog.Logger) *VehicleHandler {
	return &VehicleHandler{service: service, logger: logger}
}

// CreateVehicleRequest represents the request body for a new vehicle
type CreateVehicleRequest struct {
	Brand     string  `json:"brand" validate:"required,max=100"`
	Model     string  `json:"model" validate:"required,max=100"`
	Plate     string  `json:"plate" validate:"required,max=20"`
	YearMade  int     `json:"year_made" validate:"required"`
	Price     float64 `json:"price" validate:"gte=0"`
	Status    string  `json:"status,omitempty" validate:"omitempty,oneof=AVAILABLE SOLD MAINTENANCE"`
	MileageKm *int    `json:"mileage_km,omitempty" validate:"omitempty,gte=0"`
	Color     *string `json:"color,omitempty" validate:"omitempty,max=50"`
}

// UpdateVehicleRequest represents a partial update; absent fields are kept
type UpdateVehicleRequest struct {
	Brand     *string  `json:"brand,omitempty" validate:"omitempty,max=100"`
	Model     *string  `json:"model,omitempty" validate:"omitempty,max=100"`
	Plate     *string  `json:"plate,omitempty" validate:"omitempty,max=20"`
	YearMade  *int     `json:"year_made,omitempty"`
	Price     *float64 `json:"price,omitempty" validate:"omitempty,gte=0"`
	Status    *string  `json:"status,omitempty" validate:"omitempty,oneof=AVAILABLE SOLD MAINTENANCE"`
	MileageKm *int     `json:"mileage_km,omitempty" validate:"omitempty,gte=0"`
	Color     *string  `json:"color,omitempty" validate:"omitempty,max=50"`
}

type VehicleResponse struct {
	OK      bool            `json:"ok"`
	Vehicle *models.Vehicle `json:"vehicle"`
}

type VehicleListResponse struct {
	OK bool `json:"ok"`
	*models.VehiclePage
}

// List handles GET /vehicles
func (h *VehicleHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := parseVehicleFilter(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	page, err := h.service.List(r.Context(), f, isStaff(r))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list vehicles")
		return
	}
	if page.Vehicles == nil {
		page.Vehicles = []models.Vehicle{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, VehicleListResponse{OK: true, VehiclePage: page})
}

// Get handles GET /vehicles/{id}
func (h *VehicleHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.Get(r.Context(), chi.URLParam(r, "id"), isStaff(r))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get vehicle")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, VehicleResponse{OK: true, Vehicle: v})
}

// Create handles POST /vehicles
func (h *VehicleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateVehicleRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	v, err := h.service.Create(r.Context(), &models.Vehicle{
		Brand:     req.Brand,
		Model:     req.Model,
		Plate:     req.Plate,
		YearMade:  req.YearMade,
		Price:     req.Price,
		Status:    req.Status,
		MileageKm: req.MileageKm,
		Color:     req.Color,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to create vehicle")
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, VehicleResponse{OK: true, Vehicle: v})
}

// Update handles PATCH /vehicles/{id}
func (h *VehicleHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateVehicleRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	v, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), models.VehiclePatch{
		Brand:     req.Brand,
		Model:     req.Model,
		Plate:     req.Plate,
		YearMade:  req.YearMade,
		Price:     req.Price,
		Status:    req.Status,
		MileageKm: req.MileageKm,
		Color:     req.Color,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to update vehicle")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, VehicleResponse{OK: true, Vehicle: v})
}

// Enable handles POST /vehicles/{id}/enable
func (h *VehicleHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// Disable handles POST /vehicles/{id}/disable
func (h *VehicleHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *VehicleHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	v, err := h.service.SetActive(r.Context(), chi.URLParam(r, "id"), active)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to change vehicle state")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, VehicleResponse{OK: true, Vehicle: v})
}

func isStaff(r *http.Request) bool {
	claims := auth.GetUserFromContext(r)
	return claims != nil && (claims.Role == models.RoleAdmin || claims.Role == models.RoleSuperAdmin)
}

func parseVehicleFilter(r *http.Request) (models.VehicleFilter, error) {
	q := r.URL.Query()
	f := models.VehicleFilter{
		Brand:  strings.TrimSpace(q.Get("brand")),
		Model:  strings.TrimSpace(q.Get("model")),
		Status: strings.ToUpper(strings.TrimSpace(q.Get("status"))),
	}

	var err error
	if f.MinYear, err = queryInt(r, "min_year", 0); err != nil {
		return f, err
	}
	if f.MaxYear, err = queryInt(r, "max_year", 0); err != nil {
		return f, err
	}
	if f.Page, err = queryInt(r, "page", 1); err != nil {
		return f, err
	}
	if f.PageSize, err = queryInt(r, "page_size", 0); err != nil {
		return f, err
	}
	if f.MinPrice, err = queryFloat(r, "min_price"); err != nil {
		return f, err
	}
	if f.MaxPrice, err = queryFloat(r, "max_price"); err != nil {
		return f, err
	}
	if raw := q.Get("include_inactive"); raw != "" {
		if f.IncludeInactive, err = strconv.ParseBool(raw); err != nil {
			return f, errBadQuery("include_inactive must be a boolean")
		}
	}
	return f, nil
}

func queryFloat(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errBadQuery(name + " must be a number")
	}
	return &v, nil
}

type errBadQuery string

func (e errBadQuery) Error() string { return string(e) }
