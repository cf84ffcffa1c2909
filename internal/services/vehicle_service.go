package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/garage/internal/models"
)

// VehicleStore persists the vehicle inventory.
type VehicleStore interface {
	List(ctx context.Context, f models.VehicleFilter) (*models.VehiclePage, error)
	GetByID(ctx context.Context, id string) (*models.Vehicle, error)
	Create(ctx context.Context, v *models.Vehicle) (*models.Vehicle, error)
	Update(ctx context.Context, id string, patch models.VehiclePatch) (*models.Vehicle, error)
	SetActive(ctx context.Context, id string, active bool) (*models.Vehicle, error)
}

const (
	MinVehicleYear         = 1900
	DefaultVehiclePageSize = 20
	MaxVehiclePageSize     = 100
)

type VehicleService struct {
	store  VehicleStore
	logger *slog.Logger
	now    func() time.Time
}

func NewVehicleService(store VehicleStore, logger *slog.Logger) *VehicleService {
	return &VehicleService{store: store, logger: logger, now: time.Now}
}

// List returns one page. Inactive vehicles are only listed for staff.
func (s *VehicleService) List(ctx context.Context, f models.VehicleFilter, staff bool) (*models.VehiclePage, error) {
	if !staff {
		f.IncludeInactive = false
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultVehiclePageSize
	}
	if f.PageSize > MaxVehiclePageSize {
		f.PageSize = MaxVehiclePageSize
	}
	if f.Status != "" && !validVehicleStatus(f.Status) {
		return nil, fmt.Errorf("%w: invalid status", models.ErrBadRequest)
	}
	if f.MinYear > 0 && f.MaxYear > 0 && f.MinYear > f.MaxYear {
		return nil, fmt.Errorf("%w: min_year is greater than max_year", models.ErrBadRequest)
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return nil, fmt.Errorf("%w: min_price is greater than max_price", models.ErrBadRequest)
	}

	page, err := s.store.List(ctx, f)
	if err != nil {
		s.logger.Error("failed to list vehicles", slog.Any("error", err))
		return nil, err
	}
	return page, nil
}

// Get hides soft-deleted vehicles from non-staff callers.
func (s *VehicleService) Get(ctx context.Context, id string, staff bool) (*models.Vehicle, error) {
	v, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.IsActive && !staff {
		return nil, models.ErrNotFound
	}
	return v, nil
}

func (s *VehicleService) Create(ctx context.Context, v *models.Vehicle) (*models.Vehicle, error) {
	v.Brand = strings.TrimSpace(v.Brand)
	v.Model = strings.TrimSpace(v.Model)
	v.Plate = normalizePlate(v.Plate)
	if v.Status == "" {
		v.Status = models.VehicleStatusAvailable
	}

	if v.Brand == "" || v.Model == "" || v.Plate == "" {
		return nil, fmt.Errorf("%w: brand, model and plate are required", models.ErrBadRequest)
	}
	if err := s.validate(&v.YearMade, &v.Price, &v.Status, v.MileageKm); err != nil {
		return nil, err
	}

	created, err := s.store.Create(ctx, v)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, fmt.Errorf("%w: plate already registered", models.ErrConflict)
		}
		s.logger.Error("failed to create vehicle", slog.Any("error", err))
		return nil, err
	}

	s.logger.Info("vehicle created", slog.String("vehicle_id", created.ID))
	return created, nil
}

func (s *VehicleService) Update(ctx context.Context, id string, patch models.VehiclePatch) (*models.Vehicle, error) {
	if patch == (models.VehiclePatch{}) {
		return nil, fmt.Errorf("%w: no fields to update", models.ErrBadRequest)
	}

	for _, field := range []*string{patch.Brand, patch.Model} {
		if field != nil {
			*field = strings.TrimSpace(*field)
			if *field == "" {
				return nil, fmt.Errorf("%w: brand and model cannot be empty", models.ErrBadRequest)
			}
		}
	}
	if patch.Plate != nil {
		plate := normalizePlate(*patch.Plate)
		if plate == "" {
			return nil, fmt.Errorf("%w: plate cannot be empty", models.ErrBadRequest)
		}
		patch.Plate = &plate
	}
	if err := s.validate(patch.YearMade, patch.Price, patch.Status, patch.MileageKm); err != nil {
		return nil, err
	}

	updated, err := s.store.Update(ctx, id, patch)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, fmt.Errorf("%w: plate already registered", models.ErrConflict)
		}
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to update vehicle", slog.String("vehicle_id", id), slog.Any("error", err))
		}
		return nil, err
	}
	return updated, nil
}

// SetActive enables or soft-deletes a vehicle.
func (s *VehicleService) SetActive(ctx context.Context, id string, active bool) (*models.Vehicle, error) {
	v, err := s.store.SetActive(ctx, id, active)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to change vehicle state", slog.String("vehicle_id", id), slog.Any("error", err))
		}
		return nil, err
	}

	s.logger.Info("vehicle state changed", slog.String("vehicle_id", id), slog.Bool("active", active))
	return v, nil
}

// validate checks whichever fields are non-nil.
func (s *VehicleService) validate(year *int, price *float64, status *string, mileage *int) error {
	if year != nil {
		maxYear := s.now().Year() + 1
		if *year < MinVehicleYear || *year > maxYear {
			return fmt.Errorf("%w: year_made must be between %d and %d", models.ErrBadRequest, MinVehicleYear, maxYear)
		}
	}
	if price != nil && *price < 0 {
		return fmt.Errorf("%w: price cannot be negative", models.ErrBadRequest)
	}
	if status != nil && !validVehicleStatus(*status) {
		return fmt.Errorf("%w: invalid status", models.ErrBadRequest)
	}
	if mileage != nil && *mileage < 0 {
		return fmt.Errorf("%w: mileage_km cannot be negative", models.ErrBadRequest)
	}
	return nil
}

func validVehicleStatus(status string) bool {
	switch status {
	case models.VehicleStatusAvailable, models.VehicleStatusSold, models.VehicleStatusMaintenance:
		return true
	}
	return false
}

func normalizePlate(plate string) string {
	return strings.ToUpper(strings.Join(strings.Fields(plate), ""))
}
