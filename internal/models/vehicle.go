package models

import "time"

// Vehicle statuses
const (
	VehicleStatusAvailable   = "AVAILABLE"
	VehicleStatusSold        = "SOLD"
	VehicleStatusMaintenance = "MAINTENANCE"
)

type Vehicle struct {
	ID        string    `json:"id"`
	Brand     string    `json:"brand"`
	Model     string    `json:"model"`
	Plate     string    `json:"plate"`
	YearMade  int       `json:"year_made"`
	Price     float64   `json:"price"`
	Status    string    `json:"status"`
	MileageKm *int      `json:"mileage_km,omitempty"`
	Color     *string   `json:"color,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VehicleFilter narrows a vehicle listing. Zero values mean "no filter".
type VehicleFilter struct {
	Brand           string
	Model           string
	Status          string
	MinYear         int
	MaxYear         int
	MinPrice        *float64
	MaxPrice        *float64
	IncludeInactive bool
	Page            int
	PageSize        int
}

// VehiclePatch carries the fields of a partial update. Nil means unchanged.
type VehiclePatch struct {
	Brand     *string
	Model     *string
	Plate     *string
	YearMade  *int
	Price     *float64
	Status    *string
	MileageKm *int
	Color     *string
}

// VehiclePage is one page of a listing.
type VehiclePage struct {
	Vehicles []Vehicle `json:"vehicles"`
	Total    int64     `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}
