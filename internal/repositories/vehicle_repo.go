package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/garage/internal/database"
	"github.com/BradenHooton/garage/internal/models"
	"github.com/google/uuid"
)

type VehicleRepository struct {
	db *database.DB
}

func NewVehicleRepository(db *database.DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

const vehicleColumns = `id, brand, model, plate, year_made, price, status, mileage_km, color, is_active, created_at, updated_at`

func scanVehicleRow(scanner rowScanner) (*models.Vehicle, error) {
	var v models.Vehicle
	err := scanner.Scan(
		&v.ID, &v.Brand, &v.Model, &v.Plate, &v.YearMade, &v.Price,
		&v.Status, &v.MileageKm, &v.Color, &v.IsActive, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &v, nil
}

// vehicleWhere builds the WHERE clause for a filter. Brand and model match
// case-insensitively as prefixes.
func vehicleWhere(f models.VehicleFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if !f.IncludeInactive {
		conds = append(conds, "is_active")
	}
	if f.Brand != "" {
		add("brand ILIKE $%d", escapeLike(f.Brand)+"%")
	}
	if f.Model != "" {
		add("model ILIKE $%d", escapeLike(f.Model)+"%")
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.MinYear > 0 {
		add("year_made >= $%d", f.MinYear)
	}
	if f.MaxYear > 0 {
		add("year_made <= $%d", f.MaxYear)
	}
	if f.MinPrice != nil {
		add("price >= $%d", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		add("price <= $%d", *f.MaxPrice)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// List returns one page of vehicles plus the total matching count. Page and
// PageSize must already be normalised by the caller.
func (r *VehicleRepository) List(ctx context.Context, f models.VehicleFilter) (*models.VehiclePage, error) {
	where, args := vehicleWhere(f)

	var total int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM vehicles`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count vehicles: %w", database.MapPostgresError(err))
	}

	offset := (f.Page - 1) * f.PageSize
	query := fmt.Sprintf(`SELECT %s FROM vehicles%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		vehicleColumns, where, len(args)+1, len(args)+2)

	rows, err := r.db.Pool.Query(ctx, query, append(args, f.PageSize, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	vehicles := make([]models.Vehicle, 0)
	for rows.Next() {
		v, err := scanVehicleRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		vehicles = append(vehicles, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &models.VehiclePage{Vehicles: vehicles, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

func (r *VehicleRepository) GetByID(ctx context.Context, id string) (*models.Vehicle, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE id = $1`
	return scanVehicleRow(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *VehicleRepository) Create(ctx context.Context, v *models.Vehicle) (*models.Vehicle, error) {
	v.ID = uuid.New().String()
	now := time.Now()

	query := `
		INSERT INTO vehicles (id, brand, model, plate, year_made, price, status, mileage_km, color, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10, $10)
		RETURNING ` + vehicleColumns

	return scanVehicleRow(r.db.Pool.QueryRow(ctx, query,
		v.ID, v.Brand, v.Model, v.Plate, v.YearMade, v.Price, v.Status, v.MileageKm, v.Color, now,
	))
}

// Update applies the non-nil fields of patch.
func (r *VehicleRepository) Update(ctx context.Context, id string, patch models.VehiclePatch) (*models.Vehicle, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	sets := []string{"updated_at = NOW()"}
	args := []any{id}
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Brand != nil {
		set("brand", *patch.Brand)
	}
	if patch.Model != nil {
		set("model", *patch.Model)
	}
	if patch.Plate != nil {
		set("plate", *patch.Plate)
	}
	if patch.YearMade != nil {
		set("year_made", *patch.YearMade)
	}
	if patch.Price != nil {
		set("price", *patch.Price)
	}
	if patch.Status != nil {
		set("status", *patch.Status)
	}
	if patch.MileageKm != nil {
		set("mileage_km", *patch.MileageKm)
	}
	if patch.Color != nil {
		set("color", *patch.Color)
	}

	query := `UPDATE vehicles SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + vehicleColumns
	return scanVehicleRow(r.db.Pool.QueryRow(ctx, query, args...))
}

// SetActive toggles the soft-delete flag.
func (r *VehicleRepository) SetActive(ctx context.Context, id string, active bool) (*models.Vehicle, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	query := `UPDATE vehicles SET is_active = $2, updated_at = NOW() WHERE id = $1 RETURNING ` + vehicleColumns
	return scanVehicleRow(r.db.Pool.QueryRow(ctx, query, id, active))
}
