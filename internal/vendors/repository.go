package vendors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/roadcall/roadside-dispatch/internal/incidents"
	"github.com/roadcall/roadside-dispatch/pkg/common"
)

// Repository handles database operations for vendors
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new vendors repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new vendor profile.
func (r *Repository) Create(ctx context.Context, vendor *Vendor) error {
	pricing, err := json.Marshal(vendor.Pricing)
	if err != nil {
		return fmt.Errorf("failed to marshal pricing: %w", err)
	}

	caps := make([]string, len(vendor.Capabilities))
	for i, c := range vendor.Capabilities {
		caps[i] = string(c)
	}

	query := `
		INSERT INTO vendors (
			id, name, capabilities, coverage_latitude, coverage_longitude,
			coverage_radius_miles, availability, acceptance_rate, rating,
			completion_rate, pricing
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		vendor.ID,
		vendor.Name,
		caps,
		vendor.CoverageLatitude,
		vendor.CoverageLongitude,
		vendor.CoverageRadiusMiles,
		vendor.Availability,
		vendor.Metrics.AcceptanceRate,
		vendor.Metrics.Rating,
		vendor.Metrics.CompletionRate,
		pricing,
	).Scan(&vendor.CreatedAt, &vendor.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create vendor: %w", err)
	}

	return nil
}

// GetByID retrieves a vendor by ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Vendor, error) {
	query := `
		SELECT id, name, capabilities, coverage_latitude, coverage_longitude,
			   coverage_radius_miles, availability, active_incident_id,
			   acceptance_rate, rating, completion_rate, pricing,
			   created_at, updated_at
		FROM vendors
		WHERE id = $1
	`

	vendor, err := r.scanVendor(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("vendor not found")
		}
		return nil, fmt.Errorf("failed to get vendor: %w", err)
	}

	return vendor, nil
}

// GetByIDs retrieves vendors in bulk, preserving no particular order.
func (r *Repository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Vendor, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, name, capabilities, coverage_latitude, coverage_longitude,
			   coverage_radius_miles, availability, active_incident_id,
			   acceptance_rate, rating, completion_rate, pricing,
			   created_at, updated_at
		FROM vendors
		WHERE id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get vendors: %w", err)
	}
	defer rows.Close()

	var result []*Vendor
	for rows.Next() {
		vendor, err := r.scanVendor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vendor: %w", err)
		}
		result = append(result, vendor)
	}

	return result, rows.Err()
}

// SetAvailability updates the vendor's duty state. Clearing busy also
// clears the active incident reference.
func (r *Repository) SetAvailability(ctx context.Context, id uuid.UUID, availability Availability) error {
	query := `
		UPDATE vendors
		SET availability = $2,
			active_incident_id = CASE WHEN $2 = 'busy' THEN active_incident_id ELSE NULL END,
			updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, availability)
	if err != nil {
		return fmt.Errorf("failed to set availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewNotFoundError("vendor not found")
	}
	return nil
}

// MarkBusy flips an available vendor to busy with an active incident. A
// vendor may hold at most one active incident; the status guard enforces it.
func (r *Repository) MarkBusy(ctx context.Context, id, incidentID uuid.UUID) error {
	query := `
		UPDATE vendors
		SET availability = $3, active_incident_id = $2, updated_at = NOW()
		WHERE id = $1 AND availability = $4
	`

	tag, err := r.db.Exec(ctx, query, id, incidentID, Busy, Available)
	if err != nil {
		return fmt.Errorf("failed to mark vendor busy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewConflictError("vendor is not available")
	}
	return nil
}

// Release clears the active incident and returns the vendor to available.
func (r *Repository) Release(ctx context.Context, id, incidentID uuid.UUID) error {
	query := `
		UPDATE vendors
		SET availability = $3, active_incident_id = NULL, updated_at = NOW()
		WHERE id = $1 AND active_incident_id = $2
	`

	_, err := r.db.Exec(ctx, query, id, incidentID, Available)
	if err != nil {
		return fmt.Errorf("failed to release vendor: %w", err)
	}
	return nil
}

// UpdateLocation moves the vendor's coverage center.
func (r *Repository) UpdateLocation(ctx context.Context, id uuid.UUID, latitude, longitude float64) error {
	query := `
		UPDATE vendors
		SET coverage_latitude = $2, coverage_longitude = $3, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, latitude, longitude)
	if err != nil {
		return fmt.Errorf("failed to update location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewNotFoundError("vendor not found")
	}
	return nil
}

// RecordOfferOutcome folds one offer response into the rolling acceptance
// rate with an exponential moving average (alpha 0.1).
func (r *Repository) RecordOfferOutcome(ctx context.Context, id uuid.UUID, accepted bool) error {
	outcome := 0.0
	if accepted {
		outcome = 1.0
	}

	query := `
		UPDATE vendors
		SET acceptance_rate = LEAST(1.0, GREATEST(0.0, acceptance_rate * 0.9 + $2 * 0.1)),
			updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, id, outcome)
	if err != nil {
		return fmt.Errorf("failed to record offer outcome: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanVendor(row rowScanner) (*Vendor, error) {
	vendor := &Vendor{}
	var caps []string
	var pricing []byte

	err := row.Scan(
		&vendor.ID,
		&vendor.Name,
		&caps,
		&vendor.CoverageLatitude,
		&vendor.CoverageLongitude,
		&vendor.CoverageRadiusMiles,
		&vendor.Availability,
		&vendor.ActiveIncidentID,
		&vendor.Metrics.AcceptanceRate,
		&vendor.Metrics.Rating,
		&vendor.Metrics.CompletionRate,
		&pricing,
		&vendor.CreatedAt,
		&vendor.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	vendor.Capabilities = make([]Capability, len(caps))
	for i, c := range caps {
		vendor.Capabilities[i] = Capability(c)
	}

	if len(pricing) > 0 {
		if err := json.Unmarshal(pricing, &vendor.Pricing); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pricing: %w", err)
		}
	}
	if vendor.Pricing == nil {
		vendor.Pricing = map[incidents.ServiceType]Pricing{}
	}

	return vendor, nil
}
