package incidents

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/roadcall/roadside-dispatch/pkg/common"
)

// Repository handles database operations for incidents
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new incidents repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new incident in status created.
func (r *Repository) Create(ctx context.Context, incident *Incident) error {
	query := `
		INSERT INTO incidents (
			id, driver_id, service_type, status, latitude, longitude,
			priority_tier, excluded_vendor_ids
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		incident.ID,
		incident.DriverID,
		incident.ServiceType,
		incident.Status,
		incident.Latitude,
		incident.Longitude,
		incident.PriorityTier,
		incident.ExcludedVendorIDs,
	).Scan(&incident.CreatedAt, &incident.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}

	return nil
}

// GetByID retrieves an incident by ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Incident, error) {
	query := `
		SELECT id, driver_id, service_type, status, latitude, longitude,
			   priority_tier, assigned_vendor_id, excluded_vendor_ids,
			   created_at, updated_at
		FROM incidents
		WHERE id = $1
	`

	incident := &Incident{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&incident.ID,
		&incident.DriverID,
		&incident.ServiceType,
		&incident.Status,
		&incident.Latitude,
		&incident.Longitude,
		&incident.PriorityTier,
		&incident.AssignedVendorID,
		&incident.ExcludedVendorIDs,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("incident not found")
		}
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}

	return incident, nil
}

// ConditionalAssign sets the assigned vendor if and only if no vendor is
// currently assigned and the incident is still in created. This single
// UPDATE is the linearization point for racing acceptances: exactly one
// caller observes rows affected = 1.
func (r *Repository) ConditionalAssign(ctx context.Context, incidentID, vendorID uuid.UUID) (bool, error) {
	query := `
		UPDATE incidents
		SET assigned_vendor_id = $2,
			status = $3,
			updated_at = NOW()
		WHERE id = $1
		  AND assigned_vendor_id IS NULL
		  AND status = $4
	`

	tag, err := r.db.Exec(ctx, query, incidentID, vendorID, StatusVendorAssigned, StatusCreated)
	if err != nil {
		return false, fmt.Errorf("failed to assign vendor: %w", err)
	}

	if tag.RowsAffected() == 1 {
		r.appendTimeline(ctx, incidentID, StatusCreated, StatusVendorAssigned, "dispatch", "vendor accepted offer")
		return true, nil
	}
	return false, nil
}

// Transition moves the incident from one status to another with a state
// guard, appending a timeline entry. Returns Conflict if the incident is
// not in the expected from status.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, from, to Status, actor, reason string) error {
	if !CanTransition(from, to) {
		return common.NewConflictError(fmt.Sprintf("illegal transition %s -> %s", from, to))
	}

	query := `
		UPDATE incidents
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`

	tag, err := r.db.Exec(ctx, query, id, to, from)
	if err != nil {
		return fmt.Errorf("failed to transition incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewConflictError(fmt.Sprintf("incident not in status %s", from))
	}

	r.appendTimeline(ctx, id, from, to, actor, reason)
	return nil
}

// ClearAssignment removes the assigned vendor after an arrival timeout,
// reverts the incident to created, and adds the vendor to the exclusion
// list so later attempts skip it.
func (r *Repository) ClearAssignment(ctx context.Context, incidentID, vendorID uuid.UUID) error {
	query := `
		UPDATE incidents
		SET assigned_vendor_id = NULL,
			status = $3,
			excluded_vendor_ids = array_append(excluded_vendor_ids, $2),
			updated_at = NOW()
		WHERE id = $1 AND assigned_vendor_id = $2
	`

	tag, err := r.db.Exec(ctx, query, incidentID, vendorID, StatusCreated)
	if err != nil {
		return fmt.Errorf("failed to clear assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewConflictError("vendor is not assigned to this incident")
	}

	r.appendTimeline(ctx, incidentID, StatusVendorAssigned, StatusCreated, "dispatch", "vendor timeout")
	return nil
}

// GetTimeline returns the append-only transition history, oldest first.
func (r *Repository) GetTimeline(ctx context.Context, incidentID uuid.UUID) ([]TimelineEntry, error) {
	query := `
		SELECT id, incident_id, from_status, to_status, actor, reason, occurred_at
		FROM incident_timeline
		WHERE incident_id = $1
		ORDER BY occurred_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get timeline: %w", err)
	}
	defer rows.Close()

	var entries []TimelineEntry
	for rows.Next() {
		var e TimelineEntry
		if err := rows.Scan(&e.ID, &e.IncidentID, &e.FromStatus, &e.ToStatus, &e.Actor, &e.Reason, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan timeline entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (r *Repository) appendTimeline(ctx context.Context, incidentID uuid.UUID, from, to Status, actor, reason string) {
	query := `
		INSERT INTO incident_timeline (incident_id, from_status, to_status, actor, reason)
		VALUES ($1, $2, $3, $4, $5)
	`
	// Timeline is best effort; the status row is the source of truth.
	_, _ = r.db.Exec(ctx, query, incidentID, from, to, actor, reason)
}
