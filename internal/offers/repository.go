package offers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/roadcall/roadside-dispatch/pkg/common"
)

// Repository handles database operations for offers
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new offers repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a pending offer.
func (r *Repository) Create(ctx context.Context, offer *Offer) error {
	breakdown, err := json.Marshal(offer.ScoreBreakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal score breakdown: %w", err)
	}

	query := `
		INSERT INTO offers (
			id, incident_id, vendor_id, status, match_score, score_breakdown,
			estimated_payout, estimated_arrival_minutes, expires_at, attempt
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		offer.ID,
		offer.IncidentID,
		offer.VendorID,
		offer.Status,
		offer.MatchScore,
		breakdown,
		offer.EstimatedPayout,
		offer.EstimatedArrivalMinutes,
		offer.ExpiresAt,
		offer.Attempt,
	).Scan(&offer.CreatedAt, &offer.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}

	return nil
}

// GetByID retrieves an offer by ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Offer, error) {
	query := selectOffer + ` WHERE id = $1`

	offer, err := r.scanOffer(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("offer not found")
		}
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}

	return offer, nil
}

// Terminate moves a pending offer to a terminal status. The status guard
// in the WHERE clause makes terminal offers immutable: a second terminate
// on the same offer affects zero rows and returns Conflict.
func (r *Repository) Terminate(ctx context.Context, id uuid.UUID, newStatus Status, reason *string) (*Offer, error) {
	if !newStatus.IsTerminal() {
		return nil, common.NewValidationError("terminate requires a terminal status")
	}

	query := `
		UPDATE offers
		SET status = $2, decline_reason = $3, responded_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $4
		RETURNING id, incident_id, vendor_id, status, match_score, score_breakdown,
				  estimated_payout, estimated_arrival_minutes, expires_at, attempt,
				  responded_at, decline_reason, created_at, updated_at
	`

	offer, err := r.scanOffer(r.db.QueryRow(ctx, query, id, newStatus, reason, StatusPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewConflictError("offer is not pending")
		}
		return nil, fmt.Errorf("failed to terminate offer: %w", err)
	}

	return offer, nil
}

// ListPendingForIncident returns all pending offers for an incident.
func (r *Repository) ListPendingForIncident(ctx context.Context, incidentID uuid.UUID) ([]*Offer, error) {
	query := selectOffer + ` WHERE incident_id = $1 AND status = $2 ORDER BY match_score DESC`

	rows, err := r.db.Query(ctx, query, incidentID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending offers: %w", err)
	}
	defer rows.Close()

	return r.scanOffers(rows)
}

// ListForIncident returns every offer ever made for an incident, newest
// attempt first.
func (r *Repository) ListForIncident(ctx context.Context, incidentID uuid.UUID) ([]*Offer, error) {
	query := selectOffer + ` WHERE incident_id = $1 ORDER BY attempt DESC, match_score DESC`

	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	defer rows.Close()

	return r.scanOffers(rows)
}

// ExpireDue transitions every pending offer whose expiry has passed to
// expired and returns them so the caller can emit events. An offer whose
// expiry equals now is included.
func (r *Repository) ExpireDue(ctx context.Context, now time.Time) ([]*Offer, error) {
	query := `
		UPDATE offers
		SET status = $1, responded_at = NOW(), updated_at = NOW()
		WHERE status = $2 AND expires_at <= $3
		RETURNING id, incident_id, vendor_id, status, match_score, score_breakdown,
				  estimated_payout, estimated_arrival_minutes, expires_at, attempt,
				  responded_at, decline_reason, created_at, updated_at
	`

	rows, err := r.db.Query(ctx, query, StatusExpired, StatusPending, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire offers: %w", err)
	}
	defer rows.Close()

	return r.scanOffers(rows)
}

// CountAcceptedForIncident returns how many offers for the incident have
// been accepted. Anything above one is an invariant violation.
func (r *Repository) CountAcceptedForIncident(ctx context.Context, incidentID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM offers WHERE incident_id = $1 AND status = $2`,
		incidentID, StatusAccepted,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count accepted offers: %w", err)
	}
	return count, nil
}

const selectOffer = `
	SELECT id, incident_id, vendor_id, status, match_score, score_breakdown,
		   estimated_payout, estimated_arrival_minutes, expires_at, attempt,
		   responded_at, decline_reason, created_at, updated_at
	FROM offers`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanOffer(row rowScanner) (*Offer, error) {
	offer := &Offer{}
	var breakdown []byte

	err := row.Scan(
		&offer.ID,
		&offer.IncidentID,
		&offer.VendorID,
		&offer.Status,
		&offer.MatchScore,
		&breakdown,
		&offer.EstimatedPayout,
		&offer.EstimatedArrivalMinutes,
		&offer.ExpiresAt,
		&offer.Attempt,
		&offer.RespondedAt,
		&offer.DeclineReason,
		&offer.CreatedAt,
		&offer.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &offer.ScoreBreakdown); err != nil {
			return nil, fmt.Errorf("failed to unmarshal score breakdown: %w", err)
		}
	}

	return offer, nil
}

func (r *Repository) scanOffers(rows pgx.Rows) ([]*Offer, error) {
	var result []*Offer
	for rows.Next() {
		offer, err := r.scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		result = append(result, offer)
	}
	return result, rows.Err()
}
