package offers

import (
	"time"

	"github.com/google/uuid"
)

// Status is the offer lifecycle state. pending is the only non-terminal
// state; terminal offers never transition again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the offer can never change state again.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// Cancellation reasons recorded on offer termination.
const (
	ReasonSuperseded        = "superseded"
	ReasonIncidentCancelled = "incident_cancelled"
)

// Offer is a time-bounded proposal sent to one vendor for one incident
type Offer struct {
	ID              uuid.UUID          `json:"id" db:"id"`
	IncidentID      uuid.UUID          `json:"incident_id" db:"incident_id"`
	VendorID        uuid.UUID          `json:"vendor_id" db:"vendor_id"`
	Status          Status             `json:"status" db:"status"`
	MatchScore      float64            `json:"match_score" db:"match_score"`
	ScoreBreakdown  map[string]float64 `json:"score_breakdown" db:"score_breakdown"`
	EstimatedPayout float64            `json:"estimated_payout" db:"estimated_payout"`
	// Travel-time estimate from the vendor's coverage center, computed at
	// fan-out so the vendor app can show an ETA alongside the payout.
	EstimatedArrivalMinutes int        `json:"estimated_arrival_minutes" db:"estimated_arrival_minutes"`
	ExpiresAt               time.Time  `json:"expires_at" db:"expires_at"`
	Attempt                 int        `json:"attempt" db:"attempt"`
	RespondedAt             *time.Time `json:"responded_at,omitempty" db:"responded_at"`
	DeclineReason           *string    `json:"decline_reason,omitempty" db:"decline_reason"`
	CreatedAt               time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the offer is past its expiry at the given
// instant. An offer whose expiry equals now is already expired.
func (o *Offer) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// DeclineRequest carries a vendor's refusal
type DeclineRequest struct {
	VendorID uuid.UUID `json:"vendor_id" binding:"required"`
	Reason   string    `json:"reason"`
}

// AcceptRequest carries a vendor's acceptance
type AcceptRequest struct {
	VendorID uuid.UUID `json:"vendor_id" binding:"required"`
}

// AcceptResponse is returned to the winning vendor
type AcceptResponse struct {
	Offer      *Offer    `json:"offer"`
	IncidentID uuid.UUID `json:"incident_id"`
}
