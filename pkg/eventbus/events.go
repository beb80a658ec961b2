package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// IncidentCreatedData is emitted when a driver reports an incident. It
// triggers a new dispatch run.
type IncidentCreatedData struct {
	IncidentID  uuid.UUID `json:"incident_id"`
	DriverID    uuid.UUID `json:"driver_id"`
	ServiceType string    `json:"service_type"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Address     string    `json:"address,omitempty"`
	Priority    string    `json:"priority"`
	ReportedAt  time.Time `json:"reported_at"`
}

// IncidentCancelledData signals cancellation to an active dispatch run.
type IncidentCancelledData struct {
	IncidentID  uuid.UUID `json:"incident_id"`
	CancelledBy string    `json:"cancelled_by"` // "driver" or "supervisor"
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// IncidentAssignedData is emitted when the conditional assignment succeeds.
type IncidentAssignedData struct {
	IncidentID uuid.UUID `json:"incident_id"`
	VendorID   uuid.UUID `json:"vendor_id"`
	OfferID    uuid.UUID `json:"offer_id"`
	Attempt    int       `json:"attempt"`
	AssignedAt time.Time `json:"assigned_at"`
}

// IncidentEscalatedData is emitted when the attempt loop exhausts its budget
// without an acceptance, or on a fatal internal failure.
type IncidentEscalatedData struct {
	IncidentID  uuid.UUID `json:"incident_id"`
	Attempts    int       `json:"attempts"`
	FinalRadius float64   `json:"final_radius_miles"`
	Reason      string    `json:"reason"` // "no_vendor_found" or "internal"
	EscalatedAt time.Time `json:"escalated_at"`
}

// IncidentStatusChangedData is emitted on every incident state transition.
type IncidentStatusChangedData struct {
	IncidentID uuid.UUID `json:"incident_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Actor      string    `json:"actor"`
	Reason     string    `json:"reason,omitempty"`
	ChangedAt  time.Time `json:"changed_at"`
}

// OfferCreatedData is emitted once per pending offer in a fan-out batch.
type OfferCreatedData struct {
	OfferID                 uuid.UUID          `json:"offer_id"`
	IncidentID              uuid.UUID          `json:"incident_id"`
	VendorID                uuid.UUID          `json:"vendor_id"`
	Attempt                 int                `json:"attempt"`
	MatchScore              float64            `json:"match_score"`
	ScoreBreakdown          map[string]float64 `json:"score_breakdown"`
	EstimatedPayout         float64            `json:"estimated_payout"`
	EstimatedArrivalMinutes int                `json:"estimated_arrival_minutes"`
	ExpiresAt               time.Time          `json:"expires_at"`
	CreatedAt               time.Time          `json:"created_at"`
}

// OfferAcceptedData is emitted for the single winning offer of an incident.
type OfferAcceptedData struct {
	OfferID    uuid.UUID `json:"offer_id"`
	IncidentID uuid.UUID `json:"incident_id"`
	VendorID   uuid.UUID `json:"vendor_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// OfferDeclinedData is emitted when a vendor declines an offer.
type OfferDeclinedData struct {
	OfferID    uuid.UUID `json:"offer_id"`
	IncidentID uuid.UUID `json:"incident_id"`
	VendorID   uuid.UUID `json:"vendor_id"`
	Reason     string    `json:"reason,omitempty"`
	DeclinedAt time.Time `json:"declined_at"`
}

// OfferExpiredData is emitted by the sweeper or the engine deadline for
// offers that outlived their expiry.
type OfferExpiredData struct {
	OfferID    uuid.UUID `json:"offer_id"`
	IncidentID uuid.UUID `json:"incident_id"`
	VendorID   uuid.UUID `json:"vendor_id"`
	ExpiredAt  time.Time `json:"expired_at"`
}

// OfferCancelledData is emitted when a pending offer is withdrawn, either
// because a sibling won ("superseded") or the incident was cancelled.
type OfferCancelledData struct {
	OfferID     uuid.UUID `json:"offer_id"`
	IncidentID  uuid.UUID `json:"incident_id"`
	VendorID    uuid.UUID `json:"vendor_id"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// VendorTimeoutData is emitted when an assigned vendor misses the arrival
// deadline and the incident is put back into dispatch.
type VendorTimeoutData struct {
	IncidentID uuid.UUID `json:"incident_id"`
	VendorID   uuid.UUID `json:"vendor_id"`
	Deadline   time.Time `json:"deadline"`
	TimedOutAt time.Time `json:"timed_out_at"`
}
