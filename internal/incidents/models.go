package incidents

import (
	"time"

	"github.com/google/uuid"
)

// ServiceType is the kind of roadside help an incident needs
type ServiceType string

const (
	ServiceTire   ServiceType = "tire"
	ServiceEngine ServiceType = "engine"
	ServiceTow    ServiceType = "tow"
)

// Valid reports whether the service type is one of the known kinds.
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceTire, ServiceEngine, ServiceTow:
		return true
	}
	return false
}

// Status is the incident lifecycle state
type Status string

const (
	StatusCreated        Status = "created"
	StatusVendorAssigned Status = "vendor_assigned"
	StatusVendorEnRoute  Status = "vendor_en_route"
	StatusVendorArrived  Status = "vendor_arrived"
	StatusWorkInProgress Status = "work_in_progress"
	StatusWorkCompleted  Status = "work_completed"
	StatusPaymentPending Status = "payment_pending"
	StatusClosed         Status = "closed"
	StatusCancelled      Status = "cancelled"
)

// validTransitions encodes the incident state machine. The dispatch engine
// and driver cancellation are the only writers; anything not listed is
// rejected with a conflict.
var validTransitions = map[Status][]Status{
	StatusCreated:        {StatusVendorAssigned, StatusCancelled},
	StatusVendorAssigned: {StatusVendorEnRoute, StatusVendorArrived, StatusCreated, StatusCancelled},
	StatusVendorEnRoute:  {StatusVendorArrived, StatusCreated, StatusCancelled},
	StatusVendorArrived:  {StatusWorkInProgress, StatusCancelled},
	StatusWorkInProgress: {StatusWorkCompleted, StatusCancelled},
	StatusWorkCompleted:  {StatusPaymentPending, StatusClosed},
	StatusPaymentPending: {StatusClosed},
}

// CanTransition reports whether from → to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the incident can never change state again.
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// Incident is a driver's service request
type Incident struct {
	ID               uuid.UUID   `json:"id" db:"id"`
	DriverID         uuid.UUID   `json:"driver_id" db:"driver_id"`
	ServiceType      ServiceType `json:"service_type" db:"service_type"`
	Status           Status      `json:"status" db:"status"`
	Latitude         float64     `json:"latitude" db:"latitude"`
	Longitude        float64     `json:"longitude" db:"longitude"`
	PriorityTier     string      `json:"priority_tier" db:"priority_tier"`
	AssignedVendorID *uuid.UUID  `json:"assigned_vendor_id,omitempty" db:"assigned_vendor_id"`
	// Vendors that previously timed out on this incident and must not be
	// offered it again.
	ExcludedVendorIDs []uuid.UUID `json:"excluded_vendor_ids,omitempty" db:"excluded_vendor_ids"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" db:"updated_at"`
}

// TimelineEntry is one append-only record of a status transition
type TimelineEntry struct {
	ID         int64     `json:"id" db:"id"`
	IncidentID uuid.UUID `json:"incident_id" db:"incident_id"`
	FromStatus Status    `json:"from_status" db:"from_status"`
	ToStatus   Status    `json:"to_status" db:"to_status"`
	Actor      string    `json:"actor" db:"actor"`
	Reason     string    `json:"reason" db:"reason"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
}

// CreateIncidentRequest is the intake payload
type CreateIncidentRequest struct {
	DriverID     uuid.UUID   `json:"driver_id" binding:"required"`
	ServiceType  ServiceType `json:"service_type" binding:"required,servicetype"`
	Latitude     float64     `json:"latitude" binding:"required,min=-90,max=90"`
	Longitude    float64     `json:"longitude" binding:"required,min=-180,max=180"`
	PriorityTier string      `json:"priority_tier"`
}

// UpdateStatusRequest reports lifecycle progress from the assigned vendor
type UpdateStatusRequest struct {
	Status Status `json:"status" binding:"required"`
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason"`
}

// CancelRequest is a driver- or supervisor-initiated cancellation
type CancelRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason"`
}
