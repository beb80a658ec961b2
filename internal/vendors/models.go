package vendors

import (
	"time"

	"github.com/google/uuid"
	"github.com/roadcall/roadside-dispatch/internal/incidents"
)

// Capability is a service a vendor can perform
type Capability string

const (
	CapTireRepair      Capability = "tire_repair"
	CapTireReplacement Capability = "tire_replacement"
	CapEngineRepair    Capability = "engine_repair"
	CapTowing          Capability = "towing"
	CapJumpstart       Capability = "jumpstart"
	CapFuelDelivery    Capability = "fuel_delivery"
)

// Valid reports whether the capability is in the closed enumeration.
func (c Capability) Valid() bool {
	switch c {
	case CapTireRepair, CapTireReplacement, CapEngineRepair, CapTowing, CapJumpstart, CapFuelDelivery:
		return true
	}
	return false
}

// RequiredCapabilities maps an incident's service type to the capabilities
// that qualify a vendor for it.
func RequiredCapabilities(serviceType incidents.ServiceType) []Capability {
	switch serviceType {
	case incidents.ServiceTire:
		return []Capability{CapTireRepair, CapTireReplacement}
	case incidents.ServiceEngine:
		return []Capability{CapEngineRepair}
	case incidents.ServiceTow:
		return []Capability{CapTowing}
	}
	return nil
}

// Availability is the vendor's current duty state
type Availability string

const (
	Available Availability = "available"
	Busy      Availability = "busy"
	Offline   Availability = "offline"
)

// Metrics are the vendor's rolling performance numbers
type Metrics struct {
	AcceptanceRate float64 `json:"acceptance_rate" db:"acceptance_rate"` // [0,1]
	Rating         float64 `json:"rating" db:"rating"`                   // [0,5]
	CompletionRate float64 `json:"completion_rate" db:"completion_rate"` // [0,1]
}

// Pricing is a vendor's rate card for one service type
type Pricing struct {
	BasePrice   float64 `json:"base_price"`
	PerMileRate float64 `json:"per_mile_rate"`
}

// Vendor is a service provider that can receive offers
type Vendor struct {
	ID               uuid.UUID    `json:"id" db:"id"`
	Name             string       `json:"name" db:"name"`
	Capabilities     []Capability `json:"capabilities" db:"capabilities"`
	CoverageLatitude float64      `json:"coverage_latitude" db:"coverage_latitude"`
	CoverageLongitude float64     `json:"coverage_longitude" db:"coverage_longitude"`
	CoverageRadiusMiles float64   `json:"coverage_radius_miles" db:"coverage_radius_miles"`
	Availability     Availability `json:"availability" db:"availability"`
	ActiveIncidentID *uuid.UUID   `json:"active_incident_id,omitempty" db:"active_incident_id"`
	Metrics          Metrics      `json:"metrics"`
	// Rate card keyed by service type; a missing entry means the vendor
	// does not price that service (payout estimate 0).
	Pricing   map[incidents.ServiceType]Pricing `json:"pricing"`
	CreatedAt time.Time                         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time                         `json:"updated_at" db:"updated_at"`
}

// HasCapability reports whether the vendor can perform any of the given
// capabilities.
func (v *Vendor) HasCapability(required []Capability) bool {
	for _, need := range required {
		for _, have := range v.Capabilities {
			if have == need {
				return true
			}
		}
	}
	return false
}

// CanServe reports whether the vendor qualifies for an incident's service
// type at all.
func (v *Vendor) CanServe(serviceType incidents.ServiceType) bool {
	return v.HasCapability(RequiredCapabilities(serviceType))
}

// RegisterVendorRequest is the onboarding payload
type RegisterVendorRequest struct {
	Name                string                            `json:"name" binding:"required"`
	Capabilities        []Capability                      `json:"capabilities" binding:"required,min=1,dive,capability"`
	CoverageLatitude    float64                           `json:"coverage_latitude" binding:"min=-90,max=90"`
	CoverageLongitude   float64                           `json:"coverage_longitude" binding:"min=-180,max=180"`
	CoverageRadiusMiles float64                           `json:"coverage_radius_miles" binding:"required,gt=0"`
	Pricing             map[incidents.ServiceType]Pricing `json:"pricing"`
}

// UpdateAvailabilityRequest flips the vendor's duty state
type UpdateAvailabilityRequest struct {
	Availability Availability `json:"availability" binding:"required,vendoravailability"`
}

// UpdateLocationRequest moves the vendor's coverage center
type UpdateLocationRequest struct {
	Latitude  float64 `json:"latitude" binding:"min=-90,max=90"`
	Longitude float64 `json:"longitude" binding:"min=-180,max=180"`
}
