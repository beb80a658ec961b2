// Package scoring ranks vendors for an incident. Everything here is pure:
// same inputs, same outputs, no I/O.
package scoring

import (
	"math"

	"github.com/roadcall/roadside-dispatch/internal/incidents"
	"github.com/roadcall/roadside-dispatch/internal/vendors"
	"github.com/roadcall/roadside-dispatch/pkg/config"
	"github.com/roadcall/roadside-dispatch/pkg/geo"
)

// Breakdown holds the five factor values, each in [0,1].
type Breakdown struct {
	Distance       float64 `json:"distance"`
	Capability     float64 `json:"capability"`
	Availability   float64 `json:"availability"`
	AcceptanceRate float64 `json:"acceptance_rate"`
	Rating         float64 `json:"rating"`
}

// AsMap returns the breakdown keyed by factor name, as carried on
// OfferCreated events.
func (b Breakdown) AsMap() map[string]float64 {
	return map[string]float64{
		"distance":        b.Distance,
		"capability":      b.Capability,
		"availability":    b.Availability,
		"acceptance_rate": b.AcceptanceRate,
		"rating":          b.Rating,
	}
}

// Result is a scored vendor.
type Result struct {
	Score         float64
	Breakdown     Breakdown
	DistanceMiles float64
}

// Score evaluates a vendor against an incident location and service type
// under the given weights. The score is the exact weighted sum of the
// breakdown, unrounded, so it always lands in [0,1].
func Score(v *vendors.Vendor, serviceType incidents.ServiceType, latitude, longitude float64, cfg config.MatchingConfig) Result {
	miles := geo.HaversineMiles(v.CoverageLatitude, v.CoverageLongitude, latitude, longitude)

	b := Breakdown{
		Distance:       math.Max(0, 1-miles/cfg.MaxRadiusMiles),
		Capability:     boolFactor(v.CanServe(serviceType)),
		Availability:   boolFactor(v.Availability == vendors.Available),
		AcceptanceRate: clamp01(v.Metrics.AcceptanceRate),
		Rating:         clamp01(v.Metrics.Rating / 5),
	}

	w := cfg.Weights
	score := w.Distance*b.Distance +
		w.Capability*b.Capability +
		w.Availability*b.Availability +
		w.AcceptanceRate*b.AcceptanceRate +
		w.Rating*b.Rating

	return Result{Score: score, Breakdown: b, DistanceMiles: miles}
}

// Qualifies reports whether the vendor survives the hard filters: it must
// be available and hold a required capability. Vendors failing either
// would score 0 on that factor and are dropped before ranking.
func Qualifies(v *vendors.Vendor, serviceType incidents.ServiceType) bool {
	return v.Availability == vendors.Available && v.CanServe(serviceType)
}

// Better is the ranking comparator: higher score first, ties broken by
// higher distance factor, then higher acceptance rate, then lexicographic
// vendor ID so ordering is fully deterministic.
func Better(vi, vj *vendors.Vendor, ri, rj Result) bool {
	if ri.Score != rj.Score {
		return ri.Score > rj.Score
	}
	if ri.Breakdown.Distance != rj.Breakdown.Distance {
		return ri.Breakdown.Distance > rj.Breakdown.Distance
	}
	if ri.Breakdown.AcceptanceRate != rj.Breakdown.AcceptanceRate {
		return ri.Breakdown.AcceptanceRate > rj.Breakdown.AcceptanceRate
	}
	return vi.ID.String() < vj.ID.String()
}

// EstimatePayout prices an offer with the vendor's own rate card, rounded
// to whole currency units. Vendors without a rate for the service get 0.
func EstimatePayout(v *vendors.Vendor, serviceType incidents.ServiceType, miles float64) float64 {
	rate, ok := v.Pricing[serviceType]
	if !ok {
		return 0
	}
	return math.Round(rate.BasePrice + miles*rate.PerMileRate)
}

func boolFactor(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
