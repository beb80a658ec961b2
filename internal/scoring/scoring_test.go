package scoring

import (
	"fmt"
	"math"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/roadcall/roadside-dispatch/internal/incidents"
	"github.com/roadcall/roadside-dispatch/internal/vendors"
	"github.com/roadcall/roadside-dispatch/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	incidentLat = 40.7128
	incidentLon = -74.0060
)

func testVendor(lat, lon float64) *vendors.Vendor {
	return &vendors.Vendor{
		ID:                uuid.New(),
		Name:              "Test Towing",
		Capabilities:      []vendors.Capability{vendors.CapTireRepair, vendors.CapTowing},
		CoverageLatitude:  lat,
		CoverageLongitude: lon,
		Availability:      vendors.Available,
		Metrics: vendors.Metrics{
			AcceptanceRate: 0.8,
			Rating:         4.5,
			CompletionRate: 0.9,
		},
		Pricing: map[incidents.ServiceType]vendors.Pricing{
			incidents.ServiceTire: {BasePrice: 75, PerMileRate: 2.5},
		},
	}
}

func TestScore_WithinBounds(t *testing.T) {
	cfg := config.DefaultMatchingConfig()
	v := testVendor(40.73, -73.99)

	result := Score(v, incidents.ServiceTire, incidentLat, incidentLon, cfg)

	assert.GreaterOrEqual(t, result.Score, 0.0)
	assert.LessOrEqual(t, result.Score, 1.0)
	for name, factor := range result.Breakdown.AsMap() {
		assert.GreaterOrEqualf(t, factor, 0.0, "factor %s below 0", name)
		assert.LessOrEqualf(t, factor, 1.0, "factor %s above 1", name)
	}
}

func TestScore_EqualsWeightedSum(t *testing.T) {
	cfg := config.DefaultMatchingConfig()
	v := testVendor(40.9, -74.2)

	result := Score(v, incidents.ServiceTire, incidentLat, incidentLon, cfg)

	b := result.Breakdown
	w := cfg.Weights
	expected := w.Distance*b.Distance + w.Capability*b.Capability +
		w.Availability*b.Availability + w.AcceptanceRate*b.AcceptanceRate + w.Rating*b.Rating

	assert.InDelta(t, expected, result.Score, 1e-9)
}

func TestScore_Deterministic(t *testing.T) {
	cfg := config.DefaultMatchingConfig()
	v := testVendor(40.8, -74.1)

	first := Score(v, incidents.ServiceTire, incidentLat, incidentLon, cfg)
	second := Score(v, incidents.ServiceTire, incidentLat, incidentLon, cfg)

	assert.Equal(t, first, second)
}

func TestScore_DistanceFactor(t *testing.T) {
	cfg := config.DefaultMatchingConfig()

	atIncident := testVendor(incidentLat, incidentLon)
	result := Score(atIncident, incidents.ServiceTire, incidentLat, incidentLon, cfg)
	assert.InDelta(t, 1.0, result.Breakdown.Distance, 1e-9)
	assert.InDelta(t, 0.0, result.DistanceMiles, 1e-9)

	// Far beyond max radius the factor floors at zero instead of going
	// negative. Denver is ~1600 mi from the incident.
	farAway := testVendor(39.7392, -104.9903)
	result = Score(farAway, incidents.ServiceTire, incidentLat, incidentLon, cfg)
	assert.Equal(t, 0.0, result.Breakdown.Distance)
	assert.Greater(t, result.DistanceMiles, cfg.MaxRadiusMiles)
}

func TestScore_CapabilityMismatchIsZero(t *testing.T) {
	cfg := config.DefaultMatchingConfig()
	v := testVendor(40.73, -73.99)
	v.Capabilities = []vendors.Capability{vendors.CapFuelDelivery}

	result := Score(v, incidents.ServiceTire, incidentLat, incidentLon, cfg)

	assert.Equal(t, 0.0, result.Breakdown.Capability)
	assert.False(t, Qualifies(v, incidents.ServiceTire))
}

func TestScore_UnavailableVendorFiltered(t *testing.T) {
	v := testVendor(40.73, -73.99)
	v.Availability = vendors.Busy

	assert.False(t, Qualifies(v, incidents.ServiceTire))

	v.Availability = vendors.Offline
	assert.False(t, Qualifies(v, incidents.ServiceTire))

	v.Availability = vendors.Available
	assert.True(t, Qualifies(v, incidents.ServiceTire))
}

func TestScore_MetricsClamped(t *testing.T) {
	cfg := config.DefaultMatchingConfig()
	v := testVendor(40.73, -73.99)
	v.Metrics.AcceptanceRate = 1.7
	v.Metrics.Rating = 9.0

	result := Score(v, incidents.ServiceTire, incidentLat, incidentLon, cfg)

	assert.Equal(t, 1.0, result.Breakdown.AcceptanceRate)
	assert.Equal(t, 1.0, result.Breakdown.Rating)
}

func TestScore_ServiceTypeCapabilityMapping(t *testing.T) {
	cases := []struct {
		serviceType incidents.ServiceType
		capability  vendors.Capability
	}{
		{incidents.ServiceTire, vendors.CapTireRepair},
		{incidents.ServiceTire, vendors.CapTireReplacement},
		{incidents.ServiceEngine, vendors.CapEngineRepair},
		{incidents.ServiceTow, vendors.CapTowing},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%s", tc.serviceType, tc.capability), func(t *testing.T) {
			v := testVendor(40.73, -73.99)
			v.Capabilities = []vendors.Capability{tc.capability}
			assert.True(t, Qualifies(v, tc.serviceType))
		})
	}

	// Jumpstart qualifies for nothing in the current mapping.
	v := testVendor(40.73, -73.99)
	v.Capabilities = []vendors.Capability{vendors.CapJumpstart}
	assert.False(t, Qualifies(v, incidents.ServiceTire))
	assert.False(t, Qualifies(v, incidents.ServiceEngine))
	assert.False(t, Qualifies(v, incidents.ServiceTow))
}

func TestBetter_TieBreaks(t *testing.T) {
	v1 := testVendor(40.73, -73.99)
	v2 := testVendor(40.73, -73.99)

	equal := Result{Score: 0.8, Breakdown: Breakdown{Distance: 0.9, AcceptanceRate: 0.7}}

	// Score decides first.
	higher := equal
	higher.Score = 0.81
	assert.True(t, Better(v1, v2, higher, equal))
	assert.False(t, Better(v1, v2, equal, higher))

	// Then distance factor.
	closer := equal
	closer.Breakdown.Distance = 0.95
	assert.True(t, Better(v1, v2, closer, equal))

	// Then acceptance rate.
	keener := equal
	keener.Breakdown.AcceptanceRate = 0.75
	assert.True(t, Better(v1, v2, keener, equal))

	// Finally vendor ID, lexicographically.
	expectFirst := v1.ID.String() < v2.ID.String()
	assert.Equal(t, expectFirst, Better(v1, v2, equal, equal))
	assert.Equal(t, !expectFirst, Better(v2, v1, equal, equal))
}

func TestBetter_SortIsDeterministic(t *testing.T) {
	// Identical vendors differing only by ID must sort the same way every
	// time regardless of input order.
	vs := make([]*vendors.Vendor, 5)
	rs := make([]Result, 5)
	for i := range vs {
		vs[i] = testVendor(40.73, -73.99)
		rs[i] = Result{Score: 0.5, Breakdown: Breakdown{Distance: 0.5, AcceptanceRate: 0.5}}
	}

	order := func(perm []int) []uuid.UUID {
		idx := append([]int(nil), perm...)
		sort.Slice(idx, func(a, b int) bool {
			return Better(vs[idx[a]], vs[idx[b]], rs[idx[a]], rs[idx[b]])
		})
		out := make([]uuid.UUID, len(idx))
		for i, j := range idx {
			out[i] = vs[j].ID
		}
		return out
	}

	first := order([]int{0, 1, 2, 3, 4})
	second := order([]int{4, 2, 0, 3, 1})
	assert.Equal(t, first, second)
}

func TestEstimatePayout(t *testing.T) {
	v := testVendor(40.73, -73.99)

	payout := EstimatePayout(v, incidents.ServiceTire, 10)
	assert.Equal(t, math.Round(75+10*2.5), payout)

	// Unpriced service.
	assert.Equal(t, 0.0, EstimatePayout(v, incidents.ServiceTow, 10))
}

func TestEstimatePayout_Rounds(t *testing.T) {
	v := testVendor(40.73, -73.99)
	v.Pricing[incidents.ServiceTire] = vendors.Pricing{BasePrice: 50, PerMileRate: 1.0}

	payout := EstimatePayout(v, incidents.ServiceTire, 3.4)
	require.Equal(t, 53.0, payout)

	payout = EstimatePayout(v, incidents.ServiceTire, 3.6)
	require.Equal(t, 54.0, payout)
}
