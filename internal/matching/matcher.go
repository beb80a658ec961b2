package matching

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/roadcall/roadside-dispatch/internal/incidents"
	"github.com/roadcall/roadside-dispatch/internal/scoring"
	"github.com/roadcall/roadside-dispatch/internal/vendors"
	"github.com/roadcall/roadside-dispatch/pkg/config"
	"github.com/roadcall/roadside-dispatch/pkg/logger"
	"go.uber.org/zap"
)

// Directory is the vendor lookup surface the matcher needs
type Directory interface {
	FindWithinRadius(ctx context.Context, latitude, longitude, radiusMiles float64) ([]*vendors.Vendor, error)
}

// DemandRecorder tracks where matching demand originates, feeding the
// per-zone coverage-gap counters. A nil recorder disables tracking.
type DemandRecorder interface {
	RecordDemand(ctx context.Context, latitude, longitude float64)
}

// Candidate is a ranked vendor for one matching attempt
type Candidate struct {
	Vendor          *vendors.Vendor
	Score           float64
	Breakdown       scoring.Breakdown
	DistanceMiles   float64
	EstimatedPayout float64
}

// Matcher runs a single matching attempt: query, filter, score, rank.
type Matcher struct {
	directory Directory
	demand    DemandRecorder
}

// NewMatcher creates a new matcher over the given vendor directory.
func NewMatcher(directory Directory, demand DemandRecorder) *Matcher {
	return &Matcher{directory: directory, demand: demand}
}

// MatchOnce returns the top candidates for the incident within radiusMiles,
// best first, capped at cfg.MaxConcurrentOffers. Vendors in exclude (for
// example ones that already timed out on this incident) are skipped.
// Ordering is deterministic: score, then distance factor, then acceptance
// rate, then vendor ID.
func (m *Matcher) MatchOnce(ctx context.Context, incident *incidents.Incident, radiusMiles float64, exclude []uuid.UUID, cfg config.MatchingConfig) ([]Candidate, error) {
	if m.demand != nil {
		m.demand.RecordDemand(ctx, incident.Latitude, incident.Longitude)
	}

	found, err := m.directory.FindWithinRadius(ctx, incident.Latitude, incident.Longitude, radiusMiles)
	if err != nil {
		return nil, fmt.Errorf("vendor radius query failed: %w", err)
	}

	excluded := make(map[uuid.UUID]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	var candidates []Candidate
	for _, v := range found {
		if _, skip := excluded[v.ID]; skip {
			continue
		}
		if !scoring.Qualifies(v, incident.ServiceType) {
			continue
		}

		result := scoring.Score(v, incident.ServiceType, incident.Latitude, incident.Longitude, cfg)
		candidates = append(candidates, Candidate{
			Vendor:          v,
			Score:           result.Score,
			Breakdown:       result.Breakdown,
			DistanceMiles:   result.DistanceMiles,
			EstimatedPayout: scoring.EstimatePayout(v, incident.ServiceType, result.DistanceMiles),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		return scoring.Better(ci.Vendor, cj.Vendor,
			scoring.Result{Score: ci.Score, Breakdown: ci.Breakdown},
			scoring.Result{Score: cj.Score, Breakdown: cj.Breakdown})
	})

	if len(candidates) > cfg.MaxConcurrentOffers {
		candidates = candidates[:cfg.MaxConcurrentOffers]
	}

	logger.DebugContext(ctx, "matching attempt completed",
		zap.String("incident_id", incident.ID.String()),
		zap.Float64("radius_miles", radiusMiles),
		zap.Int("queried", len(found)),
		zap.Int("ranked", len(candidates)))

	return candidates, nil
}
