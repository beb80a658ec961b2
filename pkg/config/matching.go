package config

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

const weightSumTolerance = 1e-3

// ScoringWeights holds the five matching factor weights. They must sum to 1.
type ScoringWeights struct {
	Distance       float64 `json:"distance"`
	Capability     float64 `json:"capability"`
	Availability   float64 `json:"availability"`
	AcceptanceRate float64 `json:"acceptance_rate"`
	Rating         float64 `json:"rating"`
}

// Sum returns the total of all five weights.
func (w ScoringWeights) Sum() float64 {
	return w.Distance + w.Capability + w.Availability + w.AcceptanceRate + w.Rating
}

// MatchingConfig tunes vendor matching and dispatch behaviour. A snapshot is
// taken at the start of every attempt, so live changes only affect
// subsequent attempts.
type MatchingConfig struct {
	Version int64          `json:"version"`
	Weights ScoringWeights `json:"weights"`

	DefaultRadiusMiles    float64 `json:"default_radius_miles"`
	MaxRadiusMiles        float64 `json:"max_radius_miles"`
	RadiusExpansionFactor float64 `json:"radius_expansion_factor"`
	MaxExpansionAttempts  int     `json:"max_expansion_attempts"`

	OfferTimeoutSeconds        int `json:"offer_timeout_seconds"`
	MaxConcurrentOffers        int `json:"max_concurrent_offers"`
	ArrivalDeadlineMinutes     int `json:"arrival_deadline_minutes"`
	ArrivalPollIntervalMinutes int `json:"arrival_poll_interval_minutes"`

	// TierMultipliers are parsed for forward compatibility but not yet
	// applied to timeouts or radii.
	TierMultipliers map[string]float64 `json:"tier_multipliers,omitempty"`
}

// DefaultMatchingConfig returns the production defaults.
func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{
		Version: 1,
		Weights: ScoringWeights{
			Distance:       0.30,
			Capability:     0.25,
			Availability:   0.20,
			AcceptanceRate: 0.15,
			Rating:         0.10,
		},
		DefaultRadiusMiles:         50,
		MaxRadiusMiles:             200,
		RadiusExpansionFactor:      0.25,
		MaxExpansionAttempts:       3,
		OfferTimeoutSeconds:        120,
		MaxConcurrentOffers:        3,
		ArrivalDeadlineMinutes:     30,
		ArrivalPollIntervalMinutes: 5,
	}
}

// MatchingFromEnv builds a MatchingConfig from environment variables,
// falling back to defaults for anything unset.
func MatchingFromEnv() MatchingConfig {
	cfg := DefaultMatchingConfig()
	cfg.Weights.Distance = getEnvAsFloat("MATCH_WEIGHT_DISTANCE", cfg.Weights.Distance)
	cfg.Weights.Capability = getEnvAsFloat("MATCH_WEIGHT_CAPABILITY", cfg.Weights.Capability)
	cfg.Weights.Availability = getEnvAsFloat("MATCH_WEIGHT_AVAILABILITY", cfg.Weights.Availability)
	cfg.Weights.AcceptanceRate = getEnvAsFloat("MATCH_WEIGHT_ACCEPTANCE", cfg.Weights.AcceptanceRate)
	cfg.Weights.Rating = getEnvAsFloat("MATCH_WEIGHT_RATING", cfg.Weights.Rating)
	cfg.DefaultRadiusMiles = getEnvAsFloat("MATCH_DEFAULT_RADIUS_MILES", cfg.DefaultRadiusMiles)
	cfg.MaxRadiusMiles = getEnvAsFloat("MATCH_MAX_RADIUS_MILES", cfg.MaxRadiusMiles)
	cfg.RadiusExpansionFactor = getEnvAsFloat("MATCH_RADIUS_EXPANSION_FACTOR", cfg.RadiusExpansionFactor)
	cfg.MaxExpansionAttempts = getEnvAsInt("MATCH_MAX_EXPANSION_ATTEMPTS", cfg.MaxExpansionAttempts)
	cfg.OfferTimeoutSeconds = getEnvAsInt("MATCH_OFFER_TIMEOUT_SECONDS", cfg.OfferTimeoutSeconds)
	cfg.MaxConcurrentOffers = getEnvAsInt("MATCH_MAX_CONCURRENT_OFFERS", cfg.MaxConcurrentOffers)
	cfg.ArrivalDeadlineMinutes = getEnvAsInt("MATCH_ARRIVAL_DEADLINE_MINUTES", cfg.ArrivalDeadlineMinutes)
	cfg.ArrivalPollIntervalMinutes = getEnvAsInt("MATCH_ARRIVAL_POLL_INTERVAL_MINUTES", cfg.ArrivalPollIntervalMinutes)
	return cfg
}

// Validate enforces the matching config invariants.
func (c MatchingConfig) Validate() error {
	if diff := math.Abs(c.Weights.Sum() - 1.0); diff > weightSumTolerance {
		return fmt.Errorf("scoring weights must sum to 1.0 (got %.4f)", c.Weights.Sum())
	}
	if c.DefaultRadiusMiles <= 0 {
		return fmt.Errorf("default radius must be positive")
	}
	if c.MaxRadiusMiles < c.DefaultRadiusMiles {
		return fmt.Errorf("max radius %.1f must be >= default radius %.1f", c.MaxRadiusMiles, c.DefaultRadiusMiles)
	}
	if c.RadiusExpansionFactor <= 0 {
		return fmt.Errorf("radius expansion factor must be positive")
	}
	if c.MaxExpansionAttempts <= 0 {
		return fmt.Errorf("max expansion attempts must be positive")
	}
	if c.OfferTimeoutSeconds <= 0 {
		return fmt.Errorf("offer timeout must be positive")
	}
	if c.MaxConcurrentOffers <= 0 {
		return fmt.Errorf("max concurrent offers must be positive")
	}
	return nil
}

// OfferTimeout returns the per-offer timeout as a duration.
func (c MatchingConfig) OfferTimeout() time.Duration {
	return time.Duration(c.OfferTimeoutSeconds) * time.Second
}

// ArrivalDeadline returns the hard arrival deadline as a duration.
func (c MatchingConfig) ArrivalDeadline() time.Duration {
	return time.Duration(c.ArrivalDeadlineMinutes) * time.Minute
}

// ArrivalPollInterval returns the arrival-monitoring poll cadence.
func (c MatchingConfig) ArrivalPollInterval() time.Duration {
	return time.Duration(c.ArrivalPollIntervalMinutes) * time.Minute
}

// MatchingProvider hands out versioned snapshots of the matching config.
// Reads are lock-free; Update swaps the whole snapshot atomically so an
// in-progress attempt never observes a half-applied change.
type MatchingProvider struct {
	current atomic.Pointer[MatchingConfig]
}

// NewMatchingProvider creates a provider seeded with the given config.
func NewMatchingProvider(cfg MatchingConfig) (*MatchingProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &MatchingProvider{}
	p.current.Store(&cfg)
	return p, nil
}

// Matching returns the currently effective snapshot.
func (p *MatchingProvider) Matching() MatchingConfig {
	return *p.current.Load()
}

// Update validates and installs a new snapshot, bumping the version.
func (p *MatchingProvider) Update(cfg MatchingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.Version = p.current.Load().Version + 1
	p.current.Store(&cfg)
	return nil
}
