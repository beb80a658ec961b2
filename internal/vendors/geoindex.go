package vendors

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/roadcall/roadside-dispatch/pkg/logger"
	redisClient "github.com/roadcall/roadside-dispatch/pkg/redis"
	"github.com/roadcall/roadside-dispatch/pkg/resilience"
	"github.com/uber/h3-go/v4"
	"go.uber.org/zap"
)

const (
	// Redis sorted set holding vendor coverage centers
	geoKey = "vendors:coverage"

	// H3 resolution for demand-zone counters (~5 km hexagons)
	zoneResolution = 7

	zoneCounterTTL = 24 * time.Hour
)

// GeoIndex answers "vendors within R miles of P" against a Redis GEO set.
// Postgres stays the source of truth for profiles; the index holds only
// coverage centers.
type GeoIndex struct {
	redis   redisClient.ClientInterface
	breaker *resilience.CircuitBreaker
}

// NewGeoIndex creates a geo index backed by the given Redis client. Radius
// queries go through a circuit breaker so a degraded Redis fails matching
// attempts fast instead of stalling every run on retries.
func NewGeoIndex(redis redisClient.ClientInterface) *GeoIndex {
	return &GeoIndex{
		redis: redis,
		breaker: resilience.NewCircuitBreaker(resilience.Settings{
			Name:    "vendor-geo-index",
			Timeout: 10 * time.Second,
		}),
	}
}

// Upsert adds or moves a vendor's coverage center in the index.
func (g *GeoIndex) Upsert(ctx context.Context, vendorID uuid.UUID, latitude, longitude float64) error {
	if err := g.redis.GeoAdd(ctx, geoKey, longitude, latitude, vendorID.String()); err != nil {
		return fmt.Errorf("failed to index vendor location: %w", err)
	}
	return nil
}

// Remove drops a vendor from the index, e.g. on offboarding.
func (g *GeoIndex) Remove(ctx context.Context, vendorID uuid.UUID) error {
	return g.redis.GeoRemove(ctx, geoKey, vendorID.String())
}

// IDsWithinRadius returns the IDs of vendors whose coverage center lies
// within radiusMiles of the point, nearest first. A vendor exactly on the
// boundary is included.
func (g *GeoIndex) IDsWithinRadius(ctx context.Context, latitude, longitude, radiusMiles float64, limit int) ([]uuid.UUID, error) {
	result, err := g.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return g.redis.GeoRadiusMiles(ctx, geoKey, longitude, latitude, radiusMiles, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("geo radius query failed: %w", err)
	}
	members := result.([]string)

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			logger.Warn("skipping malformed member in geo index", zap.String("member", m))
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// RecordDemand bumps a per-zone counter for the incident location. The
// counters feed coverage-gap reporting; failures only log.
func (g *GeoIndex) RecordDemand(ctx context.Context, latitude, longitude float64) {
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: latitude, Lng: longitude}, zoneResolution)
	if err != nil {
		logger.Warn("failed to compute demand zone", zap.Error(err))
		return
	}

	key := fmt.Sprintf("demand:zone:%s", cell.String())
	count, err := g.redis.GetString(ctx, key)
	if err != nil || count == "" {
		count = "0"
	}
	var n int
	fmt.Sscanf(count, "%d", &n)
	if err := g.redis.SetWithExpiration(ctx, key, fmt.Sprintf("%d", n+1), zoneCounterTTL); err != nil {
		logger.Warn("failed to record demand", zap.String("zone", cell.String()), zap.Error(err))
	}
}
