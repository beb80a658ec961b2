package vendors

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/roadcall/roadside-dispatch/pkg/common"
	"github.com/roadcall/roadside-dispatch/pkg/logger"
	"go.uber.org/zap"
)

// Store is the persistence surface the service needs
type Store interface {
	Create(ctx context.Context, vendor *Vendor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Vendor, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Vendor, error)
	SetAvailability(ctx context.Context, id uuid.UUID, availability Availability) error
	MarkBusy(ctx context.Context, id, incidentID uuid.UUID) error
	Release(ctx context.Context, id, incidentID uuid.UUID) error
	UpdateLocation(ctx context.Context, id uuid.UUID, latitude, longitude float64) error
	RecordOfferOutcome(ctx context.Context, id uuid.UUID, accepted bool) error
}

// Index answers radius queries over vendor coverage centers
type Index interface {
	Upsert(ctx context.Context, vendorID uuid.UUID, latitude, longitude float64) error
	Remove(ctx context.Context, vendorID uuid.UUID) error
	IDsWithinRadius(ctx context.Context, latitude, longitude, radiusMiles float64, limit int) ([]uuid.UUID, error)
}

// Maximum candidates pulled from the geo index per query; the matcher
// trims further after scoring.
const radiusQueryLimit = 50

// Service is the vendor directory: profiles plus the geo query the
// matcher depends on.
type Service struct {
	store Store
	index Index
}

// NewService creates a new vendors service
func NewService(store Store, index Index) *Service {
	return &Service{store: store, index: index}
}

// Register onboards a vendor and indexes its coverage center.
func (s *Service) Register(ctx context.Context, req *RegisterVendorRequest) (*Vendor, error) {
	for _, c := range req.Capabilities {
		if !c.Valid() {
			return nil, common.NewValidationError(fmt.Sprintf("unknown capability %q", c))
		}
	}

	vendor := &Vendor{
		ID:                  uuid.New(),
		Name:                req.Name,
		Capabilities:        req.Capabilities,
		CoverageLatitude:    req.CoverageLatitude,
		CoverageLongitude:   req.CoverageLongitude,
		CoverageRadiusMiles: req.CoverageRadiusMiles,
		Availability:        Offline,
		Pricing:             req.Pricing,
		Metrics: Metrics{
			// New vendors start neutral so they are not buried by
			// established ones.
			AcceptanceRate: 0.5,
			Rating:         3.0,
			CompletionRate: 0.5,
		},
	}

	if err := s.store.Create(ctx, vendor); err != nil {
		return nil, err
	}

	if err := s.index.Upsert(ctx, vendor.ID, vendor.CoverageLatitude, vendor.CoverageLongitude); err != nil {
		// Profile exists but is invisible to matching until re-indexed.
		logger.Error("failed to index new vendor",
			zap.String("vendor_id", vendor.ID.String()),
			zap.Error(err))
	}

	logger.InfoContext(ctx, "vendor registered",
		zap.String("vendor_id", vendor.ID.String()),
		zap.String("name", vendor.Name))

	return vendor, nil
}

// Get returns a vendor by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Vendor, error) {
	return s.store.GetByID(ctx, id)
}

// FindWithinRadius returns vendors whose coverage center lies within
// radiusMiles of the point. The boundary is inclusive. Order is not
// meaningful; the matcher ranks by score.
func (s *Service) FindWithinRadius(ctx context.Context, latitude, longitude, radiusMiles float64) ([]*Vendor, error) {
	ids, err := s.index.IDsWithinRadius(ctx, latitude, longitude, radiusMiles, radiusQueryLimit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.store.GetByIDs(ctx, ids)
}

// SetAvailability flips the vendor's duty state.
func (s *Service) SetAvailability(ctx context.Context, id uuid.UUID, availability Availability) error {
	switch availability {
	case Available, Busy, Offline:
	default:
		return common.NewValidationError(fmt.Sprintf("unknown availability %q", availability))
	}
	return s.store.SetAvailability(ctx, id, availability)
}

// MarkBusy assigns the vendor an active incident. Fails with Conflict if
// the vendor is not available.
func (s *Service) MarkBusy(ctx context.Context, id, incidentID uuid.UUID) error {
	return s.store.MarkBusy(ctx, id, incidentID)
}

// Release clears the vendor's active incident after completion or timeout.
func (s *Service) Release(ctx context.Context, id, incidentID uuid.UUID) error {
	return s.store.Release(ctx, id, incidentID)
}

// UpdateLocation moves the vendor's coverage center and re-indexes it.
func (s *Service) UpdateLocation(ctx context.Context, id uuid.UUID, req *UpdateLocationRequest) error {
	if err := s.store.UpdateLocation(ctx, id, req.Latitude, req.Longitude); err != nil {
		return err
	}
	return s.index.Upsert(ctx, id, req.Latitude, req.Longitude)
}

// RecordOfferOutcome folds an accept/decline into the vendor's rolling
// acceptance rate.
func (s *Service) RecordOfferOutcome(ctx context.Context, id uuid.UUID, accepted bool) error {
	return s.store.RecordOfferOutcome(ctx, id, accepted)
}
