package offers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/roadcall/roadside-dispatch/internal/incidents"
	"github.com/roadcall/roadside-dispatch/internal/matching"
	"github.com/roadcall/roadside-dispatch/pkg/clock"
	"github.com/roadcall/roadside-dispatch/pkg/common"
	"github.com/roadcall/roadside-dispatch/pkg/eventbus"
	"github.com/roadcall/roadside-dispatch/pkg/geo"
	"github.com/roadcall/roadside-dispatch/pkg/logger"
	"github.com/roadcall/roadside-dispatch/pkg/websocket"
	"go.uber.org/zap"
)

// Store is the persistence surface the service needs
type Store interface {
	Create(ctx context.Context, offer *Offer) error
	GetByID(ctx context.Context, id uuid.UUID) (*Offer, error)
	Terminate(ctx context.Context, id uuid.UUID, newStatus Status, reason *string) (*Offer, error)
	ListPendingForIncident(ctx context.Context, incidentID uuid.UUID) ([]*Offer, error)
	ListForIncident(ctx context.Context, incidentID uuid.UUID) ([]*Offer, error)
	ExpireDue(ctx context.Context, now time.Time) ([]*Offer, error)
}

// IncidentAssigner is the incident-store slice the acceptance path needs.
// ConditionalAssign is the linearization point: under racing acceptances
// exactly one caller gets true.
type IncidentAssigner interface {
	GetByID(ctx context.Context, id uuid.UUID) (*incidents.Incident, error)
	ConditionalAssign(ctx context.Context, incidentID, vendorID uuid.UUID) (bool, error)
}

// VendorRegistry is the vendor-directory slice the offer paths touch
type VendorRegistry interface {
	MarkBusy(ctx context.Context, id, incidentID uuid.UUID) error
	RecordOfferOutcome(ctx context.Context, id uuid.UUID, accepted bool) error
}

// Service owns the offer lifecycle: fan-out, acceptance under race,
// decline, and cancellation.
type Service struct {
	store     Store
	incidents IncidentAssigner
	vendors   VendorRegistry
	bus       eventbus.Publisher
	hub       *websocket.Hub // nil disables vendor pushes
	clock     clock.Clock
}

// NewService creates a new offers service.
func NewService(store Store, incidentStore IncidentAssigner, vendorRegistry VendorRegistry, bus eventbus.Publisher, hub *websocket.Hub, clk clock.Clock) *Service {
	return &Service{
		store:     store,
		incidents: incidentStore,
		vendors:   vendorRegistry,
		bus:       bus,
		hub:       hub,
		clock:     clk,
	}
}

// CreateBatch fans out one pending offer per candidate, best ranked first.
// All offers in the batch share a single expiry computed here, so the
// dispatch engine can wait on one deadline.
func (s *Service) CreateBatch(ctx context.Context, incident *incidents.Incident, candidates []matching.Candidate, attempt int, timeout time.Duration) ([]*Offer, error) {
	expiresAt := s.clock.Now().Add(timeout)

	created := make([]*Offer, 0, len(candidates))
	for _, c := range candidates {
		offer := &Offer{
			ID:                      uuid.New(),
			IncidentID:              incident.ID,
			VendorID:                c.Vendor.ID,
			Status:                  StatusPending,
			MatchScore:              c.Score,
			ScoreBreakdown:          c.Breakdown.AsMap(),
			EstimatedPayout:         c.EstimatedPayout,
			EstimatedArrivalMinutes: geo.EstimateMinutes(c.DistanceMiles),
			ExpiresAt:               expiresAt,
			Attempt:                 attempt,
		}

		if err := s.store.Create(ctx, offer); err != nil {
			return created, fmt.Errorf("failed to create offer for vendor %s: %w", c.Vendor.ID, err)
		}
		created = append(created, offer)

		if err := s.publishCreated(ctx, offer); err != nil {
			return created, err
		}
		s.pushToVendor(offer.VendorID, "offer.created", offer)
	}

	logger.InfoContext(ctx, "offer batch created",
		zap.String("incident_id", incident.ID.String()),
		zap.Int("attempt", attempt),
		zap.Int("offers", len(created)),
		zap.Time("expires_at", expiresAt))

	return created, nil
}

// Get returns an offer by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Offer, error) {
	return s.store.GetByID(ctx, id)
}

// ListForIncident returns the full offer history for an incident across
// all attempts.
func (s *Service) ListForIncident(ctx context.Context, incidentID uuid.UUID) ([]*Offer, error) {
	return s.store.ListForIncident(ctx, incidentID)
}

// Accept processes a vendor's acceptance. At most one acceptance per
// incident can ever succeed; losers get Conflict and their offer stays
// pending until superseded or expired.
func (s *Service) Accept(ctx context.Context, offerID, vendorID uuid.UUID) (*AcceptResponse, error) {
	offer, err := s.store.GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}

	if offer.VendorID != vendorID {
		return nil, common.NewValidationError("offer belongs to a different vendor")
	}
	if offer.Status.IsTerminal() {
		return nil, common.NewConflictError(fmt.Sprintf("offer is already %s", offer.Status))
	}
	if offer.Expired(s.clock.Now()) {
		return nil, common.NewExpiredError("offer has expired")
	}

	// Linearization point: only one acceptance per incident passes this.
	assigned, err := s.incidents.ConditionalAssign(ctx, offer.IncidentID, vendorID)
	if err != nil {
		return nil, err
	}
	if !assigned {
		return nil, common.NewConflictError("incident is already assigned")
	}

	accepted, err := s.store.Terminate(ctx, offerID, StatusAccepted, nil)
	if err != nil {
		// The incident is assigned but the offer row lost a race with the
		// sweeper. The assignment stands; surface the store error.
		logger.ErrorContext(ctx, "offer terminate failed after assignment",
			zap.String("offer_id", offerID.String()),
			zap.Error(err))
		return nil, err
	}

	if err := s.vendors.MarkBusy(ctx, vendorID, offer.IncidentID); err != nil {
		logger.WarnContext(ctx, "failed to mark vendor busy",
			zap.String("vendor_id", vendorID.String()),
			zap.Error(err))
	}
	if err := s.vendors.RecordOfferOutcome(ctx, vendorID, true); err != nil {
		logger.WarnContext(ctx, "failed to record offer outcome", zap.Error(err))
	}

	s.publishAccepted(ctx, accepted)
	s.publishAssigned(ctx, accepted)
	s.cancelSiblings(ctx, accepted)

	logger.InfoContext(ctx, "offer accepted",
		zap.String("offer_id", offerID.String()),
		zap.String("incident_id", accepted.IncidentID.String()),
		zap.String("vendor_id", vendorID.String()))

	return &AcceptResponse{Offer: accepted, IncidentID: accepted.IncidentID}, nil
}

// Decline records a vendor's refusal. Declines never expand the radius by
// themselves; the dispatch engine waits for the whole batch to terminate.
func (s *Service) Decline(ctx context.Context, offerID uuid.UUID, req *DeclineRequest) error {
	offer, err := s.store.GetByID(ctx, offerID)
	if err != nil {
		return err
	}
	if offer.VendorID != req.VendorID {
		return common.NewValidationError("offer belongs to a different vendor")
	}
	if offer.Status.IsTerminal() {
		return common.NewConflictError(fmt.Sprintf("offer is already %s", offer.Status))
	}

	var reason *string
	if req.Reason != "" {
		reason = &req.Reason
	}

	declined, err := s.store.Terminate(ctx, offerID, StatusDeclined, reason)
	if err != nil {
		return err
	}

	if err := s.vendors.RecordOfferOutcome(ctx, req.VendorID, false); err != nil {
		logger.WarnContext(ctx, "failed to record offer outcome", zap.Error(err))
	}

	event, err := eventbus.NewEvent(eventbus.SubjectOfferDeclined, "offers", eventbus.OfferDeclinedData{
		OfferID:    declined.ID,
		IncidentID: declined.IncidentID,
		VendorID:   declined.VendorID,
		Reason:     req.Reason,
		DeclinedAt: s.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to build offer declined event: %w", err)
	}
	return s.bus.Publish(ctx, eventbus.SubjectOfferDeclined, event)
}

// CancelPendingForIncident withdraws every pending offer for the incident,
// used on incident cancellation.
func (s *Service) CancelPendingForIncident(ctx context.Context, incidentID uuid.UUID, reason string) error {
	pending, err := s.store.ListPendingForIncident(ctx, incidentID)
	if err != nil {
		return err
	}

	for _, offer := range pending {
		s.cancelOne(ctx, offer, reason)
	}
	return nil
}

func (s *Service) cancelSiblings(ctx context.Context, winner *Offer) {
	pending, err := s.store.ListPendingForIncident(ctx, winner.IncidentID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list sibling offers",
			zap.String("incident_id", winner.IncidentID.String()),
			zap.Error(err))
		return
	}

	for _, sibling := range pending {
		if sibling.ID == winner.ID {
			continue
		}
		s.cancelOne(ctx, sibling, ReasonSuperseded)
	}
}

func (s *Service) cancelOne(ctx context.Context, offer *Offer, reason string) {
	cancelled, err := s.store.Terminate(ctx, offer.ID, StatusCancelled, &reason)
	if err != nil {
		// Already terminal (raced with the sweeper or a decline); nothing
		// left to withdraw.
		logger.DebugContext(ctx, "offer not cancellable",
			zap.String("offer_id", offer.ID.String()),
			zap.Error(err))
		return
	}

	event, err := eventbus.NewEvent(eventbus.SubjectOfferCancelled, "offers", eventbus.OfferCancelledData{
		OfferID:     cancelled.ID,
		IncidentID:  cancelled.IncidentID,
		VendorID:    cancelled.VendorID,
		Reason:      reason,
		CancelledAt: s.clock.Now(),
	})
	if err == nil {
		if err := s.bus.Publish(ctx, eventbus.SubjectOfferCancelled, event); err != nil {
			logger.WarnContext(ctx, "failed to publish offer cancelled", zap.Error(err))
		}
	}

	s.pushToVendor(cancelled.VendorID, "offer.cancelled", cancelled)
}

func (s *Service) publishCreated(ctx context.Context, offer *Offer) error {
	event, err := eventbus.NewEvent(eventbus.SubjectOfferCreated, "offers", eventbus.OfferCreatedData{
		OfferID:                 offer.ID,
		IncidentID:              offer.IncidentID,
		VendorID:                offer.VendorID,
		Attempt:                 offer.Attempt,
		MatchScore:              offer.MatchScore,
		ScoreBreakdown:          offer.ScoreBreakdown,
		EstimatedPayout:         offer.EstimatedPayout,
		EstimatedArrivalMinutes: offer.EstimatedArrivalMinutes,
		ExpiresAt:               offer.ExpiresAt,
		CreatedAt:               offer.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to build offer created event: %w", err)
	}
	if err := s.bus.Publish(ctx, eventbus.SubjectOfferCreated, event); err != nil {
		return fmt.Errorf("failed to publish offer created: %w", err)
	}
	return nil
}

func (s *Service) publishAccepted(ctx context.Context, offer *Offer) {
	event, err := eventbus.NewEvent(eventbus.SubjectOfferAccepted, "offers", eventbus.OfferAcceptedData{
		OfferID:    offer.ID,
		IncidentID: offer.IncidentID,
		VendorID:   offer.VendorID,
		AcceptedAt: s.clock.Now(),
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to build offer accepted event", zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, eventbus.SubjectOfferAccepted, event); err != nil {
		logger.ErrorContext(ctx, "failed to publish offer accepted", zap.Error(err))
	}
}

func (s *Service) publishAssigned(ctx context.Context, offer *Offer) {
	event, err := eventbus.NewEvent(eventbus.SubjectIncidentAssigned, "offers", eventbus.IncidentAssignedData{
		IncidentID: offer.IncidentID,
		VendorID:   offer.VendorID,
		OfferID:    offer.ID,
		Attempt:    offer.Attempt,
		AssignedAt: s.clock.Now(),
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to build incident assigned event", zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, eventbus.SubjectIncidentAssigned, event); err != nil {
		logger.ErrorContext(ctx, "failed to publish incident assigned", zap.Error(err))
	}
}

func (s *Service) pushToVendor(vendorID uuid.UUID, msgType string, payload interface{}) {
	if s.hub == nil {
		return
	}
	msg, err := websocket.NewMessage(msgType, payload)
	if err != nil {
		logger.Warn("failed to build vendor push", zap.Error(err))
		return
	}
	s.hub.SendToVendor(vendorID.String(), msg)
}
