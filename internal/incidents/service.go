package incidents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/roadcall/roadside-dispatch/pkg/common"
	"github.com/roadcall/roadside-dispatch/pkg/eventbus"
	"github.com/roadcall/roadside-dispatch/pkg/logger"
	"go.uber.org/zap"
)

// Store is the persistence surface the service needs
type Store interface {
	Create(ctx context.Context, incident *Incident) error
	GetByID(ctx context.Context, id uuid.UUID) (*Incident, error)
	Transition(ctx context.Context, id uuid.UUID, from, to Status, actor, reason string) error
	GetTimeline(ctx context.Context, incidentID uuid.UUID) ([]TimelineEntry, error)
}

// Service handles incident intake and lifecycle reporting
type Service struct {
	store Store
	bus   eventbus.Publisher
}

// NewService creates a new incidents service
func NewService(store Store, bus eventbus.Publisher) *Service {
	return &Service{store: store, bus: bus}
}

// Create records a new incident and announces it so dispatch picks it up.
func (s *Service) Create(ctx context.Context, req *CreateIncidentRequest) (*Incident, error) {
	if !req.ServiceType.Valid() {
		return nil, common.NewValidationError(fmt.Sprintf("unknown service type %q", req.ServiceType))
	}

	tier := req.PriorityTier
	if tier == "" {
		tier = "standard"
	}

	incident := &Incident{
		ID:           uuid.New(),
		DriverID:     req.DriverID,
		ServiceType:  req.ServiceType,
		Status:       StatusCreated,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		PriorityTier: tier,
	}

	if err := s.store.Create(ctx, incident); err != nil {
		return nil, err
	}

	event, err := eventbus.NewEvent(eventbus.SubjectIncidentCreated, "incidents", eventbus.IncidentCreatedData{
		IncidentID:  incident.ID,
		DriverID:    incident.DriverID,
		ServiceType: string(incident.ServiceType),
		Latitude:    incident.Latitude,
		Longitude:   incident.Longitude,
		Priority:    incident.PriorityTier,
		ReportedAt:  incident.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build incident created event: %w", err)
	}
	if err := s.bus.Publish(ctx, eventbus.SubjectIncidentCreated, event); err != nil {
		// The incident row exists; dispatch will not see it until the event
		// is republished, so fail loudly.
		return nil, fmt.Errorf("failed to publish incident created: %w", err)
	}

	logger.InfoContext(ctx, "incident created",
		zap.String("incident_id", incident.ID.String()),
		zap.String("service_type", string(incident.ServiceType)))

	return incident, nil
}

// Get returns an incident by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Incident, error) {
	return s.store.GetByID(ctx, id)
}

// Timeline returns the status transition history for an incident.
func (s *Service) Timeline(ctx context.Context, id uuid.UUID) ([]TimelineEntry, error) {
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.store.GetTimeline(ctx, id)
}

// Cancel terminates an incident on behalf of the driver or a supervisor
// and signals any active dispatch run.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, req *CancelRequest) error {
	incident, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if incident.Status.IsTerminal() {
		return common.NewConflictError("incident is already terminal")
	}

	if err := s.store.Transition(ctx, id, incident.Status, StatusCancelled, req.Actor, req.Reason); err != nil {
		return err
	}

	event, err := eventbus.NewEvent(eventbus.SubjectIncidentCancelled, "incidents", eventbus.IncidentCancelledData{
		IncidentID:  id,
		CancelledBy: req.Actor,
		Reason:      req.Reason,
		CancelledAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to build incident cancelled event: %w", err)
	}
	if err := s.bus.Publish(ctx, eventbus.SubjectIncidentCancelled, event); err != nil {
		return fmt.Errorf("failed to publish incident cancelled: %w", err)
	}

	logger.InfoContext(ctx, "incident cancelled",
		zap.String("incident_id", id.String()),
		zap.String("actor", req.Actor))

	return nil
}

// UpdateStatus records lifecycle progress reported by the assigned vendor
// (en route, arrived, work in progress, work completed, ...).
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, req *UpdateStatusRequest) (*Incident, error) {
	incident, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.store.Transition(ctx, id, incident.Status, req.Status, req.Actor, req.Reason); err != nil {
		return nil, err
	}

	event, err := eventbus.NewEvent(eventbus.SubjectIncidentStatusChanged, "incidents", eventbus.IncidentStatusChangedData{
		IncidentID: id,
		From:       string(incident.Status),
		To:         string(req.Status),
		Actor:      req.Actor,
		Reason:     req.Reason,
		ChangedAt:  time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build status changed event: %w", err)
	}
	if err := s.bus.Publish(ctx, eventbus.SubjectIncidentStatusChanged, event); err != nil {
		return nil, fmt.Errorf("failed to publish status changed: %w", err)
	}

	return s.store.GetByID(ctx, id)
}
