package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/roadcall/roadside-dispatch/internal/incidents"
	"github.com/roadcall/roadside-dispatch/internal/matching"
	"github.com/roadcall/roadside-dispatch/internal/offers"
	"github.com/roadcall/roadside-dispatch/pkg/clock"
	"github.com/roadcall/roadside-dispatch/pkg/config"
	"github.com/roadcall/roadside-dispatch/pkg/eventbus"
	"github.com/roadcall/roadside-dispatch/pkg/logger"
	"github.com/roadcall/roadside-dispatch/pkg/resilience"
	"go.uber.org/zap"
)

// Matcher runs one matching attempt
type Matcher interface {
	MatchOnce(ctx context.Context, incident *incidents.Incident, radiusMiles float64, exclude []uuid.UUID, cfg config.MatchingConfig) ([]matching.Candidate, error)
}

// IncidentStore is the incident persistence slice the engine needs
type IncidentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*incidents.Incident, error)
	ClearAssignment(ctx context.Context, incidentID, vendorID uuid.UUID) error
}

// OfferWriter is the offer-service slice the engine drives
type OfferWriter interface {
	CreateBatch(ctx context.Context, incident *incidents.Incident, candidates []matching.Candidate, attempt int, timeout time.Duration) ([]*offers.Offer, error)
	CancelPendingForIncident(ctx context.Context, incidentID uuid.UUID, reason string) error
}

// VendorReleaser frees a vendor after an arrival timeout
type VendorReleaser interface {
	Release(ctx context.Context, id, incidentID uuid.UUID) error
}

// Engine drives every active incident to a terminal dispatch state. One
// goroutine owns each run; acceptance handling happens on the offers
// service's request path and reaches the engine only through events, so
// the two coordinate via the incident store's conditional write rather
// than shared memory.
type Engine struct {
	matcher  Matcher
	store    IncidentStore
	offers   OfferWriter
	vendors  VendorReleaser
	bus      eventbus.Publisher
	provider *config.MatchingProvider
	clock    clock.Clock
	dedup    Deduper
	retry    resilience.RetryConfig

	// baseCtx bounds the lifetime of every run; set by Start. Runs must
	// not inherit request or message contexts, which end too early.
	baseCtx context.Context

	mu   sync.Mutex
	runs map[uuid.UUID]*run
	wg   sync.WaitGroup
}

// NewEngine creates a dispatch engine. All dependencies are explicit; no
// singletons.
func NewEngine(
	matcher Matcher,
	store IncidentStore,
	offerWriter OfferWriter,
	vendors VendorReleaser,
	bus eventbus.Publisher,
	provider *config.MatchingProvider,
	clk clock.Clock,
	dedup Deduper,
) *Engine {
	return &Engine{
		matcher:  matcher,
		store:    store,
		offers:   offerWriter,
		vendors:  vendors,
		bus:      bus,
		provider: provider,
		clock:    clk,
		dedup:    dedup,
		retry:    resilience.DispatchRetryConfig(),
		baseCtx:  context.Background(),
		runs:     make(map[uuid.UUID]*run),
	}
}

// Start subscribes the engine to the events that drive it. The passed
// context bounds the lifetime of every run the engine starts.
func (e *Engine) Start(ctx context.Context, sub eventbus.Subscriber) error {
	e.baseCtx = ctx

	subscriptions := []struct {
		subject  string
		consumer string
		handler  eventbus.HandlerFunc
	}{
		{eventbus.SubjectIncidentCreated, "dispatch-incident-created", e.onIncidentCreated},
		{eventbus.SubjectIncidentCancelled, "dispatch-incident-cancelled", e.onIncidentCancelled},
		{eventbus.SubjectOfferAccepted, "dispatch-offer-accepted", e.onOfferAccepted},
		{eventbus.SubjectOfferDeclined, "dispatch-offer-declined", e.onOfferDeclined},
		{eventbus.SubjectOfferExpired, "dispatch-offer-expired", e.onOfferExpired},
	}

	for _, s := range subscriptions {
		if err := sub.Subscribe(ctx, s.subject, s.consumer, s.handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.subject, err)
		}
	}

	logger.Info("dispatch engine started")
	return nil
}

// Wait blocks until every active run has finished. Call after cancelling
// the Start context during shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// ActiveRuns returns the number of in-flight runs.
func (e *Engine) ActiveRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

// StartRun begins driving an incident if no run is already active for it.
// Besides the IncidentCreated consumer, this is the entry point for a
// dispatcher's manual re-dispatch command after an escalation. The run
// inherits the engine's lifetime, not the caller's.
func (e *Engine) StartRun(incident *incidents.Incident) bool {
	e.mu.Lock()
	if _, exists := e.runs[incident.ID]; exists {
		e.mu.Unlock()
		return false
	}

	r := newRun(e, incident)
	e.runs[incident.ID] = r
	e.mu.Unlock()

	activeRuns.Inc()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.finishRun(incident.ID)
		r.loop(e.baseCtx)
	}()

	logger.Info("dispatch run started",
		zap.String("incident_id", incident.ID.String()))
	return true
}

func (e *Engine) finishRun(incidentID uuid.UUID) {
	e.mu.Lock()
	delete(e.runs, incidentID)
	e.mu.Unlock()
	activeRuns.Dec()
}

func (e *Engine) lookupRun(incidentID uuid.UUID) *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[incidentID]
}

// firstDelivery marks the event processed and reports whether this
// delivery should act. Replays produce no state changes.
func (e *Engine) firstDelivery(ctx context.Context, event *eventbus.Event) bool {
	first, err := e.dedup.MarkProcessed(ctx, event.ID)
	if err != nil {
		// If the dedup store is down, prefer acting twice over losing the
		// event; every downstream write is guarded.
		logger.Warn("dedup check failed, processing anyway",
			zap.String("event_id", event.ID),
			zap.Error(err))
		return true
	}
	if !first {
		logger.Debug("duplicate event ignored", zap.String("event_id", event.ID))
	}
	return first
}

func (e *Engine) onIncidentCreated(ctx context.Context, event *eventbus.Event) error {
	var data eventbus.IncidentCreatedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		logger.Warn("malformed incident created event", zap.Error(err))
		return nil
	}

	// The dedup mark happens only after the load succeeds so a failed
	// delivery can still be retried by the bus.
	incident, err := e.getIncident(ctx, data.IncidentID)
	if err != nil {
		return err // nack, redeliver
	}

	if !e.firstDelivery(ctx, event) {
		return nil
	}

	if incident.Status != incidents.StatusCreated || incident.AssignedVendorID != nil {
		logger.Info("incident not dispatchable, skipping",
			zap.String("incident_id", incident.ID.String()),
			zap.String("status", string(incident.Status)))
		return nil
	}

	e.StartRun(incident)
	return nil
}

func (e *Engine) onIncidentCancelled(ctx context.Context, event *eventbus.Event) error {
	if !e.firstDelivery(ctx, event) {
		return nil
	}

	var data eventbus.IncidentCancelledData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		logger.Warn("malformed incident cancelled event", zap.Error(err))
		return nil
	}

	if r := e.lookupRun(data.IncidentID); r != nil {
		r.signalCancel()
	}
	return nil
}

func (e *Engine) onOfferAccepted(ctx context.Context, event *eventbus.Event) error {
	var data eventbus.OfferAcceptedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		logger.Warn("malformed offer accepted event", zap.Error(err))
		return nil
	}
	e.routeOutcome(ctx, event, data.IncidentID, outcome{
		kind:     outcomeAccepted,
		offerID:  data.OfferID,
		vendorID: data.VendorID,
	})
	return nil
}

func (e *Engine) onOfferDeclined(ctx context.Context, event *eventbus.Event) error {
	var data eventbus.OfferDeclinedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		logger.Warn("malformed offer declined event", zap.Error(err))
		return nil
	}
	e.routeOutcome(ctx, event, data.IncidentID, outcome{
		kind:     outcomeDeclined,
		offerID:  data.OfferID,
		vendorID: data.VendorID,
	})
	return nil
}

func (e *Engine) onOfferExpired(ctx context.Context, event *eventbus.Event) error {
	var data eventbus.OfferExpiredData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		logger.Warn("malformed offer expired event", zap.Error(err))
		return nil
	}
	e.routeOutcome(ctx, event, data.IncidentID, outcome{
		kind:     outcomeExpired,
		offerID:  data.OfferID,
		vendorID: data.VendorID,
	})
	return nil
}

func (e *Engine) routeOutcome(ctx context.Context, event *eventbus.Event, incidentID uuid.UUID, o outcome) {
	if !e.firstDelivery(ctx, event) {
		return
	}
	if r := e.lookupRun(incidentID); r != nil {
		r.deliver(o)
	}
}

// getIncident loads an incident with the dispatch retry policy.
func (e *Engine) getIncident(ctx context.Context, id uuid.UUID) (*incidents.Incident, error) {
	result, err := resilience.Retry(ctx, e.retry, func(ctx context.Context) (interface{}, error) {
		return e.store.GetByID(ctx, id)
	}, "incident_get")
	if err != nil {
		return nil, err
	}
	return result.(*incidents.Incident), nil
}
