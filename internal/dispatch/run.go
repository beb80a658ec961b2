package dispatch

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/roadcall/roadside-dispatch/internal/incidents"
	"github.com/roadcall/roadside-dispatch/internal/matching"
	"github.com/roadcall/roadside-dispatch/internal/offers"
	"github.com/roadcall/roadside-dispatch/pkg/config"
	"github.com/roadcall/roadside-dispatch/pkg/eventbus"
	"github.com/roadcall/roadside-dispatch/pkg/logger"
	"github.com/roadcall/roadside-dispatch/pkg/resilience"
	"go.uber.org/zap"
)

type outcomeKind int

const (
	outcomeAccepted outcomeKind = iota
	outcomeDeclined
	outcomeExpired
)

// outcome is one offer's terminal result, routed to the run by the engine.
type outcome struct {
	kind     outcomeKind
	offerID  uuid.UUID
	vendorID uuid.UUID
}

type batchResult int

const (
	batchAccepted batchResult = iota
	batchExhausted
	batchCancelled
	batchAborted // context done
)

// run drives one incident through the attempt loop. All fields are owned
// by the run goroutine; the engine only touches the channels.
type run struct {
	engine   *Engine
	incident *incidents.Incident

	attempt   int
	radius    float64
	deadline  time.Time
	live      map[uuid.UUID]struct{}
	exclude   []uuid.UUID
	winner    uuid.UUID // vendor of the accepted offer
	escalated bool

	startedAt  time.Time
	assignedAt time.Time // instant the winning acceptance was observed

	outcomes   chan outcome
	cancelOnce sync.Once
	cancelled  chan struct{}
}

func newRun(e *Engine, incident *incidents.Incident) *run {
	return &run{
		engine:    e,
		incident:  incident,
		attempt:   1,
		live:      make(map[uuid.UUID]struct{}),
		exclude:   incident.ExcludedVendorIDs,
		startedAt: e.clock.Now(),
		outcomes:  make(chan outcome, 16),
		cancelled: make(chan struct{}),
	}
}

// deliver hands an offer outcome to the run without blocking the consumer.
func (r *run) deliver(o outcome) {
	select {
	case r.outcomes <- o:
	default:
		logger.Warn("dropping outcome for saturated run",
			zap.String("incident_id", r.incident.ID.String()))
	}
}

// signalCancel tells the run the incident was cancelled. Safe to call more
// than once.
func (r *run) signalCancel() {
	r.cancelOnce.Do(func() { close(r.cancelled) })
}

// loop is the attempt loop. It terminates on assignment with arrival,
// escalation, cancellation, or context shutdown.
func (r *run) loop(ctx context.Context) {
	cfg := r.engine.provider.Matching()
	r.radius = cfg.DefaultRadiusMiles

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.cancelled:
			r.onCancelled(ctx)
			return
		default:
		}

		// Snapshot per attempt: live config changes affect the next
		// attempt, never the one in flight.
		cfg = r.engine.provider.Matching()
		attemptRadius := math.Min(r.radius, cfg.MaxRadiusMiles)
		attemptsTotal.Inc()

		candidates, err := r.matchOnce(ctx, attemptRadius, cfg)
		if err != nil {
			// Retries exhausted; counts as a no-vendor attempt.
			logger.WarnContext(ctx, "matching attempt failed, treating as empty",
				zap.String("incident_id", r.incident.ID.String()),
				zap.Int("attempt", r.attempt),
				zap.Error(err))
			candidates = nil
		}

		if len(candidates) == 0 {
			if r.attempt >= cfg.MaxExpansionAttempts {
				r.escalate(ctx, "no_vendor_found", attemptRadius)
				return
			}
			r.expandRadius(cfg)
			continue
		}

		batch, err := r.createOffers(ctx, candidates, cfg)
		if err != nil || len(batch) == 0 {
			logger.ErrorContext(ctx, "offer fan-out failed",
				zap.String("incident_id", r.incident.ID.String()),
				zap.Error(err))
			if r.attempt >= cfg.MaxExpansionAttempts {
				r.escalate(ctx, "no_vendor_found", attemptRadius)
				return
			}
			r.expandRadius(cfg)
			continue
		}

		switch r.awaitBatch(ctx) {
		case batchAccepted:
			r.assignedAt = r.engine.clock.Now()
			runOutcomes.WithLabelValues("assigned").Inc()
			timeToAssign.Observe(r.assignedAt.Sub(r.startedAt).Seconds())

			if r.monitorArrival(ctx, cfg.ArrivalDeadline(), cfg.ArrivalPollInterval()) {
				return
			}
			// Vendor timed out; start over with a fresh attempt budget and
			// the timed-out vendor excluded.
			r.resetAfterTimeout(ctx, cfg)
			continue

		case batchExhausted:
			if r.attempt >= cfg.MaxExpansionAttempts {
				r.escalate(ctx, "no_vendor_found", attemptRadius)
				return
			}
			r.expandRadius(cfg)
			continue

		case batchCancelled:
			r.onCancelled(ctx)
			return

		case batchAborted:
			return
		}
	}
}

func (r *run) expandRadius(cfg config.MatchingConfig) {
	r.radius = math.Min(r.radius*(1+cfg.RadiusExpansionFactor), cfg.MaxRadiusMiles)
	r.attempt++
}

func (r *run) matchOnce(ctx context.Context, radius float64, cfg config.MatchingConfig) ([]matching.Candidate, error) {
	result, err := resilience.Retry(ctx, r.engine.retry, func(ctx context.Context) (interface{}, error) {
		return r.engine.matcher.MatchOnce(ctx, r.incident, radius, r.exclude, cfg)
	}, "match_once")
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.([]matching.Candidate), nil
}

func (r *run) createOffers(ctx context.Context, candidates []matching.Candidate, cfg config.MatchingConfig) ([]*offers.Offer, error) {
	result, err := resilience.Retry(ctx, r.engine.retry, func(ctx context.Context) (interface{}, error) {
		return r.engine.offers.CreateBatch(ctx, r.incident, candidates, r.attempt, cfg.OfferTimeout())
	}, "offer_fanout")
	if err != nil {
		return nil, err
	}

	batch := result.([]*offers.Offer)
	r.live = make(map[uuid.UUID]struct{}, len(batch))
	for _, o := range batch {
		r.live[o.ID] = struct{}{}
		// All offers in the batch share one expiry.
		r.deadline = o.ExpiresAt
	}
	return batch, nil
}

// awaitBatch blocks until the batch resolves: one acceptance, every offer
// terminal without acceptance, cancellation, or the batch deadline. The
// deadline is absolute, so a redelivered wait never extends the budget.
func (r *run) awaitBatch(ctx context.Context) batchResult {
	timer := time.NewTimer(r.deadline.Sub(r.engine.clock.Now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return batchAborted

		case <-r.cancelled:
			return batchCancelled

		case <-timer.C:
			// Remaining pending offers are past expiry; the sweeper makes
			// the expired transitions durable.
			return batchExhausted

		case o := <-r.outcomes:
			if o.kind == outcomeAccepted {
				r.winner = o.vendorID
				delete(r.live, o.offerID)
				return batchAccepted
			}
			delete(r.live, o.offerID)
			if len(r.live) == 0 {
				return batchExhausted
			}
		}
	}
}

// monitorArrival watches the incident after assignment. Returns true when
// the engine's responsibility ends (vendor arrived, work under way, or the
// incident was cancelled); false means the vendor timed out and the caller
// re-enters the attempt loop.
func (r *run) monitorArrival(ctx context.Context, deadline, poll time.Duration) bool {
	logger.InfoContext(ctx, "arrival monitoring started",
		zap.String("incident_id", r.incident.ID.String()),
		zap.String("vendor_id", r.winner.String()),
		zap.Duration("deadline", deadline))

	deadlineTimer := time.NewTimer(deadline)
	defer deadlineTimer.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return true

		case <-r.cancelled:
			// Cancellation after assignment: the incidents service already
			// transitioned the record; nothing left for this run.
			runOutcomes.WithLabelValues("cancelled").Inc()
			return true

		case <-ticker.C:
			switch r.checkArrival(ctx) {
			case arrivalReached, arrivalOver:
				return true
			case arrivalPending:
			}

		case <-deadlineTimer.C:
			// One final look before declaring a timeout; the vendor may
			// have arrived between polls.
			if state := r.checkArrival(ctx); state != arrivalPending {
				return true
			}
			return false
		}
	}
}

type arrivalState int

const (
	arrivalPending arrivalState = iota
	arrivalReached
	arrivalOver // cancelled or otherwise out of the engine's hands
)

func (r *run) checkArrival(ctx context.Context) arrivalState {
	incident, err := r.engine.getIncident(ctx, r.incident.ID)
	if err != nil {
		logger.WarnContext(ctx, "arrival poll failed",
			zap.String("incident_id", r.incident.ID.String()),
			zap.Error(err))
		return arrivalPending
	}

	switch incident.Status {
	case incidents.StatusVendorArrived, incidents.StatusWorkInProgress, incidents.StatusWorkCompleted:
		return arrivalReached
	case incidents.StatusCancelled, incidents.StatusClosed:
		runOutcomes.WithLabelValues("cancelled").Inc()
		return arrivalOver
	}
	return arrivalPending
}

// resetAfterTimeout rolls the incident back to created, excludes the
// timed-out vendor and rewinds the run to attempt 1 at the default radius.
func (r *run) resetAfterTimeout(ctx context.Context, cfg config.MatchingConfig) {
	vendorID := r.winner
	vendorTimeouts.Inc()

	logger.WarnContext(ctx, "vendor missed arrival deadline",
		zap.String("incident_id", r.incident.ID.String()),
		zap.String("vendor_id", vendorID.String()))

	r.publish(ctx, eventbus.SubjectVendorTimeout, eventbus.VendorTimeoutData{
		IncidentID: r.incident.ID,
		VendorID:   vendorID,
		Deadline:   r.assignedAt.Add(cfg.ArrivalDeadline()),
		TimedOutAt: r.engine.clock.Now(),
	})

	_, err := resilience.Retry(ctx, r.engine.retry, func(ctx context.Context) (interface{}, error) {
		return nil, r.engine.store.ClearAssignment(ctx, r.incident.ID, vendorID)
	}, "clear_assignment")
	if err != nil {
		// The incident is stuck assigned to an unresponsive vendor; this
		// is not recoverable from here.
		r.escalate(ctx, "internal", r.radius)
		return
	}

	if err := r.engine.vendors.Release(ctx, vendorID, r.incident.ID); err != nil {
		logger.WarnContext(ctx, "failed to release timed-out vendor",
			zap.String("vendor_id", vendorID.String()),
			zap.Error(err))
	}

	if incident, err := r.engine.getIncident(ctx, r.incident.ID); err == nil {
		r.incident = incident
		r.exclude = incident.ExcludedVendorIDs
	} else {
		r.exclude = append(r.exclude, vendorID)
	}

	r.attempt = 1
	r.radius = cfg.DefaultRadiusMiles
	r.winner = uuid.Nil
	r.assignedAt = time.Time{}
	r.live = make(map[uuid.UUID]struct{})
}

// onCancelled withdraws the current batch. The incidents service already
// recorded the cancellation and emitted IncidentCancelled.
func (r *run) onCancelled(ctx context.Context) {
	runOutcomes.WithLabelValues("cancelled").Inc()

	_, err := resilience.Retry(ctx, r.engine.retry, func(ctx context.Context) (interface{}, error) {
		return nil, r.engine.offers.CancelPendingForIncident(ctx, r.incident.ID, offers.ReasonIncidentCancelled)
	}, "cancel_pending_offers")
	if err != nil {
		logger.ErrorContext(ctx, "failed to cancel pending offers",
			zap.String("incident_id", r.incident.ID.String()),
			zap.Error(err))
	}

	logger.InfoContext(ctx, "dispatch run cancelled",
		zap.String("incident_id", r.incident.ID.String()),
		zap.Int("attempt", r.attempt))
}

// escalate ends the run after the attempt budget is exhausted or a fatal
// failure.
func (r *run) escalate(ctx context.Context, reason string, finalRadius float64) {
	r.escalated = true
	runOutcomes.WithLabelValues("escalated").Inc()

	r.publish(ctx, eventbus.SubjectIncidentEscalated, eventbus.IncidentEscalatedData{
		IncidentID:  r.incident.ID,
		Attempts:    r.attempt,
		FinalRadius: finalRadius,
		Reason:      reason,
		EscalatedAt: r.engine.clock.Now(),
	})

	logger.WarnContext(ctx, "incident escalated",
		zap.String("incident_id", r.incident.ID.String()),
		zap.Int("attempts", r.attempt),
		zap.Float64("final_radius_miles", finalRadius),
		zap.String("reason", reason))
}

func (r *run) publish(ctx context.Context, subject string, data interface{}) {
	event, err := eventbus.NewEvent(subject, "dispatch", data)
	if err != nil {
		logger.ErrorContext(ctx, "failed to build event",
			zap.String("subject", subject),
			zap.Error(err))
		return
	}

	_, err = resilience.Retry(ctx, r.engine.retry, func(ctx context.Context) (interface{}, error) {
		return nil, r.engine.bus.Publish(ctx, subject, event)
	}, "event_publish")
	if err != nil {
		logger.ErrorContext(ctx, "failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}
