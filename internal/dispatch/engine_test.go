package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/roadcall/roadside-dispatch/internal/incidents"
	"github.com/roadcall/roadside-dispatch/internal/matching"
	"github.com/roadcall/roadside-dispatch/internal/offers"
	"github.com/roadcall/roadside-dispatch/internal/vendors"
	"github.com/roadcall/roadside-dispatch/pkg/clock"
	"github.com/roadcall/roadside-dispatch/pkg/config"
	"github.com/roadcall/roadside-dispatch/pkg/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWait = 3 * time.Second

// ─────────────────────────────────────────────────────────────────────────────
// stubs
// ─────────────────────────────────────────────────────────────────────────────

type matchCall struct {
	radius  float64
	exclude []uuid.UUID
}

// stubMatcher replays a scripted plan: call n gets plan(n).
type stubMatcher struct {
	mu    sync.Mutex
	calls []matchCall
	plan  func(call int, radius float64, exclude []uuid.UUID) []matching.Candidate
}

func (m *stubMatcher) MatchOnce(_ context.Context, _ *incidents.Incident, radiusMiles float64, exclude []uuid.UUID, _ config.MatchingConfig) ([]matching.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := len(m.calls)
	m.calls = append(m.calls, matchCall{radius: radiusMiles, exclude: append([]uuid.UUID(nil), exclude...)})
	if m.plan == nil {
		return nil, nil
	}
	return m.plan(call, radiusMiles, exclude), nil
}

func (m *stubMatcher) radii() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.radius
	}
	return out
}

func (m *stubMatcher) call(i int) matchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

type stubIncidentStore struct {
	mu       sync.Mutex
	incident *incidents.Incident
	cleared  []uuid.UUID
}

func (s *stubIncidentStore) GetByID(_ context.Context, id uuid.UUID) (*incidents.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.incident
	cp.ExcludedVendorIDs = append([]uuid.UUID(nil), s.incident.ExcludedVendorIDs...)
	return &cp, nil
}

func (s *stubIncidentStore) ClearAssignment(_ context.Context, _ uuid.UUID, vendorID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incident.Status = incidents.StatusCreated
	s.incident.AssignedVendorID = nil
	s.incident.ExcludedVendorIDs = append(s.incident.ExcludedVendorIDs, vendorID)
	s.cleared = append(s.cleared, vendorID)
	return nil
}

func (s *stubIncidentStore) mutate(fn func(*incidents.Incident)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.incident)
}

func (s *stubIncidentStore) clearedVendors() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.cleared...)
}

type cancelCall struct {
	incidentID uuid.UUID
	reason     string
}

// stubOfferWriter fabricates offers with a short real-time expiry so batch
// deadlines resolve quickly.
type stubOfferWriter struct {
	mu       sync.Mutex
	expiry   time.Duration
	attempts []int
	batches  chan []*offers.Offer
	cancels  chan cancelCall
}

func newStubOfferWriter(expiry time.Duration) *stubOfferWriter {
	return &stubOfferWriter{
		expiry:  expiry,
		batches: make(chan []*offers.Offer, 8),
		cancels: make(chan cancelCall, 8),
	}
}

func (w *stubOfferWriter) CreateBatch(_ context.Context, incident *incidents.Incident, candidates []matching.Candidate, attempt int, _ time.Duration) ([]*offers.Offer, error) {
	expiresAt := time.Now().Add(w.expiry)
	batch := make([]*offers.Offer, 0, len(candidates))
	for _, c := range candidates {
		batch = append(batch, &offers.Offer{
			ID:         uuid.New(),
			IncidentID: incident.ID,
			VendorID:   c.Vendor.ID,
			Status:     offers.StatusPending,
			Attempt:    attempt,
			ExpiresAt:  expiresAt,
		})
	}
	w.mu.Lock()
	w.attempts = append(w.attempts, attempt)
	w.mu.Unlock()
	w.batches <- batch
	return batch, nil
}

func (w *stubOfferWriter) CancelPendingForIncident(_ context.Context, incidentID uuid.UUID, reason string) error {
	w.cancels <- cancelCall{incidentID: incidentID, reason: reason}
	return nil
}

func (w *stubOfferWriter) batchAttempts() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int(nil), w.attempts...)
}

type stubReleaser struct {
	mu       sync.Mutex
	released []uuid.UUID
}

func (r *stubReleaser) Release(_ context.Context, id, _ uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, id)
	return nil
}

func (r *stubReleaser) releasedVendors() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.released...)
}

// ─────────────────────────────────────────────────────────────────────────────
// harness
// ─────────────────────────────────────────────────────────────────────────────

type harness struct {
	t        *testing.T
	engine   *Engine
	bus      *eventbus.MemoryBus
	matcher  *stubMatcher
	store    *stubIncidentStore
	writer   *stubOfferWriter
	releaser *stubReleaser

	escalated chan eventbus.IncidentEscalatedData
	timeouts  chan eventbus.VendorTimeoutData
}

func newHarness(t *testing.T, incident *incidents.Incident) *harness {
	t.Helper()

	// Zero arrival deadline makes monitorArrival resolve on its final check
	// immediately; the poll ticker never fires within a test.
	cfg := config.DefaultMatchingConfig()
	cfg.ArrivalDeadlineMinutes = 0
	cfg.ArrivalPollIntervalMinutes = 1
	provider, err := config.NewMatchingProvider(cfg)
	require.NoError(t, err)

	h := &harness{
		t:         t,
		bus:       eventbus.NewMemoryBus(),
		matcher:   &stubMatcher{},
		store:     &stubIncidentStore{incident: incident},
		writer:    newStubOfferWriter(2 * time.Second),
		releaser:  &stubReleaser{},
		escalated: make(chan eventbus.IncidentEscalatedData, 4),
		timeouts:  make(chan eventbus.VendorTimeoutData, 4),
	}

	require.NoError(t, h.bus.Subscribe(context.Background(), eventbus.SubjectIncidentEscalated, "test", func(_ context.Context, e *eventbus.Event) error {
		var data eventbus.IncidentEscalatedData
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return err
		}
		h.escalated <- data
		return nil
	}))
	require.NoError(t, h.bus.Subscribe(context.Background(), eventbus.SubjectVendorTimeout, "test", func(_ context.Context, e *eventbus.Event) error {
		var data eventbus.VendorTimeoutData
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return err
		}
		h.timeouts <- data
		return nil
	}))

	h.engine = NewEngine(h.matcher, h.store, h.writer, h.releaser, h.bus, provider, clock.Real{}, NewMemoryDeduper())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.engine.Start(ctx, h.bus))
	t.Cleanup(func() {
		cancel()
		h.engine.Wait()
	})
	return h
}

func (h *harness) publish(subject string, data interface{}) *eventbus.Event {
	h.t.Helper()
	event, err := eventbus.NewEvent(subject, "test", data)
	require.NoError(h.t, err)
	require.NoError(h.t, h.bus.Publish(context.Background(), subject, event))
	return event
}

func (h *harness) publishCreated(incident *incidents.Incident) {
	h.t.Helper()
	h.publish(eventbus.SubjectIncidentCreated, eventbus.IncidentCreatedData{
		IncidentID:  incident.ID,
		DriverID:    incident.DriverID,
		ServiceType: string(incident.ServiceType),
		Latitude:    incident.Latitude,
		Longitude:   incident.Longitude,
		Priority:    incident.PriorityTier,
	})
}

func (h *harness) publishAccepted(offer *offers.Offer) {
	h.t.Helper()
	h.publish(eventbus.SubjectOfferAccepted, eventbus.OfferAcceptedData{
		OfferID:    offer.ID,
		IncidentID: offer.IncidentID,
		VendorID:   offer.VendorID,
		AcceptedAt: time.Now().UTC(),
	})
}

func (h *harness) publishDeclined(offer *offers.Offer) {
	h.t.Helper()
	h.publish(eventbus.SubjectOfferDeclined, eventbus.OfferDeclinedData{
		OfferID:    offer.ID,
		IncidentID: offer.IncidentID,
		VendorID:   offer.VendorID,
		DeclinedAt: time.Now().UTC(),
	})
}

func (h *harness) waitBatch() []*offers.Offer {
	h.t.Helper()
	select {
	case batch := <-h.writer.batches:
		return batch
	case <-time.After(testWait):
		h.t.Fatal("timed out waiting for offer batch")
		return nil
	}
}

func (h *harness) waitEscalated() eventbus.IncidentEscalatedData {
	h.t.Helper()
	select {
	case data := <-h.escalated:
		return data
	case <-time.After(testWait):
		h.t.Fatal("timed out waiting for escalation")
		return eventbus.IncidentEscalatedData{}
	}
}

func (h *harness) waitIdle() {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.engine.ActiveRuns() == 0 },
		testWait, 10*time.Millisecond, "run did not finish")
}

func dispatchIncident() *incidents.Incident {
	return &incidents.Incident{
		ID:           uuid.New(),
		DriverID:     uuid.New(),
		ServiceType:  incidents.ServiceTow,
		Status:       incidents.StatusCreated,
		Latitude:     40.7128,
		Longitude:    -74.0060,
		PriorityTier: "standard",
	}
}

func candidates(n int) []matching.Candidate {
	out := make([]matching.Candidate, n)
	for i := range out {
		out[i] = matching.Candidate{
			Vendor: &vendors.Vendor{ID: uuid.New(), Availability: vendors.Available},
			Score:  0.9 - float64(i)*0.1,
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// tests
// ─────────────────────────────────────────────────────────────────────────────

func TestEngine_HappyPath(t *testing.T) {
	incident := dispatchIncident()
	h := newHarness(t, incident)
	h.matcher.plan = func(int, float64, []uuid.UUID) []matching.Candidate {
		return candidates(3)
	}

	h.publishCreated(incident)
	batch := h.waitBatch()
	require.Len(t, batch, 3)

	winner := batch[0]
	h.store.mutate(func(i *incidents.Incident) {
		i.Status = incidents.StatusVendorArrived
		i.AssignedVendorID = &winner.VendorID
	})
	h.publishAccepted(winner)

	h.waitIdle()

	assert.Equal(t, []float64{50}, h.matcher.radii())
	assert.Equal(t, []int{1}, h.writer.batchAttempts())
	assert.Empty(t, h.escalated)
	assert.Empty(t, h.timeouts)
}

func TestEngine_RadiusExpansionAfterDeclines(t *testing.T) {
	incident := dispatchIncident()
	h := newHarness(t, incident)
	h.matcher.plan = func(int, float64, []uuid.UUID) []matching.Candidate {
		return candidates(1)
	}

	h.publishCreated(incident)

	// Attempt 1: the only offer is declined, exhausting the batch.
	first := h.waitBatch()
	require.Len(t, first, 1)
	h.publishDeclined(first[0])

	// Attempt 2 goes out at the expanded radius and succeeds.
	second := h.waitBatch()
	require.Len(t, second, 1)
	winner := second[0]
	h.store.mutate(func(i *incidents.Incident) {
		i.Status = incidents.StatusVendorArrived
		i.AssignedVendorID = &winner.VendorID
	})
	h.publishAccepted(winner)

	h.waitIdle()

	assert.Equal(t, []float64{50, 62.5}, h.matcher.radii())
	assert.Equal(t, []int{1, 2}, h.writer.batchAttempts())
	assert.Empty(t, h.escalated)
}

func TestEngine_EscalatesAfterMaxAttempts(t *testing.T) {
	incident := dispatchIncident()
	h := newHarness(t, incident)
	// No plan: every attempt finds nobody.

	h.publishCreated(incident)

	data := h.waitEscalated()
	h.waitIdle()

	assert.Equal(t, incident.ID, data.IncidentID)
	assert.Equal(t, 3, data.Attempts)
	assert.Equal(t, 78.125, data.FinalRadius)
	assert.Equal(t, "no_vendor_found", data.Reason)

	assert.Equal(t, []float64{50, 62.5, 78.125}, h.matcher.radii())
	assert.Empty(t, h.writer.batchAttempts(), "no offers were ever created")
}

func TestEngine_RadiusCapped(t *testing.T) {
	incident := dispatchIncident()
	h := newHarness(t, incident)

	// A tiny cap forces every attempt to the ceiling.
	cfg := config.DefaultMatchingConfig()
	cfg.MaxRadiusMiles = 55
	cfg.ArrivalDeadlineMinutes = 0
	cfg.ArrivalPollIntervalMinutes = 1
	require.NoError(t, h.engine.provider.Update(cfg))

	h.publishCreated(incident)
	data := h.waitEscalated()
	h.waitIdle()

	assert.Equal(t, 55.0, data.FinalRadius)
	assert.Equal(t, []float64{50, 55, 55}, h.matcher.radii())
}

func TestEngine_CancellationMidAttempt(t *testing.T) {
	incident := dispatchIncident()
	h := newHarness(t, incident)
	h.matcher.plan = func(int, float64, []uuid.UUID) []matching.Candidate {
		return candidates(2)
	}

	h.publishCreated(incident)
	h.waitBatch()

	h.publish(eventbus.SubjectIncidentCancelled, eventbus.IncidentCancelledData{
		IncidentID:  incident.ID,
		CancelledBy: "driver",
		Reason:      "resolved on my own",
		CancelledAt: time.Now().UTC(),
	})

	h.waitIdle()

	select {
	case call := <-h.writer.cancels:
		assert.Equal(t, incident.ID, call.incidentID)
		assert.Equal(t, offers.ReasonIncidentCancelled, call.reason)
	case <-time.After(testWait):
		t.Fatal("pending offers were not withdrawn")
	}
	assert.Empty(t, h.escalated)
}

func TestEngine_VendorTimeoutReassigns(t *testing.T) {
	incident := dispatchIncident()
	h := newHarness(t, incident)
	h.matcher.plan = func(int, float64, []uuid.UUID) []matching.Candidate {
		return candidates(1)
	}

	h.publishCreated(incident)

	// First assignment: the vendor accepts but never arrives; the zero
	// arrival deadline times the vendor out on the final check.
	first := h.waitBatch()
	late := first[0]
	h.store.mutate(func(i *incidents.Incident) {
		i.Status = incidents.StatusVendorAssigned
		i.AssignedVendorID = &late.VendorID
	})
	time.Sleep(20 * time.Millisecond)
	beforeAccept := time.Now()
	h.publishAccepted(late)

	select {
	case data := <-h.timeouts:
		assert.Equal(t, incident.ID, data.IncidentID)
		assert.Equal(t, late.VendorID, data.VendorID)
		// The arrival clock starts at assignment, not at run start.
		assert.False(t, data.Deadline.Before(beforeAccept),
			"announced deadline predates the assignment")
	case <-time.After(testWait):
		t.Fatal("vendor timeout was not announced")
	}

	// The fresh attempt excludes the timed-out vendor and starts back at
	// attempt 1 and the default radius.
	second := h.waitBatch()
	require.Len(t, second, 1)
	assert.NotEqual(t, late.VendorID, second[0].VendorID)
	assert.Contains(t, h.matcher.call(1).exclude, late.VendorID)
	assert.Equal(t, []float64{50, 50}, h.matcher.radii())
	assert.Equal(t, []int{1, 1}, h.writer.batchAttempts())

	winner := second[0]
	h.store.mutate(func(i *incidents.Incident) {
		i.Status = incidents.StatusVendorArrived
		i.AssignedVendorID = &winner.VendorID
	})
	h.publishAccepted(winner)

	h.waitIdle()

	assert.Equal(t, []uuid.UUID{late.VendorID}, h.store.clearedVendors())
	assert.Equal(t, []uuid.UUID{late.VendorID}, h.releaser.releasedVendors())
	assert.Empty(t, h.escalated)
}

func TestEngine_DuplicateCreatedEventIgnored(t *testing.T) {
	incident := dispatchIncident()
	h := newHarness(t, incident)

	event, err := eventbus.NewEvent(eventbus.SubjectIncidentCreated, "test", eventbus.IncidentCreatedData{
		IncidentID: incident.ID,
	})
	require.NoError(t, err)

	require.NoError(t, h.bus.Publish(context.Background(), eventbus.SubjectIncidentCreated, event))
	h.waitEscalated()
	h.waitIdle()

	// Redelivery of the same event ID is a no-op.
	require.NoError(t, h.bus.Publish(context.Background(), eventbus.SubjectIncidentCreated, event))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, h.engine.ActiveRuns())
	assert.Len(t, h.matcher.radii(), 3, "only the first delivery ran the attempt loop")
	assert.Empty(t, h.escalated)
}

func TestEngine_SkipsNonDispatchableIncident(t *testing.T) {
	incident := dispatchIncident()
	incident.Status = incidents.StatusCancelled
	h := newHarness(t, incident)

	h.publishCreated(incident)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, h.engine.ActiveRuns())
	assert.Empty(t, h.matcher.radii())
}

func TestEngine_StartRunRejectsDuplicate(t *testing.T) {
	incident := dispatchIncident()
	h := newHarness(t, incident)
	h.matcher.plan = func(int, float64, []uuid.UUID) []matching.Candidate {
		return candidates(1)
	}

	require.True(t, h.engine.StartRun(incident))
	h.waitBatch()
	assert.False(t, h.engine.StartRun(incident), "second run for the same incident must be refused")

	h.publish(eventbus.SubjectIncidentCancelled, eventbus.IncidentCancelledData{IncidentID: incident.ID})
	h.waitIdle()
}
