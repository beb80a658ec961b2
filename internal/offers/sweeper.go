package offers

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/roadcall/roadside-dispatch/pkg/clock"
	"github.com/roadcall/roadside-dispatch/pkg/eventbus"
	"github.com/roadcall/roadside-dispatch/pkg/logger"
	"go.uber.org/zap"
)

// DefaultSweepInterval keeps the gap between an offer's expiry and its
// expired transition under two seconds.
const DefaultSweepInterval = time.Second

var sweptOffers = promauto.NewCounter(prometheus.CounterOpts{
	Name: "offers_swept_total",
	Help: "Pending offers transitioned to expired by the sweeper.",
})

// Sweeper periodically expires pending offers that outlived their expiry
// timestamp and announces each expiry on the bus.
type Sweeper struct {
	store    Store
	bus      eventbus.Publisher
	clock    clock.Clock
	interval time.Duration
}

// NewSweeper creates a sweeper. A non-positive interval falls back to the
// default.
func NewSweeper(store Store, bus eventbus.Publisher, clk clock.Clock, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: store, bus: bus, clock: clk, interval: interval}
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	logger.Info("offer expiry sweeper started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("offer expiry sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce expires everything currently due. Exposed for tests and for
// callers that want an immediate pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	expired, err := s.store.ExpireDue(ctx, s.clock.Now())
	if err != nil {
		logger.Error("offer sweep failed", zap.Error(err))
		return
	}

	for _, offer := range expired {
		sweptOffers.Inc()

		event, err := eventbus.NewEvent(eventbus.SubjectOfferExpired, "offers", eventbus.OfferExpiredData{
			OfferID:    offer.ID,
			IncidentID: offer.IncidentID,
			VendorID:   offer.VendorID,
			ExpiredAt:  s.clock.Now(),
		})
		if err != nil {
			logger.Error("failed to build offer expired event", zap.Error(err))
			continue
		}
		if err := s.bus.Publish(ctx, eventbus.SubjectOfferExpired, event); err != nil {
			logger.Error("failed to publish offer expired",
				zap.String("offer_id", offer.ID.String()),
				zap.Error(err))
		}
	}

	if len(expired) > 0 {
		logger.Debug("swept expired offers", zap.Int("count", len(expired)))
	}
}
