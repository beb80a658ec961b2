package offers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/roadcall/roadside-dispatch/pkg/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepOnce_ExpiresDueOffers(t *testing.T) {
	env := newTestService(t)
	batch := mustBatch(t, env, uuid.New(), 2)

	sweeper := NewSweeper(env.store, env.bus, env.clock, 0)

	// Nothing due yet.
	sweeper.SweepOnce(context.Background())
	assert.Equal(t, StatusPending, env.store.status(batch[0].ID))

	// At the expiry instant the whole batch is due.
	env.clock.Advance(2 * time.Minute)
	sweeper.SweepOnce(context.Background())

	for _, offer := range batch {
		assert.Equal(t, StatusExpired, env.store.status(offer.ID))
	}

	var expired []eventbus.OfferExpiredData
	for _, event := range env.rec.events {
		if event.Type != eventbus.SubjectOfferExpired {
			continue
		}
		var data eventbus.OfferExpiredData
		require.NoError(t, json.Unmarshal(event.Data, &data))
		expired = append(expired, data)
	}
	require.Len(t, expired, 2)
	for _, data := range expired {
		assert.Equal(t, batch[0].IncidentID, data.IncidentID)
	}
}

func TestSweepOnce_Idempotent(t *testing.T) {
	env := newTestService(t)
	batch := mustBatch(t, env, uuid.New(), 1)

	sweeper := NewSweeper(env.store, env.bus, env.clock, 0)
	env.clock.Advance(3 * time.Minute)

	sweeper.SweepOnce(context.Background())
	sweeper.SweepOnce(context.Background())

	assert.Equal(t, StatusExpired, env.store.status(batch[0].ID))

	var expiredEvents int
	for _, typ := range env.rec.types() {
		if typ == eventbus.SubjectOfferExpired {
			expiredEvents++
		}
	}
	assert.Equal(t, 1, expiredEvents, "already-expired offers are not swept twice")
}

func TestNewSweeper_DefaultInterval(t *testing.T) {
	env := newTestService(t)

	sweeper := NewSweeper(env.store, env.bus, env.clock, 0)
	assert.Equal(t, DefaultSweepInterval, sweeper.interval)

	sweeper = NewSweeper(env.store, env.bus, env.clock, 250*time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, sweeper.interval)
}
