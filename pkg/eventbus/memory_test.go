package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	event, err := NewEvent(SubjectIncidentCreated, "incidents", map[string]string{"k": "v"})
	require.NoError(t, err)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, SubjectIncidentCreated, event.Type)
	assert.Equal(t, "incidents", event.Source)
	assert.Equal(t, EnvelopeVersion, event.Version)
	assert.False(t, event.Timestamp.IsZero())

	var data map[string]string
	require.NoError(t, json.Unmarshal(event.Data, &data))
	assert.Equal(t, "v", data["k"])

	// IDs are unique per event.
	other, err := NewEvent(SubjectIncidentCreated, "incidents", nil)
	require.NoError(t, err)
	assert.NotEqual(t, event.ID, other.ID)
}

func TestMemoryBus_ExactSubject(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	var got []*Event
	require.NoError(t, bus.Subscribe(ctx, SubjectOfferAccepted, "c1", func(_ context.Context, e *Event) error {
		got = append(got, e)
		return nil
	}))

	event, _ := NewEvent(SubjectOfferAccepted, "offers", nil)
	require.NoError(t, bus.Publish(ctx, SubjectOfferAccepted, event))

	miss, _ := NewEvent(SubjectOfferDeclined, "offers", nil)
	require.NoError(t, bus.Publish(ctx, SubjectOfferDeclined, miss))

	require.Len(t, got, 1)
	assert.Equal(t, event.ID, got[0].ID)
}

func TestMemoryBus_WildcardSubject(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	var types []string
	require.NoError(t, bus.Subscribe(ctx, "incidents.>", "c1", func(_ context.Context, e *Event) error {
		types = append(types, e.Type)
		return nil
	}))

	for _, subject := range []string{SubjectIncidentCreated, SubjectIncidentEscalated, SubjectOfferCreated} {
		event, _ := NewEvent(subject, "test", nil)
		require.NoError(t, bus.Publish(ctx, subject, event))
	}

	assert.Equal(t, []string{SubjectIncidentCreated, SubjectIncidentEscalated}, types)
}

func TestMemoryBus_HandlerErrorPropagates(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()
	boom := errors.New("handler failed")

	require.NoError(t, bus.Subscribe(ctx, SubjectVendorTimeout, "c1", func(context.Context, *Event) error {
		return boom
	}))

	event, _ := NewEvent(SubjectVendorTimeout, "dispatch", nil)
	assert.ErrorIs(t, bus.Publish(ctx, SubjectVendorTimeout, event), boom)
}

func TestSubjectMatches(t *testing.T) {
	assert.True(t, subjectMatches("offers.created", "offers.created"))
	assert.True(t, subjectMatches("offers.>", "offers.created"))
	assert.False(t, subjectMatches("offers.>", "offersx.created"))
	assert.False(t, subjectMatches("offers.created", "offers.accepted"))
	assert.False(t, subjectMatches("offers.>", "offers"))
}
