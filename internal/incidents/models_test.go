package incidents

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
		ok   bool
	}{
		{"assign from created", StatusCreated, StatusVendorAssigned, true},
		{"cancel from created", StatusCreated, StatusCancelled, true},
		{"en route after assignment", StatusVendorAssigned, StatusVendorEnRoute, true},
		{"arrive straight from assignment", StatusVendorAssigned, StatusVendorArrived, true},
		{"timeout reverts assignment", StatusVendorAssigned, StatusCreated, true},
		{"timeout reverts en route", StatusVendorEnRoute, StatusCreated, true},
		{"work starts on arrival", StatusVendorArrived, StatusWorkInProgress, true},
		{"work completes", StatusWorkInProgress, StatusWorkCompleted, true},
		{"payment after completion", StatusWorkCompleted, StatusPaymentPending, true},
		{"close without payment step", StatusWorkCompleted, StatusClosed, true},
		{"close after payment", StatusPaymentPending, StatusClosed, true},
		{"cancel mid work", StatusWorkInProgress, StatusCancelled, true},

		{"no skipping to work", StatusCreated, StatusWorkInProgress, false},
		{"no reopening closed", StatusClosed, StatusCreated, false},
		{"no cancelling closed", StatusClosed, StatusCancelled, false},
		{"no uncancelling", StatusCancelled, StatusCreated, false},
		{"no cancel after completion", StatusWorkCompleted, StatusCancelled, false},
		{"no backwards from arrived", StatusVendorArrived, StatusCreated, false},
		{"no self transition", StatusCreated, StatusCreated, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to))
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusClosed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())

	for _, s := range []Status{
		StatusCreated, StatusVendorAssigned, StatusVendorEnRoute,
		StatusVendorArrived, StatusWorkInProgress, StatusWorkCompleted, StatusPaymentPending,
	} {
		assert.Falsef(t, s.IsTerminal(), "%s must not be terminal", s)
	}
}

func TestServiceTypeValid(t *testing.T) {
	assert.True(t, ServiceTire.Valid())
	assert.True(t, ServiceEngine.Valid())
	assert.True(t, ServiceTow.Valid())
	assert.False(t, ServiceType("helicopter").Valid())
	assert.False(t, ServiceType("").Valid())
}
