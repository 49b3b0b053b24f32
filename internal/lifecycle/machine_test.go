package lifecycle

import (
	"testing"

	"mentorbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHappyPath(t *testing.T) {
	state := models.StatusRequested

	state, err := Next(1, state, EventReserveSucceeded)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingPayment, state)

	state, err = Next(1, state, EventPaymentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, state)

	state, err = Next(1, state, EventSessionElapsed)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, state)
	assert.True(t, IsTerminal(state))
}

func TestPaymentFailureCancels(t *testing.T) {
	state, err := Next(1, models.StatusPendingPayment, EventPaymentFailed)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, state)
}

func TestCancelReachableStates(t *testing.T) {
	for _, from := range []string{models.StatusRequested, models.StatusPendingPayment, models.StatusConfirmed} {
		state, err := Next(1, from, EventCancel)
		require.NoError(t, err, "cancel from %s", from)
		assert.Equal(t, models.StatusCancelled, state)
	}
}

// TestTransitionTableIsExhaustive walks every (state, event) pair: the pairs
// in the table transition, every other pair is rejected with
// InvalidTransitionError and an unchanged state.
func TestTransitionTableIsExhaustive(t *testing.T) {
	allowed := map[string]map[Event]string{
		models.StatusRequested: {
			EventReserveSucceeded: models.StatusPendingPayment,
			EventCancel:           models.StatusCancelled,
		},
		models.StatusPendingPayment: {
			EventPaymentConfirmed: models.StatusConfirmed,
			EventPaymentFailed:    models.StatusCancelled,
			EventCancel:           models.StatusCancelled,
		},
		models.StatusConfirmed: {
			EventSessionElapsed: models.StatusCompleted,
			EventCancel:         models.StatusCancelled,
		},
		models.StatusCompleted: {},
		models.StatusCancelled: {},
	}

	for _, state := range States() {
		for _, event := range Events() {
			want, ok := allowed[state][event]
			got, err := Next(7, state, event)

			if ok {
				require.NoError(t, err, "state=%s event=%s", state, event)
				assert.Equal(t, want, got)
				continue
			}

			require.Error(t, err, "state=%s event=%s must be rejected", state, event)
			var invalid *InvalidTransitionError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, state, invalid.From)
			assert.Equal(t, event, invalid.Event)
			assert.Equal(t, int64(7), invalid.BookingID)
			assert.Empty(t, got, "rejected transition returns no state")
		}
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, IsTerminal(models.StatusCompleted))
	assert.True(t, IsTerminal(models.StatusCancelled))
	assert.False(t, IsTerminal(models.StatusRequested))
	assert.False(t, IsTerminal(models.StatusPendingPayment))
	assert.False(t, IsTerminal(models.StatusConfirmed))
}

func TestUnknownEvent(t *testing.T) {
	_, err := Next(1, models.StatusRequested, Event("refund"))
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}
