package lifecycle

import (
	"fmt"

	"mentorbook/internal/models"
)

// Event is something that happens to a booking.
type Event string

const (
	// EventReserveSucceeded fires when a hold was acquired and a payment
	// intent is about to be requested.
	EventReserveSucceeded Event = "reserve_succeeded"

	// EventPaymentConfirmed fires when the gateway reports a completed payment.
	EventPaymentConfirmed Event = "payment_confirmed"

	// EventPaymentFailed fires when the gateway reports a failed or expired payment.
	EventPaymentFailed Event = "payment_failed"

	// EventSessionElapsed fires when a confirmed session's end time passes.
	EventSessionElapsed Event = "session_elapsed"

	// EventCancel is an explicit cancellation by either party.
	EventCancel Event = "cancel"
)

// InvalidTransitionError marks an integration defect: an event was applied to
// a booking whose state does not allow it. The state is left untouched and
// the error is never coerced into a valid transition.
type InvalidTransitionError struct {
	BookingID int64
	From      string
	Event     Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("booking %d: event %q is not valid in state %q", e.BookingID, e.Event, e.From)
}

// transitions maps event -> allowed source state -> target state.
var transitions = map[Event]map[string]string{
	EventReserveSucceeded: {
		models.StatusRequested: models.StatusPendingPayment,
	},
	EventPaymentConfirmed: {
		models.StatusPendingPayment: models.StatusConfirmed,
	},
	EventPaymentFailed: {
		models.StatusPendingPayment: models.StatusCancelled,
	},
	EventSessionElapsed: {
		models.StatusConfirmed: models.StatusCompleted,
	},
	EventCancel: {
		models.StatusRequested:      models.StatusCancelled,
		models.StatusPendingPayment: models.StatusCancelled,
		models.StatusConfirmed:      models.StatusCancelled,
	},
}

// Next returns the state a booking moves to when the event is applied, or an
// InvalidTransitionError when the (state, event) pair is not in the table.
func Next(bookingID int64, current string, event Event) (string, error) {
	targets, ok := transitions[event]
	if !ok {
		return "", &InvalidTransitionError{BookingID: bookingID, From: current, Event: event}
	}
	next, ok := targets[current]
	if !ok {
		return "", &InvalidTransitionError{BookingID: bookingID, From: current, Event: event}
	}
	return next, nil
}

// IsTerminal reports whether a state admits no further transitions.
func IsTerminal(status string) bool {
	return status == models.StatusCompleted || status == models.StatusCancelled
}

// States lists every lifecycle state, for exhaustive property checks.
func States() []string {
	return []string{
		models.StatusRequested,
		models.StatusPendingPayment,
		models.StatusConfirmed,
		models.StatusCompleted,
		models.StatusCancelled,
	}
}

// Events lists every lifecycle event.
func Events() []Event {
	return []Event{
		EventReserveSucceeded,
		EventPaymentConfirmed,
		EventPaymentFailed,
		EventSessionElapsed,
		EventCancel,
	}
}
