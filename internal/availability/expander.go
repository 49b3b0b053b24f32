package availability

import (
	"fmt"
	"time"

	"mentorbook/internal/models"
)

// InvalidWindowError reports a malformed availability window. Windows failing
// validation are rejected at the edge and never persisted.
type InvalidWindowError struct {
	WindowID int64
	Reason   string
}

func (e *InvalidWindowError) Error() string {
	return fmt.Sprintf("invalid availability window %d: %s", e.WindowID, e.Reason)
}

// Validate checks the window's invariants: a positive time range, a known
// recurrence kind and a recurrence end that does not precede the start.
func Validate(w models.AvailabilityWindow) error {
	if !w.Start.Before(w.End) {
		return &InvalidWindowError{WindowID: w.ID, Reason: "start must be before end"}
	}

	switch w.Recurrence {
	case "", models.RecurrenceNone:
	case models.RecurrenceDaily, models.RecurrenceWeekly:
		if !w.RecurrenceEnd.IsZero() && w.RecurrenceEnd.Before(w.Start) {
			return &InvalidWindowError{WindowID: w.ID, Reason: "recurrence end precedes start"}
		}
	default:
		return &InvalidWindowError{WindowID: w.ID, Reason: fmt.Sprintf("unknown recurrence %q", w.Recurrence)}
	}

	return nil
}

func step(recurrence string) (days int, ok bool) {
	switch recurrence {
	case models.RecurrenceDaily:
		return 1, true
	case models.RecurrenceWeekly:
		return 7, true
	}
	return 0, false
}

// Expand materializes the concrete slots of a window that intersect the query
// range [from, to). Each slot inherits the window's duration. Expansion is
// bounded by the recurrence end date or the query's upper bound, whichever
// comes first, so an open-ended recurrence stays finite. Overlapping windows
// of the same mentor are not merged here; conflicts are the reservation
// coordinator's concern.
func Expand(w models.AvailabilityWindow, from, to time.Time) ([]models.Slot, error) {
	if err := Validate(w); err != nil {
		return nil, err
	}
	if !from.Before(to) {
		return nil, nil
	}

	duration := w.Duration()

	days, recurring := step(w.Recurrence)
	if !recurring {
		if models.RangesOverlap(w.Start, w.End, from, to) {
			return []models.Slot{{MentorID: w.MentorID, Start: w.Start, End: w.End}}, nil
		}
		return nil, nil
	}

	var slots []models.Slot
	for occStart := w.Start; occStart.Before(to); occStart = occStart.AddDate(0, 0, days) {
		if !w.RecurrenceEnd.IsZero() && occStart.After(w.RecurrenceEnd) {
			break
		}
		occEnd := occStart.Add(duration)
		if !occEnd.After(from) {
			continue
		}
		slots = append(slots, models.Slot{MentorID: w.MentorID, Start: occStart, End: occEnd})
	}

	return slots, nil
}

// ExpandAll expands every window over the query range, in input order.
func ExpandAll(windows []*models.AvailabilityWindow, from, to time.Time) ([]models.Slot, error) {
	var slots []models.Slot
	for _, w := range windows {
		expanded, err := Expand(*w, from, to)
		if err != nil {
			return nil, err
		}
		slots = append(slots, expanded...)
	}
	return slots, nil
}

// Covers reports whether the requested [start, end) lies fully inside some
// concrete slot of the given windows.
func Covers(windows []*models.AvailabilityWindow, start, end time.Time) (bool, error) {
	if !start.Before(end) {
		return false, nil
	}
	for _, w := range windows {
		slots, err := Expand(*w, start, end)
		if err != nil {
			return false, err
		}
		for _, s := range slots {
			if s.Contains(start, end) {
				return true, nil
			}
		}
	}
	return false, nil
}
