package models

import "time"

// Slot is one concrete bookable time range derived from a window. Slots are
// computed, never persisted; a reserved slot is referenced by the identity
// (mentor_id, start, end).
type Slot struct {
	MentorID string    `json:"mentor_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// Contains reports whether [start, end) lies fully inside the slot.
func (s Slot) Contains(start, end time.Time) bool {
	return !start.Before(s.Start) && !end.After(s.End)
}

// RangesOverlap reports half-open interval overlap: start1 < end2 && start2 < end1.
func RangesOverlap(start1, end1, start2, end2 time.Time) bool {
	return start1.Before(end2) && start2.Before(end1)
}
