package models

import "time"

// AvailabilityWindow is a mentor-declared block of availability, possibly
// recurring. Windows are never materialized into stored slots; expansion
// happens on read, bounded by the caller's query range.
type AvailabilityWindow struct {
	ID            int64     `json:"id"`
	MentorID      string    `json:"mentor_id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Recurrence    string    `json:"recurrence"` // none, daily, weekly
	RecurrenceEnd time.Time `json:"recurrence_end,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Duration is the length of a single occurrence.
func (w AvailabilityWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}
