package reservation

import (
	"fmt"
	"time"
)

// SlotConflictError is the expected, frequent outcome of racing for a taken
// slot. It names the colliding range so the caller can render "pick another
// time" precisely.
type SlotConflictError struct {
	MentorID      string
	Start         time.Time
	End           time.Time
	ConflictStart time.Time
	ConflictEnd   time.Time
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("slot %s to %s for mentor %s conflicts with existing reservation %s to %s",
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.MentorID,
		e.ConflictStart.Format(time.RFC3339), e.ConflictEnd.Format(time.RFC3339))
}

// HoldExpiredError means a hold was already released, expired or never
// existed when a commit was attempted. Payment signals arriving after expiry
// hit this; the booking stays cancelled and refund handling takes over.
type HoldExpiredError struct {
	HoldID string
}

func (e *HoldExpiredError) Error() string {
	return fmt.Sprintf("reservation hold %s has expired or was released", e.HoldID)
}
