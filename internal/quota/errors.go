package quota

import "fmt"

// QuotaExceededError is the expected denial: the feature's ceiling for the
// current period is spent. It carries the limiting period so callers can tell
// the user when capacity returns.
type QuotaExceededError struct {
	UserID    string
	Feature   string
	PeriodKey string
	Ceiling   int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for user %s: feature %s is limited to %d per period %s",
		e.UserID, e.Feature, e.Ceiling, e.PeriodKey)
}
