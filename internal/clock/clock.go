package clock

import "time"

// System is the wall-clock implementation of domain.Clock.
type System struct{}

func (System) Now() time.Time {
	return time.Now()
}
