package models

import "time"

// Booking is a learner's claim on a mentor slot. Bookings are only mutated
// through the lifecycle state machine and are never deleted; terminal states
// stay in the store for audit.
type Booking struct {
	ID            int64     `json:"id"`
	LearnerID     string    `json:"learner_id"`
	MentorID      string    `json:"mentor_id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	PriceCents    int64     `json:"price_cents"`
	Currency      string    `json:"currency"`
	PaymentMethod string    `json:"payment_method"`
	Status        string    `json:"status"`
	HoldID        string    `json:"hold_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Version       int64     `json:"version"`
}

// ReservationHold is an ephemeral claim binding (mentor_id, start, end) to a
// booking while payment is pending. Holds exist only in the coordinator's
// table and are deleted on commit or release.
type ReservationHold struct {
	ID          string    `json:"id"`
	MentorID    string    `json:"mentor_id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	RequestedBy string    `json:"requested_by"`
	BookingID   int64     `json:"booking_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Expired reports whether the hold's TTL has passed at the given instant.
func (h *ReservationHold) Expired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}
