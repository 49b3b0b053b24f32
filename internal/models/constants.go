package models

const (
	StatusRequested      = "requested"
	StatusPendingPayment = "pending_payment"
	StatusConfirmed      = "confirmed"
	StatusCompleted      = "completed"
	StatusCancelled      = "cancelled"
)

const (
	TxStatusCreated   = "created"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
	TxStatusExpired   = "expired"
)

const (
	RecurrenceNone   = "none"
	RecurrenceDaily  = "daily"
	RecurrenceWeekly = "weekly"
)

const (
	// FeatureBookingRequest gates how many booking attempts a learner may start per day.
	FeatureBookingRequest = "booking_request"

	// FeatureInstantBooking gates the premium skip-the-queue booking flow per month.
	FeatureInstantBooking = "instant_booking"
)

const (
	// DefaultHoldTTLMinutes matches the payment gateway's checkout intent lifetime.
	DefaultHoldTTLMinutes = 15

	// DefaultSweepIntervalSeconds is the periodic safety-net sweep for expired holds.
	DefaultSweepIntervalSeconds = 60

	// DefaultCompletionIntervalSeconds is how often elapsed confirmed sessions are promoted.
	DefaultCompletionIntervalSeconds = 300

	// DefaultMaxAdvanceDays bounds how far ahead availability may be queried.
	DefaultMaxAdvanceDays = 90
)
