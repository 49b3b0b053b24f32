package domain

import (
	"context"
	"time"

	"mentorbook/internal/models"
)

// Clock is the single time source injected into every expiry and period
// computation so tests can control time deterministically.
type Clock interface {
	Now() time.Time
}

type Repository interface {
	CreateWindow(ctx context.Context, w *models.AvailabilityWindow) error
	GetWindow(ctx context.Context, id int64) (*models.AvailabilityWindow, error)
	GetWindowsByMentor(ctx context.Context, mentorID string) ([]*models.AvailabilityWindow, error)
	UpdateWindow(ctx context.Context, w *models.AvailabilityWindow) error

	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error
	FindOverlappingBooking(ctx context.Context, mentorID string, start, end time.Time) (*models.Booking, error)
	GetBookingsByMentor(ctx context.Context, mentorID string, from, to time.Time) ([]*models.Booking, error)
	GetLearnerBookings(ctx context.Context, learnerID string) ([]*models.Booking, error)
	ListElapsedConfirmed(ctx context.Context, now time.Time) ([]*models.Booking, error)

	CreateTransaction(ctx context.Context, tx *models.PaymentTransaction) error
	GetTransactionByRef(ctx context.Context, gatewayRef string) (*models.PaymentTransaction, error)
	GetActiveTransactionByBooking(ctx context.Context, bookingID int64) (*models.PaymentTransaction, error)
	UpdateTransactionStatus(ctx context.Context, id int64, status string) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// PaymentIntent is the gateway's handle for a created checkout: the reference
// that asynchronous signals are keyed by, plus the URL the learner pays at.
type PaymentIntent struct {
	GatewayRef  string
	CheckoutURL string
}

type PaymentGateway interface {
	CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*PaymentIntent, error)
}
