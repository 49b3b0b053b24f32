package reconcile

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mentorbook/internal/database"
	"mentorbook/internal/events"
	"mentorbook/internal/models"
	"mentorbook/internal/reservation"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHolds struct {
	mu        sync.Mutex
	commitErr error
	committed []string
	released  []string
}

func (f *fakeHolds) Commit(holdID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, holdID)
	return nil
}

func (f *fakeHolds) Release(holdID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, holdID)
}

type fixture struct {
	store   *database.Store
	holds   *fakeHolds
	bus     *events.EventBus
	rec     *Reconciler
	booking *models.Booking
	tx      *models.PaymentTransaction
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	store, err := database.NewStore(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	start := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	booking := &models.Booking{
		LearnerID:     "learner-1",
		MentorID:      "mentor-1",
		Start:         start,
		End:           start.Add(time.Hour),
		PriceCents:    5000,
		Currency:      "USD",
		PaymentMethod: "card",
		Status:        models.StatusPendingPayment,
		HoldID:        "hold-1",
	}
	require.NoError(t, store.CreateBooking(ctx, booking))

	tx := &models.PaymentTransaction{
		GatewayRef:  "cs_test_abc",
		BookingID:   booking.ID,
		AmountCents: 5000,
		Currency:    "USD",
	}
	require.NoError(t, store.CreateTransaction(ctx, tx))

	holds := &fakeHolds{}
	bus := events.NewEventBus()
	return &fixture{
		store:   store,
		holds:   holds,
		bus:     bus,
		rec:     NewReconciler(store, holds, bus, &logger),
		booking: booking,
		tx:      tx,
	}
}

func (f *fixture) collectEvents(eventType string) *[]events.Event {
	var got []events.Event
	f.bus.Subscribe(eventType, func(e *events.Event) error {
		got = append(got, *e)
		return nil
	})
	return &got
}

func TestSuccessSignalConfirmsBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	confirmed := f.collectEvents(events.EventBookingConfirmed)

	require.NoError(t, f.rec.OnPaymentSucceeded(ctx, "cs_test_abc"))

	b, err := f.store.GetBooking(ctx, f.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.Equal(t, int64(2), b.Version)

	tx, err := f.store.GetTransactionByRef(ctx, "cs_test_abc")
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusCompleted, tx.Status)

	assert.Equal(t, []string{"hold-1"}, f.holds.committed)
	assert.Len(t, *confirmed, 1)
}

func TestSuccessSignalReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	confirmed := f.collectEvents(events.EventBookingConfirmed)

	require.NoError(t, f.rec.OnPaymentSucceeded(ctx, "cs_test_abc"))
	require.NoError(t, f.rec.OnPaymentSucceeded(ctx, "cs_test_abc"))

	b, err := f.store.GetBooking(ctx, f.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.Equal(t, int64(2), b.Version, "replay must not touch the booking again")
	assert.Len(t, *confirmed, 1, "replay publishes no second event")
	assert.Len(t, f.holds.committed, 1)
}

func TestUnknownGatewayRef(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var unknown *UnknownTransactionError
	err := f.rec.OnPaymentSucceeded(ctx, "cs_never_created")
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "cs_never_created", unknown.GatewayRef)

	err = f.rec.OnPaymentFailedOrExpired(ctx, "cs_never_created", models.TxStatusFailed)
	assert.ErrorAs(t, err, &unknown)
}

func TestSuccessAfterHoldExpiryCancels(t *testing.T) {
	f := newFixture(t)
	f.holds.commitErr = &reservation.HoldExpiredError{HoldID: "hold-1"}
	ctx := context.Background()
	cancelled := f.collectEvents(events.EventBookingCancelled)

	var expired *reservation.HoldExpiredError
	err := f.rec.OnPaymentSucceeded(ctx, "cs_test_abc")
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, "hold-1", expired.HoldID)

	b, err := f.store.GetBooking(ctx, f.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, b.Status)

	tx, err := f.store.GetTransactionByRef(ctx, "cs_test_abc")
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusExpired, tx.Status, "late payment needs an upstream refund")

	assert.Len(t, *cancelled, 1)
}

func TestSuccessForCancelledBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cancelled := f.collectEvents(events.EventBookingCancelled)
	require.NoError(t, f.store.UpdateBookingStatusWithVersion(ctx, f.booking.ID, 1, models.StatusCancelled))

	var expired *reservation.HoldExpiredError
	err := f.rec.OnPaymentSucceeded(ctx, "cs_test_abc")
	require.ErrorAs(t, err, &expired)

	tx, err := f.store.GetTransactionByRef(ctx, "cs_test_abc")
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusExpired, tx.Status)

	require.Len(t, *cancelled, 1)
	var payload events.BookingEventPayload
	require.NoError(t, json.Unmarshal((*cancelled)[0].Payload, &payload))
	assert.True(t, payload.RefundRequired)

	// Redelivery keeps the same outcome without a second event.
	err = f.rec.OnPaymentSucceeded(ctx, "cs_test_abc")
	require.ErrorAs(t, err, &expired)
	assert.Len(t, *cancelled, 1)
}

// racingStore injects a concurrent cancellation between the reconciler's read
// and its versioned update, so the first status update always loses the race.
type racingStore struct {
	*database.Store
	raced atomic.Bool
}

func (s *racingStore) UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error {
	if s.raced.CompareAndSwap(false, true) {
		if err := s.Store.UpdateBookingStatusWithVersion(ctx, id, fromVersion, models.StatusCancelled); err != nil {
			return err
		}
	}
	return s.Store.UpdateBookingStatusWithVersion(ctx, id, fromVersion, status)
}

func TestSuccessSignalLosingCancelRaceFlagsRefund(t *testing.T) {
	f := newFixture(t)
	logger := zerolog.Nop()
	rec := NewReconciler(&racingStore{Store: f.store}, f.holds, f.bus, &logger)
	ctx := context.Background()
	cancelled := f.collectEvents(events.EventBookingCancelled)

	var expired *reservation.HoldExpiredError
	err := rec.OnPaymentSucceeded(ctx, "cs_test_abc")
	require.ErrorAs(t, err, &expired, "a paid-for cancelled booking must surface, not ack silently")

	b, err := f.store.GetBooking(ctx, f.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, b.Status)

	tx, err := f.store.GetTransactionByRef(ctx, "cs_test_abc")
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusExpired, tx.Status, "the transaction settles terminal")

	require.Len(t, *cancelled, 1)
	var payload events.BookingEventPayload
	require.NoError(t, json.Unmarshal((*cancelled)[0].Payload, &payload))
	assert.True(t, payload.RefundRequired, "the learner paid, the refund must be flagged")
}

func TestFailureSignalLosingCancelRaceSettlesTransaction(t *testing.T) {
	f := newFixture(t)
	logger := zerolog.Nop()
	rec := NewReconciler(&racingStore{Store: f.store}, f.holds, f.bus, &logger)
	ctx := context.Background()

	require.NoError(t, rec.OnPaymentFailedOrExpired(ctx, "cs_test_abc", models.TxStatusFailed))

	tx, err := f.store.GetTransactionByRef(ctx, "cs_test_abc")
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusFailed, tx.Status)
}

func TestFailureSignalCancelsAndReleasesHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cancelled := f.collectEvents(events.EventBookingCancelled)

	require.NoError(t, f.rec.OnPaymentFailedOrExpired(ctx, "cs_test_abc", models.TxStatusFailed))

	b, err := f.store.GetBooking(ctx, f.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, b.Status)

	tx, err := f.store.GetTransactionByRef(ctx, "cs_test_abc")
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusFailed, tx.Status)

	assert.Equal(t, []string{"hold-1"}, f.holds.released, "failed payment frees the slot immediately")
	assert.Len(t, *cancelled, 1)
}

func TestFailureSignalReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.rec.OnPaymentFailedOrExpired(ctx, "cs_test_abc", models.TxStatusFailed))
	require.NoError(t, f.rec.OnPaymentFailedOrExpired(ctx, "cs_test_abc", models.TxStatusFailed))

	assert.Len(t, f.holds.released, 1)
}

func TestFailureAfterSuccessLeavesBookingConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.rec.OnPaymentSucceeded(ctx, "cs_test_abc"))
	require.NoError(t, f.rec.OnPaymentFailedOrExpired(ctx, "cs_test_abc", models.TxStatusExpired))

	b, err := f.store.GetBooking(ctx, f.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status, "stale failure signal never undoes a confirmation")
}

func TestFailureRejectsNonFailureStatus(t *testing.T) {
	f := newFixture(t)
	err := f.rec.OnPaymentFailedOrExpired(context.Background(), "cs_test_abc", models.TxStatusCompleted)
	assert.Error(t, err)
}
