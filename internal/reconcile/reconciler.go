package reconcile

import (
	"context"
	"errors"
	"fmt"

	"mentorbook/internal/database"
	"mentorbook/internal/domain"
	"mentorbook/internal/events"
	"mentorbook/internal/lifecycle"
	"mentorbook/internal/metrics"
	"mentorbook/internal/models"
	"mentorbook/internal/reservation"

	"github.com/rs/zerolog"
)

// HoldCommitter is the slice of the reservation coordinator the reconciler
// needs: consume a hold on success, free it on failure.
type HoldCommitter interface {
	Commit(holdID string) error
	Release(holdID string)
}

// Reconciler applies asynchronous payment gateway signals to bookings.
// Signals arrive at-least-once and out of order, so every path here is
// idempotent: a replayed signal that finds its transaction already settled in
// the matching state is a logged no-op, and versioned booking updates resolve
// races against concurrent cancellation.
type Reconciler struct {
	repo   domain.Repository
	holds  HoldCommitter
	bus    domain.EventPublisher
	logger *zerolog.Logger
}

func NewReconciler(repo domain.Repository, holds HoldCommitter, bus domain.EventPublisher, logger *zerolog.Logger) *Reconciler {
	return &Reconciler{repo: repo, holds: holds, bus: bus, logger: logger}
}

// OnPaymentSucceeded processes a successful payment signal for the given
// gateway reference. On the first delivery it commits the reservation hold,
// confirms the booking and marks the transaction completed. If the hold
// expired before the signal arrived, the booking is cancelled instead and the
// caller gets an error naming the expired hold, so the payment can be
// refunded upstream.
func (r *Reconciler) OnPaymentSucceeded(ctx context.Context, gatewayRef string) error {
	tx, err := r.repo.GetTransactionByRef(ctx, gatewayRef)
	if errors.Is(err, database.ErrNotFound) {
		metrics.IncPaymentSignal("success", "unknown")
		return &UnknownTransactionError{GatewayRef: gatewayRef}
	}
	if err != nil {
		return err
	}

	if tx.Status == models.TxStatusCompleted {
		r.logger.Info().Str("gateway_ref", gatewayRef).Msg("success signal replayed, already settled")
		metrics.IncPaymentSignal("success", "replay")
		return nil
	}

	booking, err := r.repo.GetBooking(ctx, tx.BookingID)
	if err != nil {
		return fmt.Errorf("reconcile: booking %d for ref %s: %w", tx.BookingID, gatewayRef, err)
	}

	switch booking.Status {
	case models.StatusConfirmed, models.StatusCompleted:
		// Booking already settled, the transaction row just lagged behind.
		if err := r.repo.UpdateTransactionStatus(ctx, tx.ID, models.TxStatusCompleted); err != nil {
			return err
		}
		metrics.IncPaymentSignal("success", "replay")
		return nil

	case models.StatusCancelled:
		// Payment landed after the booking was cancelled and its hold freed.
		// The slot may already belong to someone else; never re-reserve it.
		if tx.Status != models.TxStatusExpired {
			if err := r.repo.UpdateTransactionStatus(ctx, tx.ID, models.TxStatusExpired); err != nil {
				return err
			}
			r.publishBooking(events.EventBookingCancelled, booking, booking.Status, tx.GatewayRef, true)
		}
		metrics.IncPaymentSignal("success", "late")
		return &reservation.HoldExpiredError{HoldID: booking.HoldID}

	case models.StatusPendingPayment:
		return r.confirmPending(ctx, booking, tx)

	default:
		return &lifecycle.InvalidTransitionError{
			BookingID: booking.ID,
			From:      booking.Status,
			Event:     lifecycle.EventPaymentConfirmed,
		}
	}
}

func (r *Reconciler) confirmPending(ctx context.Context, booking *models.Booking, tx *models.PaymentTransaction) error {
	if err := r.holds.Commit(booking.HoldID); err != nil {
		var expired *reservation.HoldExpiredError
		if !errors.As(err, &expired) {
			return err
		}
		return r.cancelOnExpiredHold(ctx, booking, tx, expired)
	}

	next, err := lifecycle.Next(booking.ID, booking.Status, lifecycle.EventPaymentConfirmed)
	if err != nil {
		return err
	}

	err = r.repo.UpdateBookingStatusWithVersion(ctx, booking.ID, booking.Version, next)
	if errors.Is(err, database.ErrConcurrentModification) {
		return r.resolveSuccessRace(ctx, booking.ID, tx)
	}
	if err != nil {
		return err
	}

	if err := r.repo.UpdateTransactionStatus(ctx, tx.ID, models.TxStatusCompleted); err != nil {
		return err
	}

	r.publishBooking(events.EventBookingConfirmed, booking, next, tx.GatewayRef, false)
	metrics.IncPaymentSignal("success", "applied")
	r.logger.Info().
		Int64("booking_id", booking.ID).
		Str("gateway_ref", tx.GatewayRef).
		Msg("booking confirmed")
	return nil
}

// cancelOnExpiredHold settles a success signal that arrived after the hold's
// TTL ran out. The booking is cancelled, the transaction marked expired, and
// the expiry error propagates so the webhook layer can flag the refund.
func (r *Reconciler) cancelOnExpiredHold(ctx context.Context, booking *models.Booking, tx *models.PaymentTransaction, expired *reservation.HoldExpiredError) error {
	next, err := lifecycle.Next(booking.ID, booking.Status, lifecycle.EventCancel)
	if err != nil {
		return err
	}

	err = r.repo.UpdateBookingStatusWithVersion(ctx, booking.ID, booking.Version, next)
	if errors.Is(err, database.ErrConcurrentModification) {
		// Someone else already moved the booking; the hold stays gone either way.
		if raceErr := r.resolveSuccessRace(ctx, booking.ID, tx); raceErr != nil {
			return raceErr
		}
		return expired
	}
	if err != nil {
		return err
	}

	if err := r.repo.UpdateTransactionStatus(ctx, tx.ID, models.TxStatusExpired); err != nil {
		return err
	}

	r.publishBooking(events.EventBookingCancelled, booking, next, tx.GatewayRef, true)
	metrics.IncPaymentSignal("success", "hold_expired")
	r.logger.Warn().
		Int64("booking_id", booking.ID).
		Str("hold_id", expired.HoldID).
		Str("gateway_ref", tx.GatewayRef).
		Msg("payment arrived after hold expiry, booking cancelled")
	return expired
}

// OnPaymentFailedOrExpired processes a failed or expired payment signal:
// the booking is cancelled, its hold released so the slot frees immediately,
// and the transaction marked with the given terminal status (failed or
// expired). Replays and signals for already-settled bookings are no-ops.
func (r *Reconciler) OnPaymentFailedOrExpired(ctx context.Context, gatewayRef, txStatus string) error {
	if txStatus != models.TxStatusFailed && txStatus != models.TxStatusExpired {
		return fmt.Errorf("reconcile: %q is not a failure status", txStatus)
	}

	tx, err := r.repo.GetTransactionByRef(ctx, gatewayRef)
	if errors.Is(err, database.ErrNotFound) {
		metrics.IncPaymentSignal("failure", "unknown")
		return &UnknownTransactionError{GatewayRef: gatewayRef}
	}
	if err != nil {
		return err
	}

	if tx.Terminal() {
		r.logger.Info().
			Str("gateway_ref", gatewayRef).
			Str("status", tx.Status).
			Msg("failure signal replayed, already settled")
		metrics.IncPaymentSignal("failure", "replay")
		return nil
	}

	booking, err := r.repo.GetBooking(ctx, tx.BookingID)
	if err != nil {
		return fmt.Errorf("reconcile: booking %d for ref %s: %w", tx.BookingID, gatewayRef, err)
	}

	if booking.Status != models.StatusPendingPayment {
		// Cancelled out of band, or confirmed by an earlier success signal.
		// Settle the transaction row and leave the booking alone.
		if err := r.repo.UpdateTransactionStatus(ctx, tx.ID, txStatus); err != nil {
			return err
		}
		metrics.IncPaymentSignal("failure", "replay")
		return nil
	}

	next, err := lifecycle.Next(booking.ID, booking.Status, lifecycle.EventPaymentFailed)
	if err != nil {
		return err
	}

	err = r.repo.UpdateBookingStatusWithVersion(ctx, booking.ID, booking.Version, next)
	if errors.Is(err, database.ErrConcurrentModification) {
		return r.resolveFailureRace(ctx, booking.ID, tx, txStatus)
	}
	if err != nil {
		return err
	}

	r.holds.Release(booking.HoldID)

	if err := r.repo.UpdateTransactionStatus(ctx, tx.ID, txStatus); err != nil {
		return err
	}

	r.publishBooking(events.EventBookingCancelled, booking, next, tx.GatewayRef, false)
	metrics.IncPaymentSignal("failure", "applied")
	r.logger.Info().
		Int64("booking_id", booking.ID).
		Str("gateway_ref", tx.GatewayRef).
		Str("tx_status", txStatus).
		Msg("booking cancelled on payment failure")
	return nil
}

// resolveSuccessRace re-reads a booking whose confirm update lost a versioned
// race. A booking that meanwhile confirmed or completed means another worker
// settled the same success signal, so the transaction just catches up. A
// booking that was cancelled in the meantime holds a payment for a slot that
// is gone: the transaction is marked expired and the expiry error surfaces so
// the refund gets flagged instead of the money silently disappearing.
func (r *Reconciler) resolveSuccessRace(ctx context.Context, bookingID int64, tx *models.PaymentTransaction) error {
	current, err := r.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	switch current.Status {
	case models.StatusConfirmed, models.StatusCompleted:
		if err := r.repo.UpdateTransactionStatus(ctx, tx.ID, models.TxStatusCompleted); err != nil {
			return err
		}
		r.logger.Info().
			Int64("booking_id", bookingID).
			Str("status", current.Status).
			Msg("lost settlement race, booking already confirmed")
		metrics.IncPaymentSignal("race", "resolved")
		return nil

	case models.StatusCancelled:
		if err := r.repo.UpdateTransactionStatus(ctx, tx.ID, models.TxStatusExpired); err != nil {
			return err
		}
		r.publishBooking(events.EventBookingCancelled, current, current.Status, tx.GatewayRef, true)
		metrics.IncPaymentSignal("success", "late")
		r.logger.Warn().
			Int64("booking_id", bookingID).
			Str("gateway_ref", tx.GatewayRef).
			Msg("payment raced a cancellation, refund required")
		return &reservation.HoldExpiredError{HoldID: current.HoldID}
	}

	return fmt.Errorf("reconcile: booking %d changed concurrently to %s: %w",
		bookingID, current.Status, database.ErrConcurrentModification)
}

// resolveFailureRace is the failure-signal counterpart. If the cancel lost to
// another cancel, the transaction still settles with the signalled status; if
// a success signal confirmed the booking first, that path owns the
// transaction and the stale failure is a no-op.
func (r *Reconciler) resolveFailureRace(ctx context.Context, bookingID int64, tx *models.PaymentTransaction, txStatus string) error {
	current, err := r.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	switch current.Status {
	case models.StatusConfirmed, models.StatusCompleted:
		metrics.IncPaymentSignal("race", "resolved")
		return nil

	case models.StatusCancelled:
		if err := r.repo.UpdateTransactionStatus(ctx, tx.ID, txStatus); err != nil {
			return err
		}
		metrics.IncPaymentSignal("race", "resolved")
		return nil
	}

	return fmt.Errorf("reconcile: booking %d changed concurrently to %s: %w",
		bookingID, current.Status, database.ErrConcurrentModification)
}

func (r *Reconciler) publishBooking(eventType string, b *models.Booking, status, gatewayRef string, refund bool) {
	if r.bus == nil {
		return
	}
	err := r.bus.PublishJSON(eventType, events.BookingEventPayload{
		BookingID:      b.ID,
		LearnerID:      b.LearnerID,
		MentorID:       b.MentorID,
		Status:         status,
		Start:          b.Start,
		End:            b.End,
		PriceCents:     b.PriceCents,
		Currency:       b.Currency,
		GatewayRef:     gatewayRef,
		RefundRequired: refund,
	})
	if err != nil {
		r.logger.Error().Err(err).Str("event", eventType).Msg("failed to publish booking event")
	}
}
