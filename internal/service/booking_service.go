package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"mentorbook/internal/availability"
	"mentorbook/internal/database"
	"mentorbook/internal/domain"
	"mentorbook/internal/events"
	"mentorbook/internal/lifecycle"
	"mentorbook/internal/metrics"
	"mentorbook/internal/models"
	"mentorbook/internal/quota"
	"mentorbook/internal/reservation"

	"github.com/rs/zerolog"
)

var (
	// ErrOutsideAvailability is returned when a requested range is not fully
	// inside any offered slot of the mentor.
	ErrOutsideAvailability = errors.New("requested range is outside the mentor's availability")

	// ErrRangeTooFarAhead is returned when a query or booking exceeds the
	// advance-booking horizon.
	ErrRangeTooFarAhead = errors.New("requested range exceeds the booking horizon")
)

// BookingRequest carries everything needed to start a booking attempt.
type BookingRequest struct {
	LearnerID     string
	MentorID      string
	Start         time.Time
	End           time.Time
	PriceCents    int64
	Currency      string
	PaymentMethod string
	Instant       bool
}

// BookingService wires availability, quota gating, slot reservation, the
// payment gateway and the durable store into the booking flow. All state
// transitions go through the lifecycle table.
type BookingService struct {
	repo        domain.Repository
	coordinator *reservation.Coordinator
	gate        *quota.Gate
	gateway     domain.PaymentGateway
	bus         domain.EventPublisher
	clock       domain.Clock
	maxAdvance  time.Duration
	logger      *zerolog.Logger
}

func NewBookingService(
	repo domain.Repository,
	coordinator *reservation.Coordinator,
	gate *quota.Gate,
	gateway domain.PaymentGateway,
	bus domain.EventPublisher,
	clk domain.Clock,
	maxAdvanceDays int,
	logger *zerolog.Logger,
) *BookingService {
	if maxAdvanceDays <= 0 {
		maxAdvanceDays = models.DefaultMaxAdvanceDays
	}
	return &BookingService{
		repo:        repo,
		coordinator: coordinator,
		gate:        gate,
		gateway:     gateway,
		bus:         bus,
		clock:       clk,
		maxAdvance:  time.Duration(maxAdvanceDays) * 24 * time.Hour,
		logger:      logger,
	}
}

// CreateWindow validates and persists a mentor's availability window.
func (s *BookingService) CreateWindow(ctx context.Context, w *models.AvailabilityWindow) error {
	if err := availability.Validate(*w); err != nil {
		return err
	}
	return s.repo.CreateWindow(ctx, w)
}

// MentorSlots expands the mentor's windows into concrete bookable slots over
// [from, to), clamped to the advance-booking horizon.
func (s *BookingService) MentorSlots(ctx context.Context, mentorID string, from, to time.Time) ([]models.Slot, error) {
	now := s.clock.Now()
	horizon := now.Add(s.maxAdvance)

	if from.Before(now) {
		from = now
	}
	if to.After(horizon) {
		to = horizon
	}
	if !from.Before(to) {
		return nil, nil
	}

	windows, err := s.repo.GetWindowsByMentor(ctx, mentorID)
	if err != nil {
		return nil, err
	}
	return availability.ExpandAll(windows, from, to)
}

// RequestBooking runs the full attempt: quota gate, atomic slot reservation,
// durable booking row, then the payment intent. The hold is acquired before
// the gateway call and every later failure compensates in reverse order, so a
// learner is never charged for a slot that was not reserved.
func (s *BookingService) RequestBooking(ctx context.Context, req BookingRequest) (*models.Booking, *domain.PaymentIntent, error) {
	if !req.Start.Before(req.End) {
		return nil, nil, fmt.Errorf("booking start %s is not before end %s",
			req.Start.Format(time.RFC3339), req.End.Format(time.RFC3339))
	}
	now := s.clock.Now()
	if req.Start.Before(now) {
		return nil, nil, fmt.Errorf("booking start %s is in the past", req.Start.Format(time.RFC3339))
	}
	if req.End.After(now.Add(s.maxAdvance)) {
		return nil, nil, ErrRangeTooFarAhead
	}

	windows, err := s.repo.GetWindowsByMentor(ctx, req.MentorID)
	if err != nil {
		return nil, nil, err
	}
	covered, err := availability.Covers(windows, req.Start, req.End)
	if err != nil {
		return nil, nil, err
	}
	if !covered {
		return nil, nil, ErrOutsideAvailability
	}

	feature := models.FeatureBookingRequest
	if req.Instant {
		feature = models.FeatureInstantBooking
	}
	if _, err := s.gate.TryConsume(ctx, req.LearnerID, feature); err != nil {
		return nil, nil, err
	}

	hold, err := s.coordinator.Reserve(ctx, req.MentorID, req.Start, req.End, req.LearnerID)
	if err != nil {
		s.releaseQuota(ctx, req.LearnerID, feature)
		return nil, nil, err
	}

	booking := &models.Booking{
		LearnerID:     req.LearnerID,
		MentorID:      req.MentorID,
		Start:         req.Start,
		End:           req.End,
		PriceCents:    req.PriceCents,
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		Status:        models.StatusRequested,
		HoldID:        hold.ID,
	}
	if err := s.repo.CreateBooking(ctx, booking); err != nil {
		s.coordinator.Release(hold.ID)
		s.releaseQuota(ctx, req.LearnerID, feature)
		return nil, nil, err
	}

	next, err := lifecycle.Next(booking.ID, booking.Status, lifecycle.EventReserveSucceeded)
	if err != nil {
		return nil, nil, s.abortAttempt(ctx, booking, feature, err)
	}
	if err := s.repo.UpdateBookingStatusWithVersion(ctx, booking.ID, booking.Version, next); err != nil {
		return nil, nil, s.abortAttempt(ctx, booking, feature, err)
	}
	booking.Status = next
	booking.Version++

	if err := s.coordinator.AttachBooking(hold.ID, booking.ID); err != nil {
		return nil, nil, s.abortAttempt(ctx, booking, feature, err)
	}

	intent, err := s.gateway.CreateIntent(ctx, req.PriceCents, req.Currency, map[string]string{
		"booking_id": strconv.FormatInt(booking.ID, 10),
		"learner_id": req.LearnerID,
		"mentor_id":  req.MentorID,
	})
	if err != nil {
		return nil, nil, s.abortAttempt(ctx, booking, feature, err)
	}

	tx := &models.PaymentTransaction{
		GatewayRef:  intent.GatewayRef,
		BookingID:   booking.ID,
		AmountCents: req.PriceCents,
		Currency:    req.Currency,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, nil, s.abortAttempt(ctx, booking, feature, err)
	}

	s.publishBooking(events.EventBookingRequested, booking, intent.GatewayRef, false)
	s.logger.Info().
		Int64("booking_id", booking.ID).
		Str("mentor_id", req.MentorID).
		Str("hold_id", hold.ID).
		Str("gateway_ref", intent.GatewayRef).
		Msg("booking requested")
	return booking, intent, nil
}

// abortAttempt unwinds a partially created attempt: the hold is released, the
// booking cancelled and the quota unit given back. The original error is
// returned unchanged.
func (s *BookingService) abortAttempt(ctx context.Context, booking *models.Booking, feature string, cause error) error {
	s.coordinator.Release(booking.HoldID)
	s.releaseQuota(ctx, booking.LearnerID, feature)

	err := s.repo.UpdateBookingStatusWithVersion(ctx, booking.ID, booking.Version, models.StatusCancelled)
	if err != nil && !errors.Is(err, database.ErrConcurrentModification) {
		s.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("failed to cancel aborted booking")
	}

	s.logger.Warn().Err(cause).Int64("booking_id", booking.ID).Msg("booking attempt aborted")
	return cause
}

func (s *BookingService) releaseQuota(ctx context.Context, userID, feature string) {
	if err := s.gate.Release(ctx, userID, feature); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("feature", feature).Msg("failed to release quota unit")
	}
}

// CancelBooking cancels a booking on behalf of either party. Cancelling a
// confirmed booking flags the emitted event for an upstream refund; the core
// never moves money itself.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID int64) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	next, err := lifecycle.Next(booking.ID, booking.Status, lifecycle.EventCancel)
	if err != nil {
		return err
	}
	refundRequired := booking.Status == models.StatusConfirmed

	if err := s.repo.UpdateBookingStatusWithVersion(ctx, booking.ID, booking.Version, next); err != nil {
		return err
	}
	if booking.HoldID != "" {
		s.coordinator.Release(booking.HoldID)
	}

	s.publishBooking(events.EventBookingCancelled, booking, "", refundRequired)
	s.logger.Info().
		Int64("booking_id", booking.ID).
		Bool("refund_required", refundRequired).
		Msg("booking cancelled")
	return nil
}

// CompleteElapsed promotes confirmed bookings whose session end has passed to
// completed. Bookings that lost a version race are skipped; the next run
// picks up whatever is still confirmed.
func (s *BookingService) CompleteElapsed(ctx context.Context) (int, error) {
	elapsed, err := s.repo.ListElapsedConfirmed(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, booking := range elapsed {
		next, err := lifecycle.Next(booking.ID, booking.Status, lifecycle.EventSessionElapsed)
		if err != nil {
			s.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("unexpected state in elapsed scan")
			continue
		}

		err = s.repo.UpdateBookingStatusWithVersion(ctx, booking.ID, booking.Version, next)
		if errors.Is(err, database.ErrConcurrentModification) {
			continue
		}
		if err != nil {
			return completed, err
		}

		completed++
		metrics.IncBookingCompleted()
		s.publishBooking(events.EventBookingCompleted, booking, "", false)
	}

	if completed > 0 {
		s.logger.Info().Int("completed", completed).Msg("elapsed sessions promoted")
	}
	return completed, nil
}

// LearnerBookings lists a learner's bookings, newest session first.
func (s *BookingService) LearnerBookings(ctx context.Context, learnerID string) ([]*models.Booking, error) {
	return s.repo.GetLearnerBookings(ctx, learnerID)
}

func (s *BookingService) publishBooking(eventType string, b *models.Booking, gatewayRef string, refund bool) {
	if s.bus == nil {
		return
	}
	status := b.Status
	switch eventType {
	case events.EventBookingCancelled:
		status = models.StatusCancelled
	case events.EventBookingCompleted:
		status = models.StatusCompleted
	}
	err := s.bus.PublishJSON(eventType, events.BookingEventPayload{
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
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to publish booking event")
	}
}
