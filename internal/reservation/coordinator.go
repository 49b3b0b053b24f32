package reservation

import (
	"context"
	"fmt"
	"time"

	"mentorbook/internal/domain"
	"mentorbook/internal/metrics"
	"mentorbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BookingOverlapSource reports the durable side of the conflict check:
// bookings in pending_payment or confirmed state for an owner.
type BookingOverlapSource interface {
	FindOverlappingBooking(ctx context.Context, mentorID string, start, end time.Time) (*models.Booking, error)
}

// Coordinator hands out reservation holds with at-most-one-winner semantics
// per overlapping range and owner. The check-and-insert runs under the
// owner's stripe lock, so two concurrent requests for the same mentor
// serialize while unrelated mentors proceed in parallel. The gateway is never
// called inside that critical section.
type Coordinator struct {
	table    *Table
	bookings BookingOverlapSource
	clock    domain.Clock
	holdTTL  time.Duration
	logger   *zerolog.Logger
}

func NewCoordinator(table *Table, bookings BookingOverlapSource, clk domain.Clock, holdTTL time.Duration, logger *zerolog.Logger) *Coordinator {
	if holdTTL <= 0 {
		holdTTL = models.DefaultHoldTTLMinutes * time.Minute
	}
	return &Coordinator{
		table:    table,
		bookings: bookings,
		clock:    clk,
		holdTTL:  holdTTL,
		logger:   logger,
	}
}

// Reserve atomically claims [start, end) for the mentor. Expired holds on the
// same owner are swept before the check, so a stale hold never blocks a new
// request. Conflicts with live holds or with pending/confirmed bookings fail
// with SlotConflictError naming the colliding range.
func (c *Coordinator) Reserve(ctx context.Context, mentorID string, start, end time.Time, requestedBy string) (*models.ReservationHold, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("reserve: start %s is not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	now := c.clock.Now()

	var (
		hold        *models.ReservationHold
		conflictErr *SlotConflictError
	)

	c.table.withOwner(mentorID, func(holds map[string]*models.ReservationHold) {
		sweepOwnerLocked(holds, now, func(h *models.ReservationHold) {
			c.table.owners.Delete(h.ID)
		})

		for _, h := range holds {
			if models.RangesOverlap(start, end, h.Start, h.End) {
				conflictErr = &SlotConflictError{
					MentorID:      mentorID,
					Start:         start,
					End:           end,
					ConflictStart: h.Start,
					ConflictEnd:   h.End,
				}
				return
			}
		}

		// The durable check stays inside the critical section: the sqlite
		// lookup is local and never blocks on the network.
		existing, err := c.bookings.FindOverlappingBooking(ctx, mentorID, start, end)
		if err != nil {
			c.logger.Error().Err(err).Str("mentor_id", mentorID).Msg("overlap lookup failed")
			return
		}
		if existing != nil {
			conflictErr = &SlotConflictError{
				MentorID:      mentorID,
				Start:         start,
				End:           end,
				ConflictStart: existing.Start,
				ConflictEnd:   existing.End,
			}
			return
		}

		hold = &models.ReservationHold{
			ID:          uuid.New().String(),
			MentorID:    mentorID,
			Start:       start,
			End:         end,
			RequestedBy: requestedBy,
			ExpiresAt:   now.Add(c.holdTTL),
			CreatedAt:   now,
		}
		holds[hold.ID] = hold
	})

	if conflictErr != nil {
		metrics.IncReservation("conflict")
		return nil, conflictErr
	}
	if hold == nil {
		metrics.IncReservation("error")
		return nil, fmt.Errorf("reserve: overlap lookup failed for mentor %s", mentorID)
	}

	c.table.owners.Store(hold.ID, hold.MentorID)
	metrics.IncReservation("granted")
	c.logger.Debug().
		Str("hold_id", hold.ID).
		Str("mentor_id", mentorID).
		Time("start", start).
		Time("end", end).
		Msg("hold acquired")
	return hold, nil
}

// AttachBooking binds an acquired hold to its booking record so payment
// reconciliation can find it later.
func (c *Coordinator) AttachBooking(holdID string, bookingID int64) error {
	owner, ok := c.table.owners.Load(holdID)
	if !ok {
		return &HoldExpiredError{HoldID: holdID}
	}

	attached := false
	c.table.withOwner(owner.(string), func(holds map[string]*models.ReservationHold) {
		if h, ok := holds[holdID]; ok {
			h.BookingID = bookingID
			attached = true
		}
	})
	if !attached {
		return &HoldExpiredError{HoldID: holdID}
	}
	return nil
}

// Commit consumes the hold once payment confirmed; the durable booking row
// takes over as the overlap guard from here on. A hold that expired or was
// released in the meantime fails with HoldExpiredError so late payment
// signals cannot silently re-reserve the slot.
func (c *Coordinator) Commit(holdID string) error {
	_, live := c.table.take(holdID, c.clock.Now())
	if !live {
		return &HoldExpiredError{HoldID: holdID}
	}

	c.logger.Debug().Str("hold_id", holdID).Msg("hold committed")
	return nil
}

// Release drops the hold, freeing the slot. It is idempotent: releasing a
// hold that was already released or committed is a no-op.
func (c *Coordinator) Release(holdID string) {
	c.table.remove(holdID)
}

// SweepExpired runs the table-wide safety-net sweep and reports how many
// holds were dropped.
func (c *Coordinator) SweepExpired() int {
	n := c.table.SweepExpired(c.clock.Now())
	if n > 0 {
		c.logger.Info().Int("expired", n).Msg("expired holds swept")
	}
	return n
}
