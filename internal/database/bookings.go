package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mentorbook/internal/models"
)

const bookingColumns = `id, learner_id, mentor_id, start_at, end_at, price_cents,
                 currency, payment_method, status, hold_id, created_at, updated_at, version`

func (s *Store) CreateBooking(ctx context.Context, b *models.Booking) error {
	query := `INSERT INTO bookings (
				learner_id, mentor_id, start_at, end_at, price_cents, currency,
				payment_method, status, hold_id, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	result, err := s.ExecContext(ctx, query,
		b.LearnerID,
		b.MentorID,
		b.Start.UTC(),
		b.End.UTC(),
		b.PriceCents,
		b.Currency,
		b.PaymentMethod,
		b.Status,
		b.HoldID,
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	b.ID = id
	b.CreatedAt = now
	b.UpdatedAt = now
	b.Version = 1
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`

	b := &models.Booking{}
	err := s.QueryRowContext(ctx, query, id).Scan(
		&b.ID, &b.LearnerID, &b.MentorID, &b.Start, &b.End, &b.PriceCents,
		&b.Currency, &b.PaymentMethod, &b.Status, &b.HoldID, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// UpdateBookingStatusWithVersion applies a lifecycle transition with
// optimistic concurrency: the update only lands when the version still
// matches, otherwise ErrConcurrentModification is returned and the caller
// re-reads the row.
func (s *Store) UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	result, err := s.ExecContext(ctx, query, status, time.Now().UTC(), id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// FindOverlappingBooking returns a pending_payment or confirmed booking of
// the mentor whose half-open range overlaps [start, end), or nil when the
// range is free. This is the durable half of the reservation conflict check.
func (s *Store) FindOverlappingBooking(ctx context.Context, mentorID string, start, end time.Time) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + `
	          FROM bookings
	          WHERE mentor_id = ? AND status IN (?, ?) AND start_at < ? AND end_at > ?
	          ORDER BY start_at ASC LIMIT 1`

	b := &models.Booking{}
	err := s.QueryRowContext(ctx, query,
		mentorID, models.StatusPendingPayment, models.StatusConfirmed, end.UTC(), start.UTC(),
	).Scan(
		&b.ID, &b.LearnerID, &b.MentorID, &b.Start, &b.End, &b.PriceCents,
		&b.Currency, &b.PaymentMethod, &b.Status, &b.HoldID, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find overlapping booking: %w", err)
	}
	return b, nil
}

func (s *Store) GetBookingsByMentor(ctx context.Context, mentorID string, from, to time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + `
	          FROM bookings
	          WHERE mentor_id = ? AND start_at >= ? AND start_at < ?
	          ORDER BY start_at ASC`

	rows, err := s.QueryContext(ctx, query, mentorID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings by mentor: %w", err)
	}
	defer rows.Close()
	return scanBookings(rows)
}

func (s *Store) GetLearnerBookings(ctx context.Context, learnerID string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + `
	          FROM bookings WHERE learner_id = ? ORDER BY start_at DESC`

	rows, err := s.QueryContext(ctx, query, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get learner bookings: %w", err)
	}
	defer rows.Close()
	return scanBookings(rows)
}

// ListElapsedConfirmed returns confirmed bookings whose session end has
// passed, candidates for promotion to completed.
func (s *Store) ListElapsedConfirmed(ctx context.Context, now time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + `
	          FROM bookings WHERE status = ? AND end_at <= ? ORDER BY end_at ASC`

	rows, err := s.QueryContext(ctx, query, models.StatusConfirmed, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list elapsed bookings: %w", err)
	}
	defer rows.Close()
	return scanBookings(rows)
}

func scanBookings(rows *sql.Rows) ([]*models.Booking, error) {
	var bookings []*models.Booking
	for rows.Next() {
		b := &models.Booking{}
		err := rows.Scan(
			&b.ID, &b.LearnerID, &b.MentorID, &b.Start, &b.End, &b.PriceCents,
			&b.Currency, &b.PaymentMethod, &b.Status, &b.HoldID, &b.CreatedAt, &b.UpdatedAt, &b.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}
