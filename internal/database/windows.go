package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mentorbook/internal/models"
)

func (s *Store) CreateWindow(ctx context.Context, w *models.AvailabilityWindow) error {
	query := `INSERT INTO availability_windows (
				mentor_id, start_at, end_at, recurrence, recurrence_end, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	recurrence := w.Recurrence
	if recurrence == "" {
		recurrence = models.RecurrenceNone
	}

	var recurrenceEnd interface{}
	if !w.RecurrenceEnd.IsZero() {
		recurrenceEnd = w.RecurrenceEnd.UTC()
	}

	result, err := s.ExecContext(ctx, query,
		w.MentorID,
		w.Start.UTC(),
		w.End.UTC(),
		recurrence,
		recurrenceEnd,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	w.ID = id
	w.Recurrence = recurrence
	w.CreatedAt = now
	w.UpdatedAt = now
	return nil
}

func (s *Store) GetWindow(ctx context.Context, id int64) (*models.AvailabilityWindow, error) {
	query := `SELECT id, mentor_id, start_at, end_at, recurrence, recurrence_end, created_at, updated_at
	          FROM availability_windows WHERE id = ?`

	var w models.AvailabilityWindow
	var recurrenceEnd sql.NullTime
	err := s.QueryRowContext(ctx, query, id).Scan(
		&w.ID, &w.MentorID, &w.Start, &w.End, &w.Recurrence, &recurrenceEnd, &w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get window: %w", err)
	}
	if recurrenceEnd.Valid {
		w.RecurrenceEnd = recurrenceEnd.Time
	}
	return &w, nil
}

func (s *Store) GetWindowsByMentor(ctx context.Context, mentorID string) ([]*models.AvailabilityWindow, error) {
	query := `SELECT id, mentor_id, start_at, end_at, recurrence, recurrence_end, created_at, updated_at
	          FROM availability_windows WHERE mentor_id = ? ORDER BY start_at ASC`

	rows, err := s.QueryContext(ctx, query, mentorID)
	if err != nil {
		return nil, fmt.Errorf("failed to get windows by mentor: %w", err)
	}
	defer rows.Close()

	var windows []*models.AvailabilityWindow
	for rows.Next() {
		w := &models.AvailabilityWindow{}
		var recurrenceEnd sql.NullTime
		err := rows.Scan(&w.ID, &w.MentorID, &w.Start, &w.End, &w.Recurrence, &recurrenceEnd, &w.CreatedAt, &w.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan window: %w", err)
		}
		if recurrenceEnd.Valid {
			w.RecurrenceEnd = recurrenceEnd.Time
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

func (s *Store) UpdateWindow(ctx context.Context, w *models.AvailabilityWindow) error {
	query := `UPDATE availability_windows
	          SET start_at = ?, end_at = ?, recurrence = ?, recurrence_end = ?, updated_at = ?
	          WHERE id = ?`

	var recurrenceEnd interface{}
	if !w.RecurrenceEnd.IsZero() {
		recurrenceEnd = w.RecurrenceEnd.UTC()
	}

	result, err := s.ExecContext(ctx, query,
		w.Start.UTC(), w.End.UTC(), w.Recurrence, recurrenceEnd, time.Now().UTC(), w.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update window: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
