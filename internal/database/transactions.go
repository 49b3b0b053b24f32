package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mentorbook/internal/models"
)

// CreateTransaction records a new gateway transaction for a booking. A
// booking may only carry one non-terminal transaction at a time.
func (s *Store) CreateTransaction(ctx context.Context, tx *models.PaymentTransaction) error {
	active, err := s.GetActiveTransactionByBooking(ctx, tx.BookingID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if active != nil {
		return ErrActiveTransaction
	}

	query := `INSERT INTO payment_transactions (
				gateway_ref, booking_id, amount_cents, currency, status, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	status := tx.Status
	if status == "" {
		status = models.TxStatusCreated
	}

	result, err := s.ExecContext(ctx, query,
		tx.GatewayRef, tx.BookingID, tx.AmountCents, tx.Currency, status, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	tx.ID = id
	tx.Status = status
	tx.CreatedAt = now
	tx.UpdatedAt = now
	return nil
}

func (s *Store) GetTransactionByRef(ctx context.Context, gatewayRef string) (*models.PaymentTransaction, error) {
	query := `SELECT id, gateway_ref, booking_id, amount_cents, currency, status, created_at, updated_at
	          FROM payment_transactions WHERE gateway_ref = ?`

	tx := &models.PaymentTransaction{}
	err := s.QueryRowContext(ctx, query, gatewayRef).Scan(
		&tx.ID, &tx.GatewayRef, &tx.BookingID, &tx.AmountCents, &tx.Currency,
		&tx.Status, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction by ref: %w", err)
	}
	return tx, nil
}

// GetActiveTransactionByBooking returns the booking's non-terminal
// transaction, or ErrNotFound when every transaction has settled.
func (s *Store) GetActiveTransactionByBooking(ctx context.Context, bookingID int64) (*models.PaymentTransaction, error) {
	query := `SELECT id, gateway_ref, booking_id, amount_cents, currency, status, created_at, updated_at
	          FROM payment_transactions
	          WHERE booking_id = ? AND status = ?
	          ORDER BY created_at DESC LIMIT 1`

	tx := &models.PaymentTransaction{}
	err := s.QueryRowContext(ctx, query, bookingID, models.TxStatusCreated).Scan(
		&tx.ID, &tx.GatewayRef, &tx.BookingID, &tx.AmountCents, &tx.Currency,
		&tx.Status, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active transaction: %w", err)
	}
	return tx, nil
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE payment_transactions SET status = ?, updated_at = ? WHERE id = ?`
	result, err := s.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
