package models

import "time"

// PaymentTransaction tracks one payment attempt at the gateway. A booking has
// at most one active transaction; a retry creates a new row only after the
// prior one reached a terminal failed/expired state.
type PaymentTransaction struct {
	ID          int64     `json:"id"`
	GatewayRef  string    `json:"gateway_ref"`
	BookingID   int64     `json:"booking_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"` // created, completed, failed, expired
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Terminal reports whether the transaction can no longer change state.
func (t *PaymentTransaction) Terminal() bool {
	switch t.Status {
	case TxStatusCompleted, TxStatusFailed, TxStatusExpired:
		return true
	}
	return false
}

// UsageRecord is a per-user, per-feature counter snapshot for one period.
type UsageRecord struct {
	UserID    string `json:"user_id"`
	Feature   string `json:"feature"`
	PeriodKey string `json:"period_key"`
	Used      int64  `json:"used"`
	Ceiling   int64  `json:"ceiling"`
}
