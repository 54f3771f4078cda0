package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is a user's balance in one currency. One exists per (user, currency).
type Wallet struct {
	UserID    uuid.UUID       `json:"user_id"`
	Currency  Currency        `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WalletKey identifies a wallet row.
type WalletKey struct {
	UserID   uuid.UUID
	Currency Currency
}

// Less orders keys by (user id, currency). Multi-wallet scopes lock in this order.
func (k WalletKey) Less(o WalletKey) bool {
	a, b := k.UserID.String(), o.UserID.String()
	if a != b {
		return a < b
	}
	return k.Currency < o.Currency
}

// CanDebit reports whether the balance covers amount.
func (w *Wallet) CanDebit(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}
