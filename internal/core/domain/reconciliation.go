package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReconciliationStatus tracks a charge that could not be recorded or refunded.
type ReconciliationStatus string

const (
	ReconciliationOpen      ReconciliationStatus = "open"
	ReconciliationResolved  ReconciliationStatus = "resolved"
	ReconciliationEscalated ReconciliationStatus = "escalated"
)

// ReconciliationCase is a gateway charge with no matching ledger entry whose
// compensating refund has not yet succeeded.
type ReconciliationCase struct {
	ID                   uuid.UUID            `json:"id"`
	OrderID              uuid.UUID            `json:"order_id"`
	UserID               uuid.UUID            `json:"user_id"`
	GatewayTransactionID string               `json:"gateway_transaction_id"`
	Amount               decimal.Decimal      `json:"amount"`
	Currency             Currency             `json:"currency"`
	Status               ReconciliationStatus `json:"status"`
	Attempts             int                  `json:"attempts"`
	LastError            string               `json:"last_error"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}
