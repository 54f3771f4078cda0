package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys for published events.
const (
	EventLedgerEntryRecorded     = "ledger.entry.recorded"
	EventLedgerEntryReversed     = "ledger.entry.reversed"
	EventOrderPaid               = "order.paid"
	EventReconciliationRequired  = "reconciliation.required"
	EventReconciliationEscalated = "reconciliation.escalated"
)

// LedgerEvent is the payload published for every committed ledger entry.
type LedgerEvent struct {
	EntryID    int64     `json:"entry_id"`
	UserID     uuid.UUID `json:"user_id"`
	Kind       EntryKind `json:"kind"`
	Direction  Direction `json:"direction"`
	Currency   Currency  `json:"currency"`
	Amount     string    `json:"amount"`
	ReversalOf *int64    `json:"reversal_of,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewLedgerEvent builds the event payload for e.
func NewLedgerEvent(e *LedgerEntry) LedgerEvent {
	return LedgerEvent{
		EntryID:    e.ID,
		UserID:     e.UserID,
		Kind:       e.Kind,
		Direction:  e.Direction,
		Currency:   e.Currency,
		Amount:     e.Amount.StringFixed(MoneyScale),
		ReversalOf: e.ReversalOf,
		Timestamp:  e.CreatedAt,
	}
}

// ReconciliationEvent alerts operators to a charge without a ledger record.
type ReconciliationEvent struct {
	CaseID               uuid.UUID            `json:"case_id"`
	OrderID              uuid.UUID            `json:"order_id"`
	GatewayTransactionID string               `json:"gateway_transaction_id"`
	Amount               string               `json:"amount"`
	Currency             Currency             `json:"currency"`
	Status               ReconciliationStatus `json:"status"`
	Attempts             int                  `json:"attempts"`
	LastError            string               `json:"last_error"`
}

// NewReconciliationEvent builds the alert payload for c.
func NewReconciliationEvent(c *ReconciliationCase) ReconciliationEvent {
	return ReconciliationEvent{
		CaseID:               c.ID,
		OrderID:              c.OrderID,
		GatewayTransactionID: c.GatewayTransactionID,
		Amount:               c.Amount.StringFixed(MoneyScale),
		Currency:             c.Currency,
		Status:               c.Status,
		Attempts:             c.Attempts,
		LastError:            c.LastError,
	}
}
