package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryKind classifies why money moved.
type EntryKind string

const (
	EntryKindPurchase        EntryKind = "purchase"
	EntryKindRefund          EntryKind = "refund"
	EntryKindConversion      EntryKind = "conversion"
	EntryKindSubscriptionFee EntryKind = "subscription_fee"
	EntryKindAdminAdjustment EntryKind = "admin_adjustment"
	EntryKindTransfer        EntryKind = "transfer"
)

// Valid reports whether k is a known kind.
func (k EntryKind) Valid() bool {
	switch k {
	case EntryKindPurchase, EntryKindRefund, EntryKindConversion,
		EntryKindSubscriptionFee, EntryKindAdminAdjustment, EntryKindTransfer:
		return true
	}
	return false
}

// OrderBound reports whether the entry pays for an order. Such entries are
// compensated only together with the order's cancellation.
func (e *LedgerEntry) OrderBound() bool {
	return e.Kind == EntryKindPurchase && e.OrderRef != nil
}

// Direction is the signed effect an entry had on its wallet.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// Opposite returns the compensating direction.
func (d Direction) Opposite() Direction {
	if d == DirectionDebit {
		return DirectionCredit
	}
	return DirectionDebit
}

// EntryStatus is the lifecycle state of a ledger entry.
type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusFailed    EntryStatus = "failed"
	EntryStatusReversed  EntryStatus = "reversed"
)

// Metadata keys shared across services.
const (
	MetaConversionID   = "conversion_id"
	MetaConversionRate = "rate"
	MetaFromCurrency   = "from_currency"
	MetaToCurrency     = "to_currency"
	MetaTransferID     = "transfer_id"
	MetaCounterparty   = "counterparty"
	MetaGatewayTxnID   = "gateway_transaction_id"
	MetaReason         = "reason"
	MetaActor          = "actor"
)

// LedgerEntry is one append-only record of a balance change.
type LedgerEntry struct {
	ID          int64             `json:"id"`
	UserID      uuid.UUID         `json:"user_id"`
	Kind        EntryKind         `json:"kind"`
	Direction   Direction         `json:"direction"`
	Currency    Currency          `json:"currency"`
	Amount      decimal.Decimal   `json:"amount"`
	Status      EntryStatus       `json:"status"`
	OrderRef    *uuid.UUID        `json:"order_ref,omitempty"`
	ProductRef  *string           `json:"product_ref,omitempty"`
	ReversalOf  *int64            `json:"reversal_of,omitempty"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// SignedAmount returns the entry's contribution to its wallet's balance.
// Reversed entries still count: their compensating refund entry cancels them.
func (e *LedgerEntry) SignedAmount() decimal.Decimal {
	if e.Status != EntryStatusCompleted && e.Status != EntryStatusReversed {
		return decimal.Zero
	}
	if e.Direction == DirectionDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// IsReversible reports whether the entry may be compensated on its own.
// Conversion and transfer legs belong to a pair and are never reversed alone.
func (e *LedgerEntry) IsReversible() bool {
	switch e.Kind {
	case EntryKindPurchase, EntryKindSubscriptionFee, EntryKindAdminAdjustment:
		return true
	}
	return false
}
