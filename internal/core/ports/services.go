package ports

import (
	"context"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// --- Driven ports (external collaborators) ---

// PaymentGateway is the external processor that collects and refunds money.
type PaymentGateway interface {
	ProcessPayment(ctx context.Context, charge domain.PaymentCharge) (*domain.PaymentResult, error)
	// RefundPayment refunds the full charge when amount is nil.
	RefundPayment(ctx context.Context, transactionID string, amount *decimal.Decimal) (*domain.RefundResult, error)
}

// EventPublisher publishes domain events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
	Close()
}

// RateCache is the Redis-layer cache for the current conversion rates.
type RateCache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context) (*domain.ConversionRate, error)
	Set(ctx context.Context, rate *domain.ConversionRate, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

// PaymentLock guards an order against concurrent payment attempts.
type PaymentLock interface {
	// Acquire returns false if another attempt already holds the lock. The
	// returned token identifies this holder to Release.
	Acquire(ctx context.Context, orderID uuid.UUID, ttl time.Duration) (string, bool, error)
	// Release drops the lock only if token still holds it.
	Release(ctx context.Context, orderID uuid.UUID, token string) error
}

// Metrics records ledger and gateway outcomes.
type Metrics interface {
	EntryRecorded(kind domain.EntryKind, currency domain.Currency)
	GatewayCall(operation string, outcome string, elapsed time.Duration)
	CompensationOutcome(outcome string)
}

// --- Service Ports (Business Logic) ---

// WalletService owns every balance mutation. The *Tx variants join a caller's
// transaction so other services can compose them atomically.
type WalletService interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID, currency domain.Currency) (*domain.Wallet, error)
	GetBalance(ctx context.Context, userID uuid.UUID, currency domain.Currency) (decimal.Decimal, error)
	Balances(ctx context.Context, userID uuid.UUID) ([]domain.Wallet, error)
	Provision(ctx context.Context, userID uuid.UUID) error
	Debit(ctx context.Context, req MutationRequest) (*domain.LedgerEntry, error)
	Credit(ctx context.Context, req MutationRequest) (*domain.LedgerEntry, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	Adjust(ctx context.Context, req AdjustRequest) (*domain.LedgerEntry, error)
	Audit(ctx context.Context, userID uuid.UUID, currency domain.Currency) (*AuditResult, error)

	LockTx(ctx context.Context, tx pgx.Tx, keys ...domain.WalletKey) error
	DebitTx(ctx context.Context, tx pgx.Tx, req MutationRequest) (*domain.LedgerEntry, error)
	CreditTx(ctx context.Context, tx pgx.Tx, req MutationRequest) (*domain.LedgerEntry, error)
}

// MutationRequest describes one debit or credit.
type MutationRequest struct {
	UserID      uuid.UUID
	Currency    domain.Currency
	Amount      decimal.Decimal
	Kind        domain.EntryKind
	Description string
	OrderRef    *uuid.UUID
	ProductRef  *string
	ReversalOf  *int64
	Metadata    map[string]string
}

// TransferRequest moves money between two users' wallets in one currency.
type TransferRequest struct {
	FromUserID  uuid.UUID
	ToUserID    uuid.UUID
	Currency    domain.Currency
	Amount      decimal.Decimal
	Description string
}

// TransferResult holds both legs of a committed transfer.
type TransferResult struct {
	TransferID string
	Debit      *domain.LedgerEntry
	Credit     *domain.LedgerEntry
}

// AdjustRequest is an operator correction. A positive Delta credits, a negative one debits.
type AdjustRequest struct {
	UserID   uuid.UUID
	Currency domain.Currency
	Delta    decimal.Decimal
	Reason   string
	Actor    string
}

// AuditResult compares a wallet's balance with its ledger.
type AuditResult struct {
	Balance    decimal.Decimal
	LedgerSum  decimal.Decimal
	Consistent bool
}

// LedgerService exposes reads and reversal over the append-only ledger.
type LedgerService interface {
	Get(ctx context.Context, id int64) (*domain.LedgerEntry, error)
	History(ctx context.Context, params LedgerListParams) ([]domain.LedgerEntry, int64, error)
	Reverse(ctx context.Context, entryID int64, reason string, actor string) (*domain.LedgerEntry, error)
	ReverseTx(ctx context.Context, tx pgx.Tx, entryID int64, reason string, actor string) (*domain.LedgerEntry, error)
}

// ConverterService converts between currencies through the EGP pivot.
type ConverterService interface {
	CurrentRates(ctx context.Context) (*domain.ConversionRate, error)
	UpdateRates(ctx context.Context, egpToGold, egpToMass decimal.Decimal, updatedBy string) (*domain.ConversionRate, error)
	Quote(ctx context.Context, amount decimal.Decimal, from, to domain.Currency) (decimal.Decimal, error)
	Convert(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, from, to domain.Currency) (*ConversionResult, error)
	Buy(ctx context.Context, userID uuid.UUID, amountEGP decimal.Decimal, target domain.Currency) (*ConversionResult, error)
}

// ConversionResult holds both legs of a committed conversion.
type ConversionResult struct {
	ConversionID string
	Debit        *domain.LedgerEntry
	Credit       *domain.LedgerEntry
	Rate         *domain.ConversionRate
}

// CheckoutService turns carts into orders and settles them.
type CheckoutService interface {
	CreateFromCart(ctx context.Context, req CreateOrderRequest) (*domain.Order, error)
	ProcessPayment(ctx context.Context, orderID uuid.UUID, actor uuid.UUID) (*domain.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, actor uuid.UUID) (*domain.Order, error)
	AdvanceStatus(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
}

// CreateOrderRequest holds validated input for order creation.
type CreateOrderRequest struct {
	UserID          uuid.UUID
	PaymentMethod   domain.Currency
	ShippingAddress string
	ShippingPhone   string
	Notes           string
}

// ReconciliationService tracks charges that failed to record and to refund.
type ReconciliationService interface {
	Open(ctx context.Context, c *domain.ReconciliationCase) error
	Sweep(ctx context.Context) (*SweepResult, error)
}

// SweepResult summarizes one reconciliation pass.
type SweepResult struct {
	Checked   int
	Resolved  int
	Escalated int
}
