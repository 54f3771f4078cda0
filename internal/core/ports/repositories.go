package ports

import (
	"context"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type WalletRepository interface {
	// Ensure creates the wallet with a zero balance if it does not exist.
	Ensure(ctx context.Context, userID uuid.UUID, currency domain.Currency) error
	Get(ctx context.Context, userID uuid.UUID, currency domain.Currency) (*domain.Wallet, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Wallet, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency domain.Currency) (*domain.Wallet, error)
	UpdateBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency domain.Currency, balance decimal.Decimal) error
}

// LedgerRepository is append-only. MarkReversed is the only mutation of an existing row.
type LedgerRepository interface {
	// Append assigns ID and CreatedAt.
	Append(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error
	GetByID(ctx context.Context, id int64) (*domain.LedgerEntry, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.LedgerEntry, error)
	// MarkReversed moves a completed entry to reversed. Returns false if it was not completed.
	MarkReversed(ctx context.Context, tx pgx.Tx, id int64) (bool, error)
	List(ctx context.Context, params LedgerListParams) ([]domain.LedgerEntry, int64, error)
	// SignedSum totals the signed effect of every entry on one wallet.
	SignedSum(ctx context.Context, userID uuid.UUID, currency domain.Currency) (decimal.Decimal, error)
}

// LedgerListParams holds filter + pagination for listing ledger entries.
type LedgerListParams struct {
	UserID   uuid.UUID
	Currency *domain.Currency
	Kind     *domain.EntryKind
	Status   *domain.EntryStatus
	OrderRef *uuid.UUID
	Page     int
	PageSize int
}

// RateRepository stores versioned conversion rates. The latest row wins.
type RateRepository interface {
	Latest(ctx context.Context) (*domain.ConversionRate, error)
	Insert(ctx context.Context, rate *domain.ConversionRate) error
}

// OrderRepository defines persistence operations for orders and their items.
type OrderRepository interface {
	Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error)
	Update(ctx context.Context, tx pgx.Tx, order *domain.Order) error
}

// CartRepository reads and clears a user's cart. The cart itself is owned elsewhere.
type CartRepository interface {
	Upsert(ctx context.Context, item *domain.CartItem) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error)
	Clear(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error
}

// ReconciliationRepository persists charges awaiting a successful refund.
type ReconciliationRepository interface {
	Create(ctx context.Context, c *domain.ReconciliationCase) error
	ListOpen(ctx context.Context, limit int) ([]domain.ReconciliationCase, error)
	Update(ctx context.Context, c *domain.ReconciliationCase) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
