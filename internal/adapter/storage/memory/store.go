// Package memory is a transactional in-process store with the same locking
// semantics as the Postgres adapter: row locks held until commit or rollback,
// writes invisible to other transactions until commit.
package memory

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrForeignTx is returned when a repository receives a pgx.Tx this store did not begin.
var ErrForeignTx = errors.New("memory: transaction not started by this store")

// ErrCheckViolation mirrors the wallets balance CHECK constraint.
var ErrCheckViolation error = &pgconn.PgError{
	Code:           "23514",
	Message:        "balance would become negative",
	ConstraintName: "wallets_balance_check",
}

// ErrDuplicateReversal mirrors the unique index on ledger_entries.reversal_of.
var ErrDuplicateReversal error = &pgconn.PgError{
	Code:           "23505",
	Message:        "entry already has a reversal",
	ConstraintName: "idx_ledger_entries_reversal_of",
}

// Store holds committed state. Create one per test or per process.
type Store struct {
	mu       sync.RWMutex
	wallets  map[domain.WalletKey]domain.Wallet
	entries  map[int64]domain.LedgerEntry
	// original id -> reversal entry id
	reversed map[int64]int64
	rates    []domain.ConversionRate
	orders   map[uuid.UUID]domain.Order
	carts    map[uuid.UUID][]domain.CartItem
	cases    map[uuid.UUID]domain.ReconciliationCase

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	seqMu     sync.Mutex
	nextEntry int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		wallets:  make(map[domain.WalletKey]domain.Wallet),
		entries:  make(map[int64]domain.LedgerEntry),
		reversed: make(map[int64]int64),
		orders:   make(map[uuid.UUID]domain.Order),
		carts:    make(map[uuid.UUID][]domain.CartItem),
		cases:    make(map[uuid.UUID]domain.ReconciliationCase),
		locks:    make(map[string]chan struct{}),
	}
}

// Begin starts a transaction. It implements ports.DBTransactor.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newTx(s), nil
}

// Ping implements ports.HealthChecker.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Name returns the dependency name.
func (s *Store) Name() string { return "memory" }

func (s *Store) rowLock(key string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[key] = l
	}
	return l
}

// nextEntryID behaves like a sequence: ids are never reused, even after rollback.
func (s *Store) nextEntryID() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.nextEntry++
	return s.nextEntry
}

// Wallets returns the wallet repository view of the store.
func (s *Store) Wallets() *WalletRepo { return &WalletRepo{s: s} }

// Ledger returns the ledger repository view of the store.
func (s *Store) Ledger() *LedgerRepo { return &LedgerRepo{s: s} }

// Rates returns the rate repository view of the store.
func (s *Store) Rates() *RateRepo { return &RateRepo{s: s} }

// Orders returns the order repository view of the store.
func (s *Store) Orders() *OrderRepo { return &OrderRepo{s: s} }

// Carts returns the cart repository view of the store.
func (s *Store) Carts() *CartRepo { return &CartRepo{s: s} }

// Reconciliation returns the reconciliation repository view of the store.
func (s *Store) Reconciliation() *ReconciliationRepo { return &ReconciliationRepo{s: s} }

func walletLockKey(userID uuid.UUID, c domain.Currency) string {
	return "wallet:" + userID.String() + ":" + string(c)
}

func entryLockKey(id int64) string {
	return "entry:" + strconv.FormatInt(id, 10)
}

func orderLockKey(id uuid.UUID) string {
	return "order:" + id.String()
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyEntry(e domain.LedgerEntry) domain.LedgerEntry {
	e.Metadata = copyMeta(e.Metadata)
	return e
}

func copyOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}
