package memory

import (
	"context"
	"fmt"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Tx buffers writes and holds row locks until Commit or Rollback.
// Reads inside the transaction see its own buffered writes.
type Tx struct {
	s      *Store
	held   []chan struct{}
	locked map[string]bool
	done   bool

	wallets    map[domain.WalletKey]domain.Wallet
	entries    map[int64]domain.LedgerEntry
	appended   []int64
	orders     map[uuid.UUID]domain.Order
	clearCarts map[uuid.UUID]bool
}

func newTx(s *Store) *Tx {
	return &Tx{
		s:          s,
		locked:     make(map[string]bool),
		wallets:    make(map[domain.WalletKey]domain.Wallet),
		entries:    make(map[int64]domain.LedgerEntry),
		orders:     make(map[uuid.UUID]domain.Order),
		clearCarts: make(map[uuid.UUID]bool),
	}
}

func asTx(tx pgx.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok {
		return nil, ErrForeignTx
	}
	if t.done {
		return nil, pgx.ErrTxClosed
	}
	return t, nil
}

// lock blocks until the row lock is free or ctx ends. Locks are reentrant per transaction.
func (t *Tx) lock(ctx context.Context, key string) error {
	if t.locked[key] {
		return nil
	}
	l := t.s.rowLock(key)
	select {
	case l <- struct{}{}:
		t.locked[key] = true
		t.held = append(t.held, l)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("lock %s: %w", key, ctx.Err())
	}
}

func (t *Tx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		<-t.held[i]
	}
	t.held = nil
	t.locked = map[string]bool{}
	t.done = true
}

// Commit applies every buffered write atomically.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	defer t.release()

	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range t.wallets {
		if w.Balance.IsNegative() {
			return ErrCheckViolation
		}
	}
	for _, id := range t.appended {
		e := t.entries[id]
		if e.ReversalOf == nil {
			continue
		}
		if _, dup := s.reversed[*e.ReversalOf]; dup {
			return ErrDuplicateReversal
		}
	}

	for k, w := range t.wallets {
		s.wallets[k] = w
	}
	for id, e := range t.entries {
		s.entries[id] = e
		if e.ReversalOf != nil {
			s.reversed[*e.ReversalOf] = id
		}
	}
	for id, o := range t.orders {
		s.orders[id] = o
	}
	for userID := range t.clearCarts {
		delete(s.carts, userID)
	}
	return nil
}

// Rollback discards buffered writes. Calling it after Commit is a no-op.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.release()
	return nil
}

// The remaining pgx.Tx methods are not used by the memory repositories.

func (t *Tx) Begin(ctx context.Context) (pgx.Tx, error) { return nil, errUnsupported("Begin") }
func (t *Tx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errUnsupported("CopyFrom")
}
func (t *Tx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *Tx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *Tx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errUnsupported("Prepare")
}
func (t *Tx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errUnsupported("Exec")
}
func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errUnsupported("Query")
}
func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (t *Tx) Conn() *pgx.Conn                                               { return nil }

func errUnsupported(method string) error {
	return fmt.Errorf("memory: %s is not supported", method)
}
