package memory

import (
	"context"
	"fmt"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OrderRepo implements ports.OrderRepository.
type OrderRepo struct {
	s *Store
}

func (r *OrderRepo) Create(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	if _, exists := r.current(t, o.ID); exists {
		return fmt.Errorf("memory: order %s already exists", o.ID)
	}
	if err := t.lock(ctx, orderLockKey(o.ID)); err != nil {
		return err
	}
	t.orders[o.ID] = copyOrder(*o)
	return nil
}

func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	o, ok := r.s.orders[id]
	if !ok {
		return nil, nil
	}
	o = copyOrder(o)
	return &o, nil
}

func (r *OrderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error) {
	t, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if err := t.lock(ctx, orderLockKey(id)); err != nil {
		return nil, err
	}
	o, ok := r.current(t, id)
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r *OrderRepo) Update(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := t.lock(ctx, orderLockKey(o.ID)); err != nil {
		return err
	}
	cur, ok := r.current(t, o.ID)
	if !ok {
		return fmt.Errorf("order not found: %s", o.ID)
	}
	cur.Status = o.Status
	cur.EGPAmount = o.EGPAmount
	cur.GoldAmount = o.GoldAmount
	cur.MassAmount = o.MassAmount
	cur.GatewayTransactionID = o.GatewayTransactionID
	cur.LedgerEntryID = o.LedgerEntryID
	cur.PaidAt = o.PaidAt
	cur.UpdatedAt = time.Now().UTC()
	t.orders[o.ID] = cur
	return nil
}

func (r *OrderRepo) current(t *Tx, id uuid.UUID) (domain.Order, bool) {
	if o, ok := t.orders[id]; ok {
		return copyOrder(o), true
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.orders[id]
	return copyOrder(o), ok
}
