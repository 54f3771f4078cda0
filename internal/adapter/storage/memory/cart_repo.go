package memory

import (
	"context"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CartRepo implements ports.CartRepository.
type CartRepo struct {
	s *Store
}

func (r *CartRepo) Upsert(ctx context.Context, item *domain.CartItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	items := r.s.carts[item.UserID]
	for i := range items {
		if items[i].ProductID == item.ProductID {
			items[i] = *item
			return nil
		}
	}
	r.s.carts[item.UserID] = append(items, *item)
	return nil
}

func (r *CartRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return append([]domain.CartItem(nil), r.s.carts[userID]...), nil
}

func (r *CartRepo) Clear(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	t.clearCarts[userID] = true
	return nil
}
