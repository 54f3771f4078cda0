package postgres

import (
	"context"
	"fmt"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CartRepo implements ports.CartRepository.
type CartRepo struct {
	pool Pool
}

// NewCartRepo creates a new CartRepo.
func NewCartRepo(pool Pool) *CartRepo {
	return &CartRepo{pool: pool}
}

// Upsert adds a product line or replaces its quantity and prices.
func (r *CartRepo) Upsert(ctx context.Context, item *domain.CartItem) error {
	query := `INSERT INTO cart_items (user_id, product_id, quantity, price_egp, price_gold, price_mass)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, product_id) DO UPDATE
		SET quantity = EXCLUDED.quantity, price_egp = EXCLUDED.price_egp,
			price_gold = EXCLUDED.price_gold, price_mass = EXCLUDED.price_mass`

	_, err := r.pool.Exec(ctx, query,
		item.UserID, item.ProductID, item.Quantity,
		nullDecimalArg(item.PriceEGP), nullDecimalArg(item.PriceGold), nullDecimalArg(item.PriceMass),
	)
	if err != nil {
		return fmt.Errorf("upsert cart item: %w", err)
	}
	return nil
}

// ListByUser returns the user's cart in insertion order.
func (r *CartRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error) {
	query := `SELECT user_id, product_id, quantity, price_egp::text, price_gold::text, price_mass::text
		FROM cart_items WHERE user_id = $1 ORDER BY added_at, product_id`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	defer rows.Close()

	var items []domain.CartItem
	for rows.Next() {
		var it domain.CartItem
		var egp, gold, mass *string
		if err := rows.Scan(&it.UserID, &it.ProductID, &it.Quantity, &egp, &gold, &mass); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		if it.PriceEGP, err = parseNullDecimal("price_egp", egp); err != nil {
			return nil, err
		}
		if it.PriceGold, err = parseNullDecimal("price_gold", gold); err != nil {
			return nil, err
		}
		if it.PriceMass, err = parseNullDecimal("price_mass", mass); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart rows: %w", err)
	}
	return items, nil
}

// Clear empties the cart within a transaction.
func (r *CartRepo) Clear(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
