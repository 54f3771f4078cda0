package postgres

import (
	"context"
	"errors"
	"fmt"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, user_id, status, payment_method, subtotal::text, tax_amount::text, total_amount::text,
		egp_amount::text, gold_amount::text, mass_amount::text, gateway_transaction_id, ledger_entry_id,
		shipping_address, shipping_phone, notes, created_at, updated_at, paid_at`

const orderItemColumns = `id, order_id, product_id, quantity, price_egp::text, price_gold::text,
		price_mass::text, total_price::text`

// querier is satisfied by both Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OrderRepo implements ports.OrderRepository.
type OrderRepo struct {
	pool Pool
}

// NewOrderRepo creates a new OrderRepo.
func NewOrderRepo(pool Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

// Create inserts an order and its item snapshots within a database transaction.
func (r *OrderRepo) Create(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	query := `INSERT INTO orders (id, user_id, status, payment_method, subtotal, tax_amount, total_amount,
		egp_amount, gold_amount, mass_amount, shipping_address, shipping_phone, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := tx.Exec(ctx, query,
		o.ID, o.UserID, o.Status, o.PaymentMethod,
		o.Subtotal.String(), o.TaxAmount.String(), o.TotalAmount.String(),
		o.EGPAmount.String(), o.GoldAmount.String(), o.MassAmount.String(),
		o.ShippingAddress, o.ShippingPhone, o.Notes, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	itemQuery := `INSERT INTO order_items (id, order_id, product_id, quantity, price_egp, price_gold, price_mass, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, it := range o.Items {
		_, err := tx.Exec(ctx, itemQuery,
			it.ID, o.ID, it.ProductID, it.Quantity,
			it.PriceEGP.String(), it.PriceGold.String(), it.PriceMass.String(), it.TotalPrice.String(),
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

// GetByID fetches an order and its items (without locking).
func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil || o == nil {
		return o, err
	}
	if o.Items, err = listOrderItems(ctx, r.pool, id); err != nil {
		return nil, err
	}
	return o, nil
}

// GetByIDForUpdate locks the order row. Items are immutable and read unlocked.
func (r *OrderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	o, err := scanOrder(tx.QueryRow(ctx, query, id))
	if err != nil || o == nil {
		return o, err
	}
	if o.Items, err = listOrderItems(ctx, tx, id); err != nil {
		return nil, err
	}
	return o, nil
}

// Update persists the mutable order fields within a transaction.
func (r *OrderRepo) Update(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	query := `UPDATE orders SET status = $1, egp_amount = $2, gold_amount = $3, mass_amount = $4,
		gateway_transaction_id = $5, ledger_entry_id = $6, paid_at = $7, updated_at = NOW()
		WHERE id = $8`

	tag, err := tx.Exec(ctx, query,
		o.Status, o.EGPAmount.String(), o.GoldAmount.String(), o.MassAmount.String(),
		o.GatewayTransactionID, o.LedgerEntryID, o.PaidAt, o.ID,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order not found: %s", o.ID)
	}
	return nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	o := &domain.Order{}
	var subtotal, tax, total, egp, gold, mass string
	err := row.Scan(
		&o.ID, &o.UserID, &o.Status, &o.PaymentMethod, &subtotal, &tax, &total,
		&egp, &gold, &mass, &o.GatewayTransactionID, &o.LedgerEntryID,
		&o.ShippingAddress, &o.ShippingPhone, &o.Notes, &o.CreatedAt, &o.UpdatedAt, &o.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if err := assignDecimals(
		decimalColumn{"subtotal", subtotal, &o.Subtotal},
		decimalColumn{"tax_amount", tax, &o.TaxAmount},
		decimalColumn{"total_amount", total, &o.TotalAmount},
		decimalColumn{"egp_amount", egp, &o.EGPAmount},
		decimalColumn{"gold_amount", gold, &o.GoldAmount},
		decimalColumn{"mass_amount", mass, &o.MassAmount},
	); err != nil {
		return nil, err
	}
	return o, nil
}

func listOrderItems(ctx context.Context, q querier, orderID uuid.UUID) ([]domain.OrderItem, error) {
	query := `SELECT ` + orderItemColumns + ` FROM order_items WHERE order_id = $1 ORDER BY product_id`

	rows, err := q.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		var egp, gold, mass, total string
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &egp, &gold, &mass, &total); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if err := assignDecimals(
			decimalColumn{"price_egp", egp, &it.PriceEGP},
			decimalColumn{"price_gold", gold, &it.PriceGold},
			decimalColumn{"price_mass", mass, &it.PriceMass},
			decimalColumn{"total_price", total, &it.TotalPrice},
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order item rows: %w", err)
	}
	return items, nil
}
