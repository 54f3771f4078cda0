package postgres

import (
	"context"
	"fmt"

	"marketplace-ledger/internal/core/domain"
)

// ReconciliationRepo implements ports.ReconciliationRepository.
// Cases are written outside any ledger transaction: they must survive its rollback.
type ReconciliationRepo struct {
	pool Pool
}

// NewReconciliationRepo creates a new ReconciliationRepo.
func NewReconciliationRepo(pool Pool) *ReconciliationRepo {
	return &ReconciliationRepo{pool: pool}
}

// Create inserts a new case.
func (r *ReconciliationRepo) Create(ctx context.Context, c *domain.ReconciliationCase) error {
	query := `INSERT INTO reconciliation_cases (id, order_id, user_id, gateway_transaction_id, amount, currency,
		status, attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		c.ID, c.OrderID, c.UserID, c.GatewayTransactionID, c.Amount.String(), c.Currency,
		c.Status, c.Attempts, c.LastError, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reconciliation case: %w", err)
	}
	return nil
}

// ListOpen returns up to limit open cases, oldest first.
func (r *ReconciliationRepo) ListOpen(ctx context.Context, limit int) ([]domain.ReconciliationCase, error) {
	query := `SELECT id, order_id, user_id, gateway_transaction_id, amount::text, currency, status,
		attempts, last_error, created_at, updated_at
		FROM reconciliation_cases WHERE status = 'open' ORDER BY created_at LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list reconciliation cases: %w", err)
	}
	defer rows.Close()

	var cases []domain.ReconciliationCase
	for rows.Next() {
		var c domain.ReconciliationCase
		var amount string
		err := rows.Scan(
			&c.ID, &c.OrderID, &c.UserID, &c.GatewayTransactionID, &amount, &c.Currency, &c.Status,
			&c.Attempts, &c.LastError, &c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan reconciliation case: %w", err)
		}
		if c.Amount, err = parseDecimal("amount", amount); err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reconciliation rows: %w", err)
	}
	return cases, nil
}

// Update persists status, attempts and the last error.
func (r *ReconciliationRepo) Update(ctx context.Context, c *domain.ReconciliationCase) error {
	query := `UPDATE reconciliation_cases SET status = $1, attempts = $2, last_error = $3, updated_at = $4
		WHERE id = $5`

	tag, err := r.pool.Exec(ctx, query, c.Status, c.Attempts, c.LastError, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update reconciliation case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reconciliation case not found: %s", c.ID)
	}
	return nil
}
