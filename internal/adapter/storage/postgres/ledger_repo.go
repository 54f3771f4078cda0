package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const ledgerColumns = `id, user_id, kind, direction, currency, amount::text, status, order_ref, product_ref,
		reversal_of, description, metadata, created_at, completed_at`

// LedgerRepo implements ports.LedgerRepository.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Append inserts an entry within a database transaction and fills in its ID and CreatedAt.
func (r *LedgerRepo) Append(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	meta, err := encodeMetadata(e.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO ledger_entries (user_id, kind, direction, currency, amount, status, order_ref,
		product_ref, reversal_of, description, metadata, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`

	err = tx.QueryRow(ctx, query,
		e.UserID, e.Kind, e.Direction, e.Currency, e.Amount.String(), e.Status,
		e.OrderRef, e.ProductRef, e.ReversalOf, e.Description, meta, e.CompletedAt,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// GetByID fetches an entry without locking.
func (r *LedgerRepo) GetByID(ctx context.Context, id int64) (*domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE id = $1`

	return scanLedgerEntry(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches an entry with pessimistic locking.
func (r *LedgerRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE id = $1 FOR UPDATE`

	return scanLedgerEntry(tx.QueryRow(ctx, query, id))
}

// MarkReversed is the only update ever applied to a ledger row.
func (r *LedgerRepo) MarkReversed(ctx context.Context, tx pgx.Tx, id int64) (bool, error) {
	query := `UPDATE ledger_entries SET status = 'reversed' WHERE id = $1 AND status = 'completed'`

	tag, err := tx.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark ledger entry reversed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// List fetches a user's entries newest first with filtering and pagination.
func (r *LedgerRepo) List(ctx context.Context, params ports.LedgerListParams) ([]domain.LedgerEntry, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
	args = append(args, params.UserID)
	argIdx++

	if params.Currency != nil {
		conditions = append(conditions, fmt.Sprintf("currency = $%d", argIdx))
		args = append(args, *params.Currency)
		argIdx++
	}
	if params.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, *params.Kind)
		argIdx++
	}
	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.OrderRef != nil {
		conditions = append(conditions, fmt.Sprintf("order_ref = $%d", argIdx))
		args = append(args, *params.OrderRef)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM ledger_entries %s", where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM ledger_entries %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		ledgerColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return entries, total, nil
}

// SignedSum totals credits minus debits for one wallet.
func (r *LedgerRepo) SignedSum(ctx context.Context, userID uuid.UUID, currency domain.Currency) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0)::text
		FROM ledger_entries WHERE user_id = $1 AND currency = $2 AND status IN ('completed', 'reversed')`

	var sum string
	if err := r.pool.QueryRow(ctx, query, userID, currency).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum ledger entries: %w", err)
	}
	return parseDecimal("sum", sum)
}

func scanLedgerEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{}
	var amount string
	var meta []byte
	err := row.Scan(
		&e.ID, &e.UserID, &e.Kind, &e.Direction, &e.Currency, &amount, &e.Status,
		&e.OrderRef, &e.ProductRef, &e.ReversalOf, &e.Description, &meta,
		&e.CreatedAt, &e.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	if e.Amount, err = parseDecimal("amount", amount); err != nil {
		return nil, err
	}
	if e.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, err
	}
	return e, nil
}
