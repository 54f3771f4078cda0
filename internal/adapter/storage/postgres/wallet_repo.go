package postgres

import (
	"context"
	"errors"
	"fmt"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const walletColumns = `user_id, currency, balance::text, created_at, updated_at`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Ensure inserts a zero-balance wallet unless one already exists.
func (r *WalletRepo) Ensure(ctx context.Context, userID uuid.UUID, currency domain.Currency) error {
	query := `INSERT INTO wallets (user_id, currency, balance) VALUES ($1, $2, 0)
		ON CONFLICT (user_id, currency) DO NOTHING`

	if _, err := r.pool.Exec(ctx, query, userID, currency); err != nil {
		return fmt.Errorf("ensure wallet: %w", err)
	}
	return nil
}

// Get fetches a wallet without locking.
func (r *WalletRepo) Get(ctx context.Context, userID uuid.UUID, currency domain.Currency) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 AND currency = $2`

	return scanWallet(r.pool.QueryRow(ctx, query, userID, currency), "get wallet")
}

// ListByUser fetches every wallet a user holds.
func (r *WalletRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 ORDER BY currency`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows, "scan wallet row")
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet rows: %w", err)
	}
	return wallets, nil
}

// GetForUpdate fetches a wallet with pessimistic locking.
// This MUST be called within a transaction.
func (r *WalletRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency domain.Currency) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 AND currency = $2 FOR UPDATE`

	return scanWallet(tx.QueryRow(ctx, query, userID, currency), "get wallet for update")
}

// UpdateBalance writes a wallet's new balance within a transaction.
func (r *WalletRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency domain.Currency, balance decimal.Decimal) error {
	query := `UPDATE wallets SET balance = $1, updated_at = NOW() WHERE user_id = $2 AND currency = $3`

	tag, err := tx.Exec(ctx, query, balance.String(), userID, currency)
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found: %s/%s", userID, currency)
	}
	return nil
}

func scanWallet(row pgx.Row, op string) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	var balance string
	err := row.Scan(&w.UserID, &w.Currency, &balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if w.Balance, err = parseDecimal("balance", balance); err != nil {
		return nil, err
	}
	return w, nil
}
