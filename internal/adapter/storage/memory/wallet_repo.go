package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	s *Store
}

func (r *WalletRepo) Ensure(ctx context.Context, userID uuid.UUID, currency domain.Currency) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := domain.WalletKey{UserID: userID, Currency: currency}
	if _, ok := r.s.wallets[key]; ok {
		return nil
	}
	now := time.Now().UTC()
	r.s.wallets[key] = domain.Wallet{UserID: userID, Currency: currency, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (r *WalletRepo) Get(ctx context.Context, userID uuid.UUID, currency domain.Currency) (*domain.Wallet, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	w, ok := r.s.wallets[domain.WalletKey{UserID: userID, Currency: currency}]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (r *WalletRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Wallet, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.Wallet
	for k, w := range r.s.wallets {
		if k.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (r *WalletRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency domain.Currency) (*domain.Wallet, error) {
	t, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if err := t.lock(ctx, walletLockKey(userID, currency)); err != nil {
		return nil, err
	}
	w, ok := r.current(t, domain.WalletKey{UserID: userID, Currency: currency})
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (r *WalletRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency domain.Currency, balance decimal.Decimal) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := t.lock(ctx, walletLockKey(userID, currency)); err != nil {
		return err
	}
	key := domain.WalletKey{UserID: userID, Currency: currency}
	w, ok := r.current(t, key)
	if !ok {
		return fmt.Errorf("wallet not found: %s/%s", userID, currency)
	}
	if balance.IsNegative() {
		return ErrCheckViolation
	}
	w.Balance = balance
	w.UpdatedAt = time.Now().UTC()
	t.wallets[key] = w
	return nil
}

func (r *WalletRepo) current(t *Tx, key domain.WalletKey) (domain.Wallet, bool) {
	if w, ok := t.wallets[key]; ok {
		return w, true
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	w, ok := r.s.wallets[key]
	return w, ok
}
