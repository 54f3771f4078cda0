package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// LedgerRepo implements ports.LedgerRepository.
type LedgerRepo struct {
	s *Store
}

func (r *LedgerRepo) Append(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("memory: ledger amount must be positive")
	}
	key := domain.WalletKey{UserID: e.UserID, Currency: e.Currency}
	if _, ok := r.s.Wallets().current(t, key); !ok {
		return fmt.Errorf("memory: no wallet %s/%s for ledger entry", e.UserID, e.Currency)
	}

	e.ID = r.s.nextEntryID()
	e.CreatedAt = time.Now().UTC()
	t.entries[e.ID] = copyEntry(*e)
	t.appended = append(t.appended, e.ID)
	return nil
}

func (r *LedgerRepo) GetByID(ctx context.Context, id int64) (*domain.LedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	e, ok := r.s.entries[id]
	if !ok {
		return nil, nil
	}
	e = copyEntry(e)
	return &e, nil
}

func (r *LedgerRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.LedgerEntry, error) {
	t, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if err := t.lock(ctx, entryLockKey(id)); err != nil {
		return nil, err
	}
	e, ok := r.current(t, id)
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *LedgerRepo) MarkReversed(ctx context.Context, tx pgx.Tx, id int64) (bool, error) {
	t, err := asTx(tx)
	if err != nil {
		return false, err
	}
	if err := t.lock(ctx, entryLockKey(id)); err != nil {
		return false, err
	}
	e, ok := r.current(t, id)
	if !ok || e.Status != domain.EntryStatusCompleted {
		return false, nil
	}
	e.Status = domain.EntryStatusReversed
	t.entries[id] = e
	return true, nil
}

func (r *LedgerRepo) List(ctx context.Context, params ports.LedgerListParams) ([]domain.LedgerEntry, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var matched []domain.LedgerEntry
	for _, e := range r.s.entries {
		if e.UserID != params.UserID {
			continue
		}
		if params.Currency != nil && e.Currency != *params.Currency {
			continue
		}
		if params.Kind != nil && e.Kind != *params.Kind {
			continue
		}
		if params.Status != nil && e.Status != *params.Status {
			continue
		}
		if params.OrderRef != nil && (e.OrderRef == nil || *e.OrderRef != *params.OrderRef) {
			continue
		}
		matched = append(matched, copyEntry(e))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := int64(len(matched))
	start := (params.Page - 1) * params.PageSize
	if start < 0 || start >= len(matched) {
		return nil, total, nil
	}
	end := start + params.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *LedgerRepo) SignedSum(ctx context.Context, userID uuid.UUID, currency domain.Currency) (decimal.Decimal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sum := decimal.Zero
	for _, e := range r.s.entries {
		if e.UserID == userID && e.Currency == currency {
			sum = sum.Add(e.SignedAmount())
		}
	}
	return sum, nil
}

func (r *LedgerRepo) current(t *Tx, id int64) (domain.LedgerEntry, bool) {
	if e, ok := t.entries[id]; ok {
		return copyEntry(e), true
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.entries[id]
	return copyEntry(e), ok
}
