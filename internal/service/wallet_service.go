package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// WalletServiceImpl implements ports.WalletService with pessimistic row locks.
type WalletServiceImpl struct {
	walletRepo ports.WalletRepository
	ledgerRepo ports.LedgerRepository
	transactor ports.DBTransactor
	announce   announcer
	log        zerolog.Logger
}

// NewWalletService creates a new WalletServiceImpl.
func NewWalletService(
	walletRepo ports.WalletRepository,
	ledgerRepo ports.LedgerRepository,
	transactor ports.DBTransactor,
	publisher ports.EventPublisher,
	metrics ports.Metrics,
	log zerolog.Logger,
) *WalletServiceImpl {
	return &WalletServiceImpl{
		walletRepo: walletRepo,
		ledgerRepo: ledgerRepo,
		transactor: transactor,
		announce:   announcer{publisher: publisher, metrics: metrics, log: log},
		log:        log,
	}
}

// GetOrCreate returns the wallet, creating it with a zero balance if absent.
func (s *WalletServiceImpl) GetOrCreate(ctx context.Context, userID uuid.UUID, currency domain.Currency) (*domain.Wallet, error) {
	if !currency.Valid() {
		return nil, apperror.ErrInvalidCurrency(string(currency))
	}
	if err := s.walletRepo.Ensure(ctx, userID, currency); err != nil {
		return nil, storageError("ensure wallet", err)
	}
	w, err := s.walletRepo.Get(ctx, userID, currency)
	if err != nil {
		return nil, storageError("get wallet", err)
	}
	if w == nil {
		return nil, apperror.ErrWalletNotFound()
	}
	return w, nil
}

func (s *WalletServiceImpl) GetBalance(ctx context.Context, userID uuid.UUID, currency domain.Currency) (decimal.Decimal, error) {
	w, err := s.GetOrCreate(ctx, userID, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

func (s *WalletServiceImpl) Balances(ctx context.Context, userID uuid.UUID) ([]domain.Wallet, error) {
	wallets, err := s.walletRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, storageError("list wallets", err)
	}
	return wallets, nil
}

// Provision creates every currency wallet for a newly registered user.
func (s *WalletServiceImpl) Provision(ctx context.Context, userID uuid.UUID) error {
	for _, c := range domain.Currencies {
		if err := s.walletRepo.Ensure(ctx, userID, c); err != nil {
			return storageError("ensure wallet", err)
		}
	}
	s.log.Info().Str("user_id", userID.String()).Msg("wallets provisioned")
	return nil
}

func (s *WalletServiceImpl) Debit(ctx context.Context, req ports.MutationRequest) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		entry, err = s.DebitTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, entry)
	return entry, nil
}

func (s *WalletServiceImpl) Credit(ctx context.Context, req ports.MutationRequest) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		entry, err = s.CreditTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, entry)
	return entry, nil
}

// Transfer moves money between two users in one transaction. Both wallets must exist.
func (s *WalletServiceImpl) Transfer(ctx context.Context, req ports.TransferRequest) (*ports.TransferResult, error) {
	if req.FromUserID == req.ToUserID {
		return nil, apperror.Validation("Cannot transfer to the same wallet")
	}
	if !req.Currency.Valid() {
		return nil, apperror.ErrInvalidCurrency(string(req.Currency))
	}
	if !domain.ValidAmount(req.Amount) {
		return nil, apperror.ErrInvalidAmount()
	}

	transferID := uuid.NewString()
	result := &ports.TransferResult{TransferID: transferID}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		from := domain.WalletKey{UserID: req.FromUserID, Currency: req.Currency}
		to := domain.WalletKey{UserID: req.ToUserID, Currency: req.Currency}
		if err := s.LockTx(ctx, tx, from, to); err != nil {
			return err
		}

		var err error
		result.Debit, err = s.DebitTx(ctx, tx, ports.MutationRequest{
			UserID:      req.FromUserID,
			Currency:    req.Currency,
			Amount:      req.Amount,
			Kind:        domain.EntryKindTransfer,
			Description: req.Description,
			Metadata: map[string]string{
				domain.MetaTransferID:   transferID,
				domain.MetaCounterparty: req.ToUserID.String(),
			},
		})
		if err != nil {
			return err
		}
		result.Credit, err = s.CreditTx(ctx, tx, ports.MutationRequest{
			UserID:      req.ToUserID,
			Currency:    req.Currency,
			Amount:      req.Amount,
			Kind:        domain.EntryKindTransfer,
			Description: req.Description,
			Metadata: map[string]string{
				domain.MetaTransferID:   transferID,
				domain.MetaCounterparty: req.FromUserID.String(),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, result.Debit, result.Credit)
	return result, nil
}

// Adjust applies an operator correction. The wallet is created if needed.
func (s *WalletServiceImpl) Adjust(ctx context.Context, req ports.AdjustRequest) (*domain.LedgerEntry, error) {
	if !req.Currency.Valid() {
		return nil, apperror.ErrInvalidCurrency(string(req.Currency))
	}
	if !domain.ValidAmount(req.Delta.Abs()) {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.Reason == "" {
		return nil, apperror.Validation("Adjustment reason is required")
	}
	if err := s.walletRepo.Ensure(ctx, req.UserID, req.Currency); err != nil {
		return nil, storageError("ensure wallet", err)
	}

	mreq := ports.MutationRequest{
		UserID:      req.UserID,
		Currency:    req.Currency,
		Amount:      req.Delta.Abs(),
		Kind:        domain.EntryKindAdminAdjustment,
		Description: req.Reason,
		Metadata: map[string]string{
			domain.MetaReason: req.Reason,
			domain.MetaActor:  req.Actor,
		},
	}
	if req.Delta.IsNegative() {
		return s.Debit(ctx, mreq)
	}
	return s.Credit(ctx, mreq)
}

// Audit compares the stored balance with the signed sum of the wallet's ledger.
func (s *WalletServiceImpl) Audit(ctx context.Context, userID uuid.UUID, currency domain.Currency) (*ports.AuditResult, error) {
	if !currency.Valid() {
		return nil, apperror.ErrInvalidCurrency(string(currency))
	}
	w, err := s.walletRepo.Get(ctx, userID, currency)
	if err != nil {
		return nil, storageError("get wallet", err)
	}
	if w == nil {
		return nil, apperror.ErrWalletNotFound()
	}
	sum, err := s.ledgerRepo.SignedSum(ctx, userID, currency)
	if err != nil {
		return nil, storageError("sum ledger", err)
	}

	res := &ports.AuditResult{Balance: w.Balance, LedgerSum: sum, Consistent: w.Balance.Equal(sum)}
	if !res.Consistent {
		s.log.Error().
			Str("user_id", userID.String()).
			Str("currency", string(currency)).
			Str("balance", w.Balance.String()).
			Str("ledger_sum", sum.String()).
			Msg("wallet balance does not match ledger")
	}
	return res, nil
}

// LockTx row-locks every wallet in keys, in WalletKey order, inside tx.
func (s *WalletServiceImpl) LockTx(ctx context.Context, tx pgx.Tx, keys ...domain.WalletKey) error {
	sorted := append([]domain.WalletKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	for i, k := range sorted {
		if i > 0 && k == sorted[i-1] {
			continue
		}
		w, err := s.walletRepo.GetForUpdate(ctx, tx, k.UserID, k.Currency)
		if err != nil {
			return storageError("lock wallet", err)
		}
		if w == nil {
			return apperror.ErrWalletNotFound()
		}
	}
	return nil
}

func (s *WalletServiceImpl) DebitTx(ctx context.Context, tx pgx.Tx, req ports.MutationRequest) (*domain.LedgerEntry, error) {
	return s.mutate(ctx, tx, req, domain.DirectionDebit)
}

func (s *WalletServiceImpl) CreditTx(ctx context.Context, tx pgx.Tx, req ports.MutationRequest) (*domain.LedgerEntry, error) {
	return s.mutate(ctx, tx, req, domain.DirectionCredit)
}

func (s *WalletServiceImpl) mutate(ctx context.Context, tx pgx.Tx, req ports.MutationRequest, dir domain.Direction) (*domain.LedgerEntry, error) {
	if err := validateMutation(req); err != nil {
		return nil, err
	}

	w, err := s.walletRepo.GetForUpdate(ctx, tx, req.UserID, req.Currency)
	if err != nil {
		return nil, storageError("lock wallet", err)
	}
	if w == nil {
		return nil, apperror.ErrWalletNotFound()
	}

	var balance decimal.Decimal
	if dir == domain.DirectionDebit {
		if !w.CanDebit(req.Amount) {
			return nil, apperror.ErrInsufficientFunds()
		}
		balance = w.Balance.Sub(req.Amount)
	} else {
		balance = w.Balance.Add(req.Amount)
	}

	if err := s.walletRepo.UpdateBalance(ctx, tx, req.UserID, req.Currency, balance); err != nil {
		return nil, storageError("update balance", err)
	}

	entry := newEntry(req, dir)
	if err := s.ledgerRepo.Append(ctx, tx, entry); err != nil {
		return nil, storageError("append ledger entry", err)
	}
	return entry, nil
}

func (s *WalletServiceImpl) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return runInTx(ctx, s.transactor, fn)
}

func (s *WalletServiceImpl) committed(ctx context.Context, entries ...*domain.LedgerEntry) {
	s.announce.entries(ctx, entries...)
	for _, e := range entries {
		s.log.Info().
			Int64("entry_id", e.ID).
			Str("user_id", e.UserID.String()).
			Str("kind", string(e.Kind)).
			Str("direction", string(e.Direction)).
			Str("currency", string(e.Currency)).
			Str("amount", e.Amount.StringFixed(domain.MoneyScale)).
			Msg("ledger entry committed")
	}
}

func validateMutation(req ports.MutationRequest) error {
	if !req.Currency.Valid() {
		return apperror.ErrInvalidCurrency(string(req.Currency))
	}
	if !domain.ValidAmount(req.Amount) {
		return apperror.ErrInvalidAmount()
	}
	if !req.Kind.Valid() {
		return apperror.Validation(fmt.Sprintf("Unknown entry kind %q", req.Kind))
	}
	return nil
}

func newEntry(req ports.MutationRequest, dir domain.Direction) *domain.LedgerEntry {
	now := time.Now().UTC()
	var meta map[string]string
	if len(req.Metadata) > 0 {
		meta = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			meta[k] = v
		}
	}
	return &domain.LedgerEntry{
		UserID:      req.UserID,
		Kind:        req.Kind,
		Direction:   dir,
		Currency:    req.Currency,
		Amount:      req.Amount,
		Status:      domain.EntryStatusCompleted,
		OrderRef:    req.OrderRef,
		ProductRef:  req.ProductRef,
		ReversalOf:  req.ReversalOf,
		Description: req.Description,
		Metadata:    meta,
		CompletedAt: &now,
	}
}

// runInTx runs fn in a transaction and commits if fn succeeds.
func runInTx(ctx context.Context, transactor ports.DBTransactor, fn func(tx pgx.Tx) error) error {
	tx, err := transactor.Begin(ctx)
	if err != nil {
		return storageError("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storageError("commit tx", err)
	}
	return nil
}
