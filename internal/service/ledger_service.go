package service

import (
	"context"
	"fmt"
	"strconv"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// LedgerServiceImpl implements ports.LedgerService.
type LedgerServiceImpl struct {
	ledgerRepo ports.LedgerRepository
	wallets    ports.WalletService
	transactor ports.DBTransactor
	announce   announcer
	log        zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	ledgerRepo ports.LedgerRepository,
	wallets ports.WalletService,
	transactor ports.DBTransactor,
	publisher ports.EventPublisher,
	metrics ports.Metrics,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		ledgerRepo: ledgerRepo,
		wallets:    wallets,
		transactor: transactor,
		announce:   announcer{publisher: publisher, metrics: metrics, log: log},
		log:        log,
	}
}

func (s *LedgerServiceImpl) Get(ctx context.Context, id int64) (*domain.LedgerEntry, error) {
	e, err := s.ledgerRepo.GetByID(ctx, id)
	if err != nil {
		return nil, storageError("get ledger entry", err)
	}
	if e == nil {
		return nil, apperror.ErrEntryNotFound()
	}
	return e, nil
}

// History lists a user's entries, newest first.
func (s *LedgerServiceImpl) History(ctx context.Context, params ports.LedgerListParams) ([]domain.LedgerEntry, int64, error) {
	if params.Currency != nil && !params.Currency.Valid() {
		return nil, 0, apperror.ErrInvalidCurrency(string(*params.Currency))
	}
	if params.Kind != nil && !params.Kind.Valid() {
		return nil, 0, apperror.Validation(fmt.Sprintf("Unknown entry kind %q", *params.Kind))
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}

	entries, total, err := s.ledgerRepo.List(ctx, params)
	if err != nil {
		return nil, 0, storageError("list ledger entries", err)
	}
	return entries, total, nil
}

// Reverse compensates a completed entry with a refund entry of the opposite
// direction. Purchases that pay for an order are rejected; CheckoutService.Cancel
// reverses those together with the order.
func (s *LedgerServiceImpl) Reverse(ctx context.Context, entryID int64, reason string, actor string) (*domain.LedgerEntry, error) {
	var rev *domain.LedgerEntry
	err := runInTx(ctx, s.transactor, func(tx pgx.Tx) error {
		var err error
		rev, err = s.reverse(ctx, tx, entryID, reason, actor, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.announce.entries(ctx, rev)
	s.log.Info().
		Int64("entry_id", entryID).
		Int64("reversal_id", rev.ID).
		Str("actor", actor).
		Msg("ledger entry reversed")
	return rev, nil
}

// ReverseTx performs Reverse inside the caller's transaction. Order purchases are
// accepted here: the caller holds the order row lock and moves the order in the
// same tx. The caller publishes the returned entry after commit.
func (s *LedgerServiceImpl) ReverseTx(ctx context.Context, tx pgx.Tx, entryID int64, reason string, actor string) (*domain.LedgerEntry, error) {
	return s.reverse(ctx, tx, entryID, reason, actor, true)
}

func (s *LedgerServiceImpl) reverse(ctx context.Context, tx pgx.Tx, entryID int64, reason, actor string, orderBound bool) (*domain.LedgerEntry, error) {
	orig, err := s.ledgerRepo.GetByIDForUpdate(ctx, tx, entryID)
	if err != nil {
		return nil, storageError("lock ledger entry", err)
	}
	if orig == nil {
		return nil, apperror.ErrEntryNotFound()
	}
	if orig.Status == domain.EntryStatusReversed {
		return nil, apperror.ErrAlreadyReversed()
	}
	if orig.Status != domain.EntryStatusCompleted || !orig.IsReversible() {
		return nil, apperror.ErrNotReversible()
	}
	if orig.OrderBound() && !orderBound {
		return nil, apperror.ErrNotReversible()
	}

	id := orig.ID
	req := ports.MutationRequest{
		UserID:      orig.UserID,
		Currency:    orig.Currency,
		Amount:      orig.Amount,
		Kind:        domain.EntryKindRefund,
		Description: "Reversal of entry #" + strconv.FormatInt(id, 10),
		OrderRef:    orig.OrderRef,
		ProductRef:  orig.ProductRef,
		ReversalOf:  &id,
		Metadata: map[string]string{
			domain.MetaReason: reason,
			domain.MetaActor:  actor,
		},
	}

	var rev *domain.LedgerEntry
	if orig.Direction == domain.DirectionDebit {
		rev, err = s.wallets.CreditTx(ctx, tx, req)
	} else {
		rev, err = s.wallets.DebitTx(ctx, tx, req)
	}
	if err != nil {
		return nil, err
	}

	ok, err := s.ledgerRepo.MarkReversed(ctx, tx, id)
	if err != nil {
		return nil, storageError("mark entry reversed", err)
	}
	if !ok {
		return nil, apperror.ErrAlreadyReversed()
	}
	return rev, nil
}
