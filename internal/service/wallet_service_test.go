package service

import (
	"context"
	"errors"
	"testing"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type walletTestDeps struct {
	svc        *WalletServiceImpl
	walletRepo *mocks.MockWalletRepository
	ledgerRepo *mocks.MockLedgerRepository
	transactor *mocks.MockDBTransactor
	publisher  *mocks.MockEventPublisher
	metrics    *mocks.MockMetrics
	ctrl       *gomock.Controller
}

func setupWalletService(t *testing.T) *walletTestDeps {
	ctrl := gomock.NewController(t)
	d := &walletTestDeps{
		walletRepo: mocks.NewMockWalletRepository(ctrl),
		ledgerRepo: mocks.NewMockLedgerRepository(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		publisher:  mocks.NewMockEventPublisher(ctrl),
		metrics:    mocks.NewMockMetrics(ctrl),
		ctrl:       ctrl,
	}
	d.svc = NewWalletService(d.walletRepo, d.ledgerRepo, d.transactor, d.publisher, d.metrics, zerolog.Nop())
	return d
}

func (d *walletTestDeps) expectAnnounce(kind domain.EntryKind, currency domain.Currency) {
	d.metrics.EXPECT().EntryRecorded(kind, currency)
	d.publisher.EXPECT().Publish(gomock.Any(), domain.EventLedgerEntryRecorded, gomock.Any()).Return(nil)
}

func wallet(userID uuid.UUID, c domain.Currency, balance string) *domain.Wallet {
	return &domain.Wallet{UserID: userID, Currency: c, Balance: dec(balance)}
}

func assignID(id int64) func(context.Context, pgx.Tx, *domain.LedgerEntry) error {
	return func(_ context.Context, _ pgx.Tx, e *domain.LedgerEntry) error {
		e.ID = id
		return nil
	}
}

// ==================== Debit / Credit ====================

func TestWalletService_Debit_SubscriptionFee(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	userID := uuid.New()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetForUpdate(ctx, tx, userID, domain.CurrencyEGP).Return(wallet(userID, domain.CurrencyEGP, "500.00"), nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, userID, domain.CurrencyEGP, decimalEq("400.00")).Return(nil)
	d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any()).DoAndReturn(assignID(1))
	d.expectAnnounce(domain.EntryKindSubscriptionFee, domain.CurrencyEGP)

	entry, err := d.svc.Debit(ctx, ports.MutationRequest{
		UserID:      userID,
		Currency:    domain.CurrencyEGP,
		Amount:      dec("100.00"),
		Kind:        domain.EntryKindSubscriptionFee,
		Description: "Subscription",
	})

	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.Equal(t, int64(1), entry.ID)
	assert.Equal(t, domain.EntryKindSubscriptionFee, entry.Kind)
	assert.Equal(t, domain.DirectionDebit, entry.Direction)
	assert.Equal(t, domain.EntryStatusCompleted, entry.Status)
	assert.True(t, dec("100").Equal(entry.Amount))
	assert.NotNil(t, entry.CompletedAt)
}

func TestWalletService_Debit_InsufficientFunds(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	userID := uuid.New()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetForUpdate(ctx, tx, userID, domain.CurrencyGold).Return(wallet(userID, domain.CurrencyGold, "9.99"), nil)

	_, err := d.svc.Debit(ctx, ports.MutationRequest{
		UserID: userID, Currency: domain.CurrencyGold, Amount: dec("10"), Kind: domain.EntryKindPurchase,
	})

	assertAppError(t, err, "WAL_001")
	assert.False(t, tx.committed)
}

func TestWalletService_Debit_WalletMissing(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	userID := uuid.New()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetForUpdate(ctx, tx, userID, domain.CurrencyMass).Return(nil, nil)

	_, err := d.svc.Debit(ctx, ports.MutationRequest{
		UserID: userID, Currency: domain.CurrencyMass, Amount: dec("1"), Kind: domain.EntryKindPurchase,
	})
	assertAppError(t, err, "WAL_003")
}

func TestWalletService_Mutation_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  ports.MutationRequest
		code string
	}{
		{"zero amount", ports.MutationRequest{Currency: domain.CurrencyEGP, Amount: dec("0"), Kind: domain.EntryKindPurchase}, "WAL_004"},
		{"negative amount", ports.MutationRequest{Currency: domain.CurrencyEGP, Amount: dec("-1"), Kind: domain.EntryKindPurchase}, "WAL_004"},
		{"sub-cent amount", ports.MutationRequest{Currency: domain.CurrencyEGP, Amount: dec("0.001"), Kind: domain.EntryKindPurchase}, "WAL_004"},
		{"unknown currency", ports.MutationRequest{Currency: "USD", Amount: dec("1"), Kind: domain.EntryKindPurchase}, "WAL_002"},
		{"unknown kind", ports.MutationRequest{Currency: domain.CurrencyEGP, Amount: dec("1"), Kind: "gift"}, "WAL_004"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupWalletService(t)
			ctx := context.Background()
			tx := &mockTx{}
			d.transactor.EXPECT().Begin(ctx).Return(tx, nil)

			_, err := d.svc.Credit(ctx, tt.req)
			assertAppError(t, err, tt.code)
			assert.False(t, tx.committed)
		})
	}
}

func TestWalletService_Credit_PublishFailureIsNotFatal(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	userID := uuid.New()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetForUpdate(ctx, tx, userID, domain.CurrencyEGP).Return(wallet(userID, domain.CurrencyEGP, "0"), nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, userID, domain.CurrencyEGP, decimalEq("25.50")).Return(nil)
	d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any()).DoAndReturn(assignID(7))
	d.metrics.EXPECT().EntryRecorded(domain.EntryKindRefund, domain.CurrencyEGP)
	d.publisher.EXPECT().Publish(gomock.Any(), domain.EventLedgerEntryRecorded, gomock.Any()).Return(errors.New("broker down"))

	entry, err := d.svc.Credit(ctx, ports.MutationRequest{
		UserID: userID, Currency: domain.CurrencyEGP, Amount: dec("25.50"), Kind: domain.EntryKindRefund,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), entry.ID)
}

func TestWalletService_StorageErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, "SYS_003"},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, "SYS_003"},
		{"lock not available", &pgconn.PgError{Code: "55P03"}, "SYS_003"},
		{"lock wait deadline", context.DeadlineExceeded, "SYS_002"},
		{"anything else", errors.New("connection reset"), "SYS_001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupWalletService(t)
			ctx := context.Background()
			userID := uuid.New()
			tx := &mockTx{}

			d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
			d.walletRepo.EXPECT().GetForUpdate(ctx, tx, userID, domain.CurrencyEGP).Return(nil, tt.err)

			_, err := d.svc.Debit(ctx, ports.MutationRequest{
				UserID: userID, Currency: domain.CurrencyEGP, Amount: dec("1"), Kind: domain.EntryKindPurchase,
			})
			assertAppError(t, err, tt.code)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestWalletService_CommitConflictIsRetryable(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	userID := uuid.New()
	tx := &mockTx{commitErr: &pgconn.PgError{Code: "40001"}}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetForUpdate(ctx, tx, userID, domain.CurrencyEGP).Return(wallet(userID, domain.CurrencyEGP, "10"), nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, userID, domain.CurrencyEGP, gomock.Any()).Return(nil)
	d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)

	_, err := d.svc.Debit(ctx, ports.MutationRequest{
		UserID: userID, Currency: domain.CurrencyEGP, Amount: dec("1"), Kind: domain.EntryKindPurchase,
	})
	assertAppError(t, err, "SYS_003")
}

// ==================== Locking / Transfer ====================

func TestWalletService_LockTx_SortsAndDedupes(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	tx := &mockTx{}
	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")

	gomock.InOrder(
		d.walletRepo.EXPECT().GetForUpdate(ctx, tx, a, domain.CurrencyEGP).Return(wallet(a, domain.CurrencyEGP, "0"), nil),
		d.walletRepo.EXPECT().GetForUpdate(ctx, tx, a, domain.CurrencyGold).Return(wallet(a, domain.CurrencyGold, "0"), nil),
		d.walletRepo.EXPECT().GetForUpdate(ctx, tx, b, domain.CurrencyEGP).Return(wallet(b, domain.CurrencyEGP, "0"), nil),
	)

	err := d.svc.LockTx(ctx, tx,
		domain.WalletKey{UserID: b, Currency: domain.CurrencyEGP},
		domain.WalletKey{UserID: a, Currency: domain.CurrencyGold},
		domain.WalletKey{UserID: a, Currency: domain.CurrencyEGP},
		domain.WalletKey{UserID: b, Currency: domain.CurrencyEGP},
	)
	require.NoError(t, err)
}

func TestWalletService_Transfer_LocksInKeyOrder(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	tx := &mockTx{}
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	gomock.InOrder(
		// Up-front locks: low before high regardless of direction.
		d.walletRepo.EXPECT().GetForUpdate(ctx, tx, low, domain.CurrencyEGP).Return(wallet(low, domain.CurrencyEGP, "0"), nil),
		d.walletRepo.EXPECT().GetForUpdate(ctx, tx, high, domain.CurrencyEGP).Return(wallet(high, domain.CurrencyEGP, "50"), nil),
		// Debit sender.
		d.walletRepo.EXPECT().GetForUpdate(ctx, tx, high, domain.CurrencyEGP).Return(wallet(high, domain.CurrencyEGP, "50"), nil),
		d.walletRepo.EXPECT().UpdateBalance(ctx, tx, high, domain.CurrencyEGP, decimalEq("30")).Return(nil),
		d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any()).DoAndReturn(assignID(1)),
		// Credit receiver.
		d.walletRepo.EXPECT().GetForUpdate(ctx, tx, low, domain.CurrencyEGP).Return(wallet(low, domain.CurrencyEGP, "0"), nil),
		d.walletRepo.EXPECT().UpdateBalance(ctx, tx, low, domain.CurrencyEGP, decimalEq("20")).Return(nil),
		d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any()).DoAndReturn(assignID(2)),
	)
	d.metrics.EXPECT().EntryRecorded(domain.EntryKindTransfer, domain.CurrencyEGP).Times(2)
	d.publisher.EXPECT().Publish(gomock.Any(), domain.EventLedgerEntryRecorded, gomock.Any()).Return(nil).Times(2)

	res, err := d.svc.Transfer(ctx, ports.TransferRequest{
		FromUserID: high, ToUserID: low, Currency: domain.CurrencyEGP, Amount: dec("20"), Description: "gift",
	})

	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.Equal(t, res.TransferID, res.Debit.Metadata[domain.MetaTransferID])
	assert.Equal(t, res.TransferID, res.Credit.Metadata[domain.MetaTransferID])
	assert.Equal(t, low.String(), res.Debit.Metadata[domain.MetaCounterparty])
}

func TestWalletService_Transfer_ReceiverMissingRollsBack(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	tx := &mockTx{}
	from := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	to := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetForUpdate(ctx, tx, from, domain.CurrencyEGP).Return(wallet(from, domain.CurrencyEGP, "50"), nil)
	d.walletRepo.EXPECT().GetForUpdate(ctx, tx, to, domain.CurrencyEGP).Return(nil, nil)

	_, err := d.svc.Transfer(ctx, ports.TransferRequest{
		FromUserID: from, ToUserID: to, Currency: domain.CurrencyEGP, Amount: dec("20"),
	})
	assertAppError(t, err, "WAL_003")
	assert.False(t, tx.committed)
}

func TestWalletService_Transfer_SameUserRejected(t *testing.T) {
	d := setupWalletService(t)
	u := uuid.New()

	_, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		FromUserID: u, ToUserID: u, Currency: domain.CurrencyEGP, Amount: dec("1"),
	})
	assertAppError(t, err, "WAL_004")
}

// ==================== Lazy creation / Adjust / Audit ====================

func TestWalletService_GetBalance_CreatesLazily(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	userID := uuid.New()

	gomock.InOrder(
		d.walletRepo.EXPECT().Ensure(ctx, userID, domain.CurrencyGold).Return(nil),
		d.walletRepo.EXPECT().Get(ctx, userID, domain.CurrencyGold).Return(wallet(userID, domain.CurrencyGold, "0"), nil),
	)

	bal, err := d.svc.GetBalance(ctx, userID, domain.CurrencyGold)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestWalletService_GetBalance_InvalidCurrency(t *testing.T) {
	d := setupWalletService(t)
	_, err := d.svc.GetBalance(context.Background(), uuid.New(), "BTC")
	assertAppError(t, err, "WAL_002")
}

func TestWalletService_Provision_AllCurrencies(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	userID := uuid.New()

	for _, c := range domain.Currencies {
		d.walletRepo.EXPECT().Ensure(ctx, userID, c).Return(nil)
	}
	require.NoError(t, d.svc.Provision(ctx, userID))
}

func TestWalletService_Adjust_NegativeDeltaDebits(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	userID := uuid.New()
	tx := &mockTx{}

	d.walletRepo.EXPECT().Ensure(ctx, userID, domain.CurrencyMass).Return(nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetForUpdate(ctx, tx, userID, domain.CurrencyMass).Return(wallet(userID, domain.CurrencyMass, "10"), nil)
	d.walletRepo.EXPECT().UpdateBalance(ctx, tx, userID, domain.CurrencyMass, decimalEq("7.50")).Return(nil)
	d.ledgerRepo.EXPECT().Append(ctx, tx, gomock.Any()).DoAndReturn(assignID(3))
	d.expectAnnounce(domain.EntryKindAdminAdjustment, domain.CurrencyMass)

	entry, err := d.svc.Adjust(ctx, ports.AdjustRequest{
		UserID: userID, Currency: domain.CurrencyMass, Delta: dec("-2.50"), Reason: "duplicate bonus", Actor: "ops",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.DirectionDebit, entry.Direction)
	assert.True(t, dec("2.5").Equal(entry.Amount))
	assert.Equal(t, "ops", entry.Metadata[domain.MetaActor])
	assert.Equal(t, "duplicate bonus", entry.Metadata[domain.MetaReason])
}

func TestWalletService_Adjust_RequiresReason(t *testing.T) {
	d := setupWalletService(t)
	_, err := d.svc.Adjust(context.Background(), ports.AdjustRequest{
		UserID: uuid.New(), Currency: domain.CurrencyEGP, Delta: dec("5"),
	})
	assertAppError(t, err, "WAL_004")
}

func TestWalletService_Audit(t *testing.T) {
	d := setupWalletService(t)
	ctx := context.Background()
	userID := uuid.New()

	d.walletRepo.EXPECT().Get(ctx, userID, domain.CurrencyEGP).Return(wallet(userID, domain.CurrencyEGP, "40"), nil)
	d.ledgerRepo.EXPECT().SignedSum(ctx, userID, domain.CurrencyEGP).Return(dec("40.00"), nil)

	res, err := d.svc.Audit(ctx, userID, domain.CurrencyEGP)
	require.NoError(t, err)
	assert.True(t, res.Consistent)

	d.walletRepo.EXPECT().Get(ctx, userID, domain.CurrencyEGP).Return(wallet(userID, domain.CurrencyEGP, "40"), nil)
	d.ledgerRepo.EXPECT().SignedSum(ctx, userID, domain.CurrencyEGP).Return(dec("35"), nil)

	res, err = d.svc.Audit(ctx, userID, domain.CurrencyEGP)
	require.NoError(t, err)
	assert.False(t, res.Consistent)
}
