package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketplace-ledger/config"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/internal/core/ports/mocks"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type checkoutTestDeps struct {
	svc        *CheckoutServiceImpl
	orders     *mocks.MockOrderRepository
	carts      *mocks.MockCartRepository
	wallets    *mocks.MockWalletService
	ledger     *mocks.MockLedgerService
	gateway    *mocks.MockPaymentGateway
	lock       *mocks.MockPaymentLock
	recon      *mocks.MockReconciliationService
	transactor *mocks.MockDBTransactor
	publisher  *mocks.MockEventPublisher
	metrics    *mocks.MockMetrics
}

func setupCheckoutService(t *testing.T) *checkoutTestDeps {
	ctrl := gomock.NewController(t)
	d := &checkoutTestDeps{
		orders:     mocks.NewMockOrderRepository(ctrl),
		carts:      mocks.NewMockCartRepository(ctrl),
		wallets:    mocks.NewMockWalletService(ctrl),
		ledger:     mocks.NewMockLedgerService(ctrl),
		gateway:    mocks.NewMockPaymentGateway(ctrl),
		lock:       mocks.NewMockPaymentLock(ctrl),
		recon:      mocks.NewMockReconciliationService(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		publisher:  mocks.NewMockEventPublisher(ctrl),
		metrics:    mocks.NewMockMetrics(ctrl),
	}
	svc, err := NewCheckoutService(CheckoutDeps{
		Orders:         d.orders,
		Carts:          d.carts,
		Wallets:        d.wallets,
		Ledger:         d.ledger,
		Gateway:        d.gateway,
		Lock:           d.lock,
		Reconciliation: d.recon,
		Transactor:     d.transactor,
		Publisher:      d.publisher,
		Metrics:        d.metrics,
	},
		config.CheckoutConfig{TaxRate: "0.05", PaymentLockTTL: time.Minute},
		config.GatewayConfig{Timeout: time.Second, RefundTimeout: time.Second},
		zerolog.Nop(),
	)
	require.NoError(t, err)
	d.svc = svc
	return d
}

func price(s string) *decimal.Decimal {
	p := dec(s)
	return &p
}

func pendingOrder(total string) *domain.Order {
	return &domain.Order{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.CurrencyEGP,
		TotalAmount:   dec(total),
	}
}

// ==================== CreateFromCart ====================

func TestNewCheckoutService_RejectsBadTaxRate(t *testing.T) {
	_, err := NewCheckoutService(CheckoutDeps{}, config.CheckoutConfig{TaxRate: "five"}, config.GatewayConfig{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewCheckoutService(CheckoutDeps{}, config.CheckoutConfig{TaxRate: "-0.1"}, config.GatewayConfig{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestCheckoutService_CreateFromCart_PricesAndClearsCart(t *testing.T) {
	d := setupCheckoutService(t)
	ctx := context.Background()
	userID := uuid.New()
	tx := &mockTx{}

	d.carts.EXPECT().ListByUser(ctx, userID).Return([]domain.CartItem{
		{UserID: userID, ProductID: "p1", Quantity: 2, PriceEGP: price("40.00"), PriceGold: price("1")},
		{UserID: userID, ProductID: "p2", Quantity: 1, PriceEGP: price("20.00")},
	}, nil)
	d.wallets.EXPECT().GetBalance(ctx, userID, domain.CurrencyEGP).Return(dec("105"), nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.orders.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.carts.EXPECT().Clear(ctx, tx, userID).Return(nil)

	order, err := d.svc.CreateFromCart(ctx, ports.CreateOrderRequest{UserID: userID, PaymentMethod: domain.CurrencyEGP})

	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.True(t, dec("100").Equal(order.Subtotal))
	assert.True(t, dec("5").Equal(order.TaxAmount))
	assert.True(t, dec("105").Equal(order.TotalAmount))
	require.Len(t, order.Items, 2)
	assert.True(t, dec("80").Equal(order.Items[0].TotalPrice))
}

func TestCheckoutService_CreateFromCart_Rejections(t *testing.T) {
	userID := uuid.New()
	tests := []struct {
		name     string
		items    []domain.CartItem
		currency domain.Currency
		code     string
	}{
		{"empty cart", nil, domain.CurrencyEGP, "ORD_003"},
		{"no price in currency", []domain.CartItem{{ProductID: "p1", Quantity: 1, PriceEGP: price("1")}}, domain.CurrencyMass, "ORD_004"},
		{"zero quantity", []domain.CartItem{{ProductID: "p1", Quantity: 0, PriceEGP: price("1")}}, domain.CurrencyEGP, "WAL_004"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupCheckoutService(t)
			d.carts.EXPECT().ListByUser(gomock.Any(), userID).Return(tt.items, nil)

			_, err := d.svc.CreateFromCart(context.Background(), ports.CreateOrderRequest{UserID: userID, PaymentMethod: tt.currency})
			assertAppError(t, err, tt.code)
		})
	}
}

func TestCheckoutService_CreateFromCart_InvalidCurrency(t *testing.T) {
	d := setupCheckoutService(t)
	_, err := d.svc.CreateFromCart(context.Background(), ports.CreateOrderRequest{UserID: uuid.New(), PaymentMethod: "USD"})
	assertAppError(t, err, "WAL_002")
}

func TestCheckoutService_CreateFromCart_InsufficientBalance(t *testing.T) {
	d := setupCheckoutService(t)
	userID := uuid.New()

	d.carts.EXPECT().ListByUser(gomock.Any(), userID).Return([]domain.CartItem{
		{ProductID: "p1", Quantity: 1, PriceGold: price("10")},
	}, nil)
	d.wallets.EXPECT().GetBalance(gomock.Any(), userID, domain.CurrencyGold).Return(dec("10.49"), nil)

	_, err := d.svc.CreateFromCart(context.Background(), ports.CreateOrderRequest{UserID: userID, PaymentMethod: domain.CurrencyGold})
	assertAppError(t, err, "WAL_001")
}

// ==================== ProcessPayment ====================

func TestCheckoutService_ProcessPayment_Success(t *testing.T) {
	d := setupCheckoutService(t)
	ctx := context.Background()
	order := pendingOrder("105.00")
	locked := *order
	tx := &mockTx{}

	d.orders.EXPECT().GetByID(ctx, order.ID).Return(order, nil)
	d.lock.EXPECT().Acquire(ctx, order.ID, time.Minute).Return("tok-1", true, nil)
	d.wallets.EXPECT().GetBalance(ctx, order.UserID, domain.CurrencyEGP).Return(dec("200"), nil)
	d.gateway.EXPECT().ProcessPayment(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, c domain.PaymentCharge) (*domain.PaymentResult, error) {
			assert.True(t, dec("105").Equal(c.Amount))
			assert.Equal(t, order.ID.String(), c.Metadata["order_id"])
			return &domain.PaymentResult{Success: true, TransactionID: "mock_1"}, nil
		})
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.orders.EXPECT().GetByIDForUpdate(ctx, tx, order.ID).Return(&locked, nil)
	d.wallets.EXPECT().DebitTx(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, req ports.MutationRequest) (*domain.LedgerEntry, error) {
			assert.Equal(t, domain.EntryKindPurchase, req.Kind)
			assert.Equal(t, "mock_1", req.Metadata[domain.MetaGatewayTxnID])
			require.NotNil(t, req.OrderRef)
			assert.Equal(t, order.ID, *req.OrderRef)
			return &domain.LedgerEntry{ID: 11, Kind: req.Kind, Currency: req.Currency, Amount: req.Amount}, nil
		})
	d.orders.EXPECT().Update(ctx, tx, gomock.Any()).Return(nil)
	d.metrics.EXPECT().EntryRecorded(domain.EntryKindPurchase, domain.CurrencyEGP)
	d.publisher.EXPECT().Publish(gomock.Any(), domain.EventLedgerEntryRecorded, gomock.Any()).Return(nil)
	d.publisher.EXPECT().Publish(gomock.Any(), domain.EventOrderPaid, gomock.Any()).Return(nil)
	d.lock.EXPECT().Release(gomock.Any(), order.ID, "tok-1").Return(nil)

	paid, err := d.svc.ProcessPayment(ctx, order.ID, order.UserID)

	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.Equal(t, domain.OrderStatusPaid, paid.Status)
	require.NotNil(t, paid.LedgerEntryID)
	assert.Equal(t, int64(11), *paid.LedgerEntryID)
	assert.True(t, dec("105").Equal(paid.EGPAmount))
	require.NotNil(t, paid.GatewayTransactionID)
	assert.Equal(t, "mock_1", *paid.GatewayTransactionID)
}

func TestCheckoutService_ProcessPayment_NotPending(t *testing.T) {
	d := setupCheckoutService(t)
	order := pendingOrder("1")
	order.Status = domain.OrderStatusPaid
	d.orders.EXPECT().GetByID(gomock.Any(), order.ID).Return(order, nil)

	_, err := d.svc.ProcessPayment(context.Background(), order.ID, uuid.New())
	assertAppError(t, err, "ORD_001")
}

func TestCheckoutService_ProcessPayment_LockHeld(t *testing.T) {
	d := setupCheckoutService(t)
	order := pendingOrder("1")
	d.orders.EXPECT().GetByID(gomock.Any(), order.ID).Return(order, nil)
	d.lock.EXPECT().Acquire(gomock.Any(), order.ID, time.Minute).Return("", false, nil)

	_, err := d.svc.ProcessPayment(context.Background(), order.ID, uuid.New())
	assertAppError(t, err, "SYS_003")
}

func TestCheckoutService_ProcessPayment_InsufficientFundsSkipsGateway(t *testing.T) {
	d := setupCheckoutService(t)
	ctx := context.Background()
	order := pendingOrder("105")

	d.orders.EXPECT().GetByID(ctx, order.ID).Return(order, nil)
	// Redis down: payment proceeds without the lock.
	d.lock.EXPECT().Acquire(ctx, order.ID, time.Minute).Return("", false, errors.New("redis down"))
	d.wallets.EXPECT().GetBalance(ctx, order.UserID, domain.CurrencyEGP).Return(dec("100"), nil)
	d.gateway.EXPECT().ProcessPayment(gomock.Any(), gomock.Any()).Times(0)

	_, err := d.svc.ProcessPayment(ctx, order.ID, order.UserID)
	assertAppError(t, err, "WAL_001")
}

func TestCheckoutService_ProcessPayment_GatewayOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		result *domain.PaymentResult
		err    error
		code   string
	}{
		{"declined", &domain.PaymentResult{Success: false, Error: "card declined"}, nil, "GW_001"},
		{"timeout", nil, apperror.ErrGatewayTimeout(context.DeadlineExceeded), "GW_002"},
		{"transport error", nil, errors.New("connection refused"), "GW_001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupCheckoutService(t)
			order := pendingOrder("10")
			d.orders.EXPECT().GetByID(gomock.Any(), order.ID).Return(order, nil)
			d.lock.EXPECT().Acquire(gomock.Any(), order.ID, gomock.Any()).Return("tok-1", true, nil)
			d.lock.EXPECT().Release(gomock.Any(), order.ID, "tok-1").Return(nil)
			d.wallets.EXPECT().GetBalance(gomock.Any(), order.UserID, domain.CurrencyEGP).Return(dec("10"), nil)
			d.gateway.EXPECT().ProcessPayment(gomock.Any(), gomock.Any()).Return(tt.result, tt.err)

			_, err := d.svc.ProcessPayment(context.Background(), order.ID, order.UserID)
			assertAppError(t, err, tt.code)
		})
	}
}

func TestCheckoutService_ProcessPayment_LedgerFailureRefunds(t *testing.T) {
	d := setupCheckoutService(t)
	ctx := context.Background()
	order := pendingOrder("50")
	locked := *order
	tx := &mockTx{}

	d.orders.EXPECT().GetByID(ctx, order.ID).Return(order, nil)
	d.lock.EXPECT().Acquire(ctx, order.ID, gomock.Any()).Return("tok-1", true, nil)
	d.lock.EXPECT().Release(gomock.Any(), order.ID, "tok-1").Return(nil)
	d.wallets.EXPECT().GetBalance(ctx, order.UserID, domain.CurrencyEGP).Return(dec("50"), nil)
	d.gateway.EXPECT().ProcessPayment(ctx, gomock.Any()).Return(&domain.PaymentResult{Success: true, TransactionID: "mock_2"}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.orders.EXPECT().GetByIDForUpdate(ctx, tx, order.ID).Return(&locked, nil)
	// Balance drained between the precheck and the lock.
	d.wallets.EXPECT().DebitTx(ctx, tx, gomock.Any()).Return(nil, apperror.ErrInsufficientFunds())
	d.gateway.EXPECT().RefundPayment(gomock.Any(), "mock_2", nil).Return(&domain.RefundResult{Success: true, RefundID: "refund_1"}, nil)
	d.metrics.EXPECT().CompensationOutcome("refunded")

	_, err := d.svc.ProcessPayment(ctx, order.ID, order.UserID)

	assertAppError(t, err, "GW_003")
	assert.True(t, apperror.HasCode(err, "SYS_003"))
	assert.False(t, tx.committed)
}

func TestCheckoutService_ProcessPayment_RefundFailureOpensCase(t *testing.T) {
	d := setupCheckoutService(t)
	ctx := context.Background()
	order := pendingOrder("50")
	tx := &mockTx{commitErr: errors.New("connection lost")}

	d.orders.EXPECT().GetByID(ctx, order.ID).Return(order, nil)
	d.lock.EXPECT().Acquire(ctx, order.ID, gomock.Any()).Return("tok-1", true, nil)
	d.lock.EXPECT().Release(gomock.Any(), order.ID, "tok-1").Return(nil)
	d.wallets.EXPECT().GetBalance(ctx, order.UserID, domain.CurrencyEGP).Return(dec("50"), nil)
	d.gateway.EXPECT().ProcessPayment(ctx, gomock.Any()).Return(&domain.PaymentResult{Success: true, TransactionID: "mock_3"}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.orders.EXPECT().GetByIDForUpdate(ctx, tx, order.ID).Return(pendingOrderCopy(order), nil)
	d.wallets.EXPECT().DebitTx(ctx, tx, gomock.Any()).Return(&domain.LedgerEntry{ID: 3}, nil)
	d.orders.EXPECT().Update(ctx, tx, gomock.Any()).Return(nil)
	d.gateway.EXPECT().RefundPayment(gomock.Any(), "mock_3", nil).Return(nil, errors.New("gateway down"))
	d.metrics.EXPECT().CompensationOutcome("reconciliation")
	d.recon.EXPECT().Open(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, c *domain.ReconciliationCase) error {
		assert.Equal(t, order.ID, c.OrderID)
		assert.Equal(t, "mock_3", c.GatewayTransactionID)
		assert.True(t, dec("50").Equal(c.Amount))
		assert.Equal(t, 1, c.Attempts)
		assert.Equal(t, "gateway down", c.LastError)
		return nil
	})

	_, err := d.svc.ProcessPayment(ctx, order.ID, order.UserID)
	assertAppError(t, err, "GW_003")
}

func TestCheckoutService_Compensate_SurvivesCallerCancel(t *testing.T) {
	d := setupCheckoutService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	order := pendingOrder("5")

	d.gateway.EXPECT().RefundPayment(gomock.Any(), "mock_4", nil).DoAndReturn(
		func(rctx context.Context, _ string, _ *decimal.Decimal) (*domain.RefundResult, error) {
			assert.NoError(t, rctx.Err())
			_, hasDeadline := rctx.Deadline()
			assert.True(t, hasDeadline)
			return &domain.RefundResult{Success: true}, nil
		})
	d.metrics.EXPECT().CompensationOutcome("refunded")

	err := d.svc.compensate(ctx, order, "mock_4", errors.New("boom"))
	assertAppError(t, err, "GW_003")
}

func pendingOrderCopy(o *domain.Order) *domain.Order {
	c := *o
	return &c
}

// ==================== Cancel / AdvanceStatus ====================

func TestCheckoutService_Cancel_PaidReversesEntry(t *testing.T) {
	d := setupCheckoutService(t)
	ctx := context.Background()
	tx := &mockTx{}
	actor := uuid.New()
	entryID := int64(42)
	order := pendingOrder("20")
	order.Status = domain.OrderStatusPaid
	order.LedgerEntryID = &entryID

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.orders.EXPECT().GetByIDForUpdate(ctx, tx, order.ID).Return(order, nil)
	d.ledger.EXPECT().ReverseTx(ctx, tx, entryID, "order cancelled", actor.String()).
		Return(&domain.LedgerEntry{ID: 43, Kind: domain.EntryKindRefund, Currency: domain.CurrencyEGP, ReversalOf: &entryID}, nil)
	d.orders.EXPECT().Update(ctx, tx, gomock.Any()).Return(nil)
	d.metrics.EXPECT().EntryRecorded(domain.EntryKindRefund, domain.CurrencyEGP)
	d.publisher.EXPECT().Publish(gomock.Any(), domain.EventLedgerEntryReversed, gomock.Any()).Return(nil)

	got, err := d.svc.Cancel(ctx, order.ID, actor)
	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
}

func TestCheckoutService_Cancel_PendingMovesNoMoney(t *testing.T) {
	d := setupCheckoutService(t)
	ctx := context.Background()
	tx := &mockTx{}
	order := pendingOrder("20")

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.orders.EXPECT().GetByIDForUpdate(ctx, tx, order.ID).Return(order, nil)
	d.orders.EXPECT().Update(ctx, tx, gomock.Any()).Return(nil)

	got, err := d.svc.Cancel(ctx, order.ID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
}

func TestCheckoutService_Cancel_ShippedRejected(t *testing.T) {
	d := setupCheckoutService(t)
	tx := &mockTx{}
	order := pendingOrder("20")
	order.Status = domain.OrderStatusShipped

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.orders.EXPECT().GetByIDForUpdate(gomock.Any(), tx, order.ID).Return(order, nil)

	_, err := d.svc.Cancel(context.Background(), order.ID, uuid.New())
	assertAppError(t, err, "ORD_001")
	assert.False(t, tx.committed)
}

func TestCheckoutService_AdvanceStatus(t *testing.T) {
	d := setupCheckoutService(t)
	ctx := context.Background()
	tx := &mockTx{}
	order := pendingOrder("1")
	order.Status = domain.OrderStatusPaid

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.orders.EXPECT().GetByIDForUpdate(ctx, tx, order.ID).Return(order, nil)
	d.orders.EXPECT().Update(ctx, tx, gomock.Any()).Return(nil)

	got, err := d.svc.AdvanceStatus(ctx, order.ID, domain.OrderStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, got.Status)

	_, err = d.svc.AdvanceStatus(ctx, order.ID, domain.OrderStatusRefunded)
	assertAppError(t, err, "WAL_004")
}

func TestCheckoutService_AdvanceStatus_SkipRejected(t *testing.T) {
	d := setupCheckoutService(t)
	tx := &mockTx{}
	order := pendingOrder("1")
	order.Status = domain.OrderStatusPaid

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.orders.EXPECT().GetByIDForUpdate(gomock.Any(), tx, order.ID).Return(order, nil)

	_, err := d.svc.AdvanceStatus(context.Background(), order.ID, domain.OrderStatusDelivered)
	assertAppError(t, err, "ORD_001")
}

func TestCheckoutService_GetOrder_NotFound(t *testing.T) {
	d := setupCheckoutService(t)
	d.orders.EXPECT().GetByID(gomock.Any(), gomock.Any()).Return(nil, nil)

	_, err := d.svc.GetOrder(context.Background(), uuid.New())
	assertAppError(t, err, "ORD_002")
}
