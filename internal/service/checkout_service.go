package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-ledger/config"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultRefundTimeout = 30 * time.Second

// CheckoutDeps groups the collaborators of CheckoutServiceImpl.
type CheckoutDeps struct {
	Orders         ports.OrderRepository
	Carts          ports.CartRepository
	Wallets        ports.WalletService
	Ledger         ports.LedgerService
	Gateway        ports.PaymentGateway
	Lock           ports.PaymentLock
	Reconciliation ports.ReconciliationService
	Transactor     ports.DBTransactor
	Publisher      ports.EventPublisher
	Metrics        ports.Metrics
}

// CheckoutServiceImpl implements ports.CheckoutService.
type CheckoutServiceImpl struct {
	orders         ports.OrderRepository
	carts          ports.CartRepository
	wallets        ports.WalletService
	ledger         ports.LedgerService
	gateway        ports.PaymentGateway
	lock           ports.PaymentLock
	reconciliation ports.ReconciliationService
	transactor     ports.DBTransactor
	metrics        ports.Metrics
	announce       announcer
	taxRate        decimal.Decimal
	lockTTL        time.Duration
	refundTimeout  time.Duration
	log            zerolog.Logger
}

// NewCheckoutService creates a new CheckoutServiceImpl.
func NewCheckoutService(deps CheckoutDeps, cfg config.CheckoutConfig, gw config.GatewayConfig, log zerolog.Logger) (*CheckoutServiceImpl, error) {
	taxRate, err := decimal.NewFromString(cfg.TaxRate)
	if err != nil {
		return nil, fmt.Errorf("checkout.tax_rate: %w", err)
	}
	if taxRate.IsNegative() {
		return nil, fmt.Errorf("checkout.tax_rate must not be negative")
	}
	refundTimeout := gw.RefundTimeout
	if refundTimeout <= 0 {
		refundTimeout = defaultRefundTimeout
	}

	return &CheckoutServiceImpl{
		orders:         deps.Orders,
		carts:          deps.Carts,
		wallets:        deps.Wallets,
		ledger:         deps.Ledger,
		gateway:        deps.Gateway,
		lock:           deps.Lock,
		reconciliation: deps.Reconciliation,
		transactor:     deps.Transactor,
		metrics:        deps.Metrics,
		announce:       announcer{publisher: deps.Publisher, metrics: deps.Metrics, log: log},
		taxRate:        taxRate,
		lockTTL:        cfg.PaymentLockTTL,
		refundTimeout:  refundTimeout,
		log:            log,
	}, nil
}

// CreateFromCart prices the user's cart in the payment currency and creates a
// pending order. The balance check here is advisory; nothing is held.
func (s *CheckoutServiceImpl) CreateFromCart(ctx context.Context, req ports.CreateOrderRequest) (*domain.Order, error) {
	if !req.PaymentMethod.Valid() {
		return nil, apperror.ErrInvalidCurrency(string(req.PaymentMethod))
	}

	items, err := s.carts.ListByUser(ctx, req.UserID)
	if err != nil {
		return nil, storageError("list cart", err)
	}
	if len(items) == 0 {
		return nil, apperror.ErrEmptyCart()
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:              uuid.New(),
		UserID:          req.UserID,
		Status:          domain.OrderStatusPending,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: req.ShippingAddress,
		ShippingPhone:   req.ShippingPhone,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	subtotal := decimal.Zero
	for i := range items {
		if items[i].Quantity < 1 {
			return nil, apperror.Validation(fmt.Sprintf("Invalid quantity for product %s", items[i].ProductID))
		}
		snap, ok := items[i].Snapshot(order.ID, req.PaymentMethod)
		if !ok {
			return nil, apperror.ErrPriceUnavailable(items[i].ProductID, string(req.PaymentMethod))
		}
		subtotal = subtotal.Add(snap.TotalPrice)
		order.Items = append(order.Items, snap)
	}

	order.Subtotal = domain.RoundMoney(subtotal)
	order.TaxAmount = domain.RoundMoney(order.Subtotal.Mul(s.taxRate))
	order.TotalAmount = order.Subtotal.Add(order.TaxAmount)

	balance, err := s.wallets.GetBalance(ctx, req.UserID, req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(order.TotalAmount) {
		return nil, apperror.ErrInsufficientFunds()
	}

	err = runInTx(ctx, s.transactor, func(tx pgx.Tx) error {
		if err := s.orders.Create(ctx, tx, order); err != nil {
			return storageError("create order", err)
		}
		if err := s.carts.Clear(ctx, tx, req.UserID); err != nil {
			return storageError("clear cart", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("user_id", req.UserID.String()).
		Str("currency", string(order.PaymentMethod)).
		Str("total", order.TotalAmount.StringFixed(domain.MoneyScale)).
		Int("items", len(order.Items)).
		Msg("order created")
	return order, nil
}

// ProcessPayment charges the gateway and then debits the wallet. If the debit
// cannot be recorded the charge is refunded; if that fails a reconciliation
// case is opened.
func (s *CheckoutServiceImpl) ProcessPayment(ctx context.Context, orderID uuid.UUID, actor uuid.UUID) (*domain.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		return nil, apperror.ErrOrderStateConflict(string(order.Status), string(domain.OrderStatusPaid))
	}

	// Per-order guard. Without Redis the row lock below still makes the
	// debit exactly-once; only the duplicate gateway charge is unguarded.
	token, acquired, err := s.lock.Acquire(ctx, orderID, s.lockTTL)
	switch {
	case err != nil:
		s.log.Warn().Err(err).Str("order_id", orderID.String()).Msg("payment lock unavailable, continuing without it")
	case !acquired:
		return nil, apperror.ErrConcurrentModification(fmt.Errorf("payment already in progress for order %s", orderID))
	default:
		defer s.releaseLock(ctx, orderID, token)
	}

	balance, err := s.wallets.GetBalance(ctx, order.UserID, order.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(order.TotalAmount) {
		return nil, apperror.ErrInsufficientFunds()
	}

	result, err := s.gateway.ProcessPayment(ctx, domain.PaymentCharge{
		Amount:      order.TotalAmount,
		Currency:    order.PaymentMethod,
		Description: "Order #" + order.ID.String(),
		Metadata: map[string]string{
			"order_id": order.ID.String(),
			"user_id":  order.UserID.String(),
		},
	})
	if err != nil {
		if _, ok := apperror.As(err); ok {
			return nil, err
		}
		return nil, apperror.ErrGatewayError(err)
	}
	if !result.Success {
		s.log.Info().Str("order_id", orderID.String()).Str("reason", result.Error).Msg("payment declined")
		return nil, apperror.ErrGatewayFailure(result.Error)
	}

	paid, entry, err := s.recordPayment(ctx, orderID, result.TransactionID)
	if err != nil {
		return nil, s.compensate(ctx, order, result.TransactionID, err)
	}

	s.announce.entries(ctx, entry)
	s.announce.publish(ctx, domain.EventOrderPaid, map[string]interface{}{
		"order_id":    paid.ID,
		"user_id":     paid.UserID,
		"currency":    paid.PaymentMethod,
		"amount":      paid.TotalAmount.StringFixed(domain.MoneyScale),
		"entry_id":    entry.ID,
		"gateway_txn": result.TransactionID,
	})
	s.log.Info().
		Str("order_id", orderID.String()).
		Str("actor", actor.String()).
		Int64("entry_id", entry.ID).
		Str("gateway_txn", result.TransactionID).
		Msg("order paid")
	return paid, nil
}

// recordPayment is the settlement transaction: order row lock, status recheck,
// wallet debit, order update.
func (s *CheckoutServiceImpl) recordPayment(ctx context.Context, orderID uuid.UUID, gatewayTxnID string) (*domain.Order, *domain.LedgerEntry, error) {
	var (
		order *domain.Order
		entry *domain.LedgerEntry
	)
	err := runInTx(ctx, s.transactor, func(tx pgx.Tx) error {
		var err error
		order, err = s.orders.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return storageError("lock order", err)
		}
		if order == nil {
			return apperror.ErrNotFound("Order")
		}
		if order.Status != domain.OrderStatusPending {
			return apperror.ErrOrderStateConflict(string(order.Status), string(domain.OrderStatusPaid))
		}

		ref := order.ID
		entry, err = s.wallets.DebitTx(ctx, tx, ports.MutationRequest{
			UserID:      order.UserID,
			Currency:    order.PaymentMethod,
			Amount:      order.TotalAmount,
			Kind:        domain.EntryKindPurchase,
			Description: fmt.Sprintf("Order #%s - Gateway: %s", order.ID, gatewayTxnID),
			OrderRef:    &ref,
			Metadata:    map[string]string{domain.MetaGatewayTxnID: gatewayTxnID},
		})
		if err != nil {
			if apperror.HasCode(err, "WAL_001") {
				// The advisory check passed but the balance changed before the lock.
				return apperror.ErrConcurrentModification(err)
			}
			return err
		}

		order.MarkPaid(entry.ID, gatewayTxnID, time.Now().UTC())
		if err := s.orders.Update(ctx, tx, order); err != nil {
			return storageError("update order", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return order, entry, nil
}

// compensate refunds a charge that could not be recorded. It runs detached
// from the caller's cancellation and always returns GW_003 wrapping cause.
func (s *CheckoutServiceImpl) compensate(ctx context.Context, order *domain.Order, gatewayTxnID string, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refundTimeout)
	defer cancel()

	s.log.Error().
		Err(cause).
		Str("order_id", order.ID.String()).
		Str("gateway_txn", gatewayTxnID).
		Msg("charge succeeded but ledger debit failed, refunding")

	refund, err := s.gateway.RefundPayment(ctx, gatewayTxnID, nil)
	if err == nil && refund != nil && refund.Success {
		s.metrics.CompensationOutcome("refunded")
		s.log.Warn().
			Str("order_id", order.ID.String()).
			Str("gateway_txn", gatewayTxnID).
			Str("refund_id", refund.RefundID).
			Msg("compensating refund succeeded")
		return apperror.ErrGatewayChargedButLedgerFailed(cause)
	}

	lastErr := "empty refund result"
	switch {
	case err != nil:
		lastErr = err.Error()
	case refund != nil:
		lastErr = refund.Error
	}

	s.metrics.CompensationOutcome("reconciliation")
	c := &domain.ReconciliationCase{
		OrderID:              order.ID,
		UserID:               order.UserID,
		GatewayTransactionID: gatewayTxnID,
		Amount:               order.TotalAmount,
		Currency:             order.PaymentMethod,
		Attempts:             1,
		LastError:            lastErr,
	}
	if openErr := s.reconciliation.Open(ctx, c); openErr != nil {
		s.log.Error().
			Err(openErr).
			Str("order_id", order.ID.String()).
			Str("gateway_txn", gatewayTxnID).
			Str("amount", order.TotalAmount.StringFixed(domain.MoneyScale)).
			Msg("failed to open reconciliation case")
	}
	return apperror.ErrGatewayChargedButLedgerFailed(cause)
}

func (s *CheckoutServiceImpl) releaseLock(ctx context.Context, orderID uuid.UUID, token string) {
	if err := s.lock.Release(context.WithoutCancel(ctx), orderID, token); err != nil {
		s.log.Warn().Err(err).Str("order_id", orderID.String()).Msg("payment lock release failed")
	}
}

// Cancel moves a pending or paid order to cancelled. A paid order's purchase
// entry is reversed in the same transaction.
func (s *CheckoutServiceImpl) Cancel(ctx context.Context, orderID uuid.UUID, actor uuid.UUID) (*domain.Order, error) {
	var (
		order *domain.Order
		rev   *domain.LedgerEntry
	)
	err := runInTx(ctx, s.transactor, func(tx pgx.Tx) error {
		var err error
		order, err = s.orders.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return storageError("lock order", err)
		}
		if order == nil {
			return apperror.ErrNotFound("Order")
		}
		if !order.Status.CanTransition(domain.OrderStatusCancelled) {
			return apperror.ErrOrderStateConflict(string(order.Status), string(domain.OrderStatusCancelled))
		}

		if order.Status == domain.OrderStatusPaid && order.LedgerEntryID != nil {
			rev, err = s.ledger.ReverseTx(ctx, tx, *order.LedgerEntryID, "order cancelled", actor.String())
			if err != nil {
				return err
			}
		}

		order.Status = domain.OrderStatusCancelled
		order.UpdatedAt = time.Now().UTC()
		if err := s.orders.Update(ctx, tx, order); err != nil {
			return storageError("update order", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.announce.entries(ctx, rev)
	s.log.Info().
		Str("order_id", orderID.String()).
		Str("actor", actor.String()).
		Bool("refunded", rev != nil).
		Msg("order cancelled")
	return order, nil
}

// AdvanceStatus performs fulfilment transitions that move no money.
func (s *CheckoutServiceImpl) AdvanceStatus(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus) (*domain.Order, error) {
	switch to {
	case domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered:
	default:
		return nil, apperror.Validation(fmt.Sprintf("Status %q is not a fulfilment status", to))
	}

	var order *domain.Order
	err := runInTx(ctx, s.transactor, func(tx pgx.Tx) error {
		var err error
		order, err = s.orders.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return storageError("lock order", err)
		}
		if order == nil {
			return apperror.ErrNotFound("Order")
		}
		if !order.Status.CanTransition(to) {
			return apperror.ErrOrderStateConflict(string(order.Status), string(to))
		}
		order.Status = to
		order.UpdatedAt = time.Now().UTC()
		if err := s.orders.Update(ctx, tx, order); err != nil {
			return storageError("update order", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("order_id", orderID.String()).Str("status", string(to)).Msg("order status advanced")
	return order, nil
}

func (s *CheckoutServiceImpl) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, storageError("get order", err)
	}
	if order == nil {
		return nil, apperror.ErrNotFound("Order")
	}
	return order, nil
}
