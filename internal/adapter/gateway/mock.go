// Package gateway holds payment gateway adapters.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MetaFail in a charge's metadata makes MockGateway decline it.
const MetaFail = "fail"

type mockCharge struct {
	amount   decimal.Decimal
	currency domain.Currency
	refunded decimal.Decimal
}

// MockGateway is an in-process payment processor for development and tests.
// Charges succeed unless the metadata carries fail=true.
type MockGateway struct {
	mu          sync.Mutex
	charges     map[string]*mockCharge
	latency     time.Duration
	refundFail  string
	chargeCount int
	refundCount int
}

// MockOption configures a MockGateway.
type MockOption func(*MockGateway)

// WithLatency delays every call by d, or until the context ends.
func WithLatency(d time.Duration) MockOption {
	return func(g *MockGateway) { g.latency = d }
}

// WithRefundFailure makes every refund fail with reason.
func WithRefundFailure(reason string) MockOption {
	return func(g *MockGateway) { g.refundFail = reason }
}

func NewMockGateway(opts ...MockOption) *MockGateway {
	g := &MockGateway{charges: make(map[string]*mockCharge)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *MockGateway) ProcessPayment(ctx context.Context, charge domain.PaymentCharge) (*domain.PaymentResult, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	details := map[string]string{
		"currency": string(charge.Currency),
		"amount":   charge.Amount.StringFixed(domain.MoneyScale),
	}
	if charge.Metadata[MetaFail] == "true" {
		return &domain.PaymentResult{
			Success: false,
			Error:   fmt.Sprintf("Simulated payment failure for %s", charge.Description),
			Details: details,
		}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	txnID := "mock_" + shortHex()
	g.charges[txnID] = &mockCharge{amount: charge.Amount, currency: charge.Currency, refunded: decimal.Zero}
	g.chargeCount++

	details["status"] = "completed"
	return &domain.PaymentResult{Success: true, TransactionID: txnID, Details: details}, nil
}

// RefundPayment refunds amount, or whatever remains of the charge when amount is nil.
func (g *MockGateway) RefundPayment(ctx context.Context, transactionID string, amount *decimal.Decimal) (*domain.RefundResult, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.refundFail != "" {
		return &domain.RefundResult{Success: false, Error: g.refundFail}, nil
	}

	c, ok := g.charges[transactionID]
	if !ok {
		return &domain.RefundResult{Success: false, Error: fmt.Sprintf("Transaction %s not found", transactionID)}, nil
	}

	remaining := c.amount.Sub(c.refunded)
	refund := remaining
	if amount != nil {
		if !amount.IsPositive() {
			return &domain.RefundResult{Success: false, Error: "Refund amount must be positive"}, nil
		}
		if amount.GreaterThan(remaining) {
			return &domain.RefundResult{
				Success: false,
				Error:   fmt.Sprintf("Refund amount %s exceeds refundable %s", amount.StringFixed(2), remaining.StringFixed(2)),
			}, nil
		}
		refund = *amount
	}
	if !refund.IsPositive() {
		return &domain.RefundResult{Success: false, Error: fmt.Sprintf("Transaction %s already refunded", transactionID)}, nil
	}

	c.refunded = c.refunded.Add(refund)
	g.refundCount++
	return &domain.RefundResult{Success: true, RefundID: "refund_" + shortHex()}, nil
}

// SetRefundFailure switches forced refund failure on (non-empty reason) or off.
func (g *MockGateway) SetRefundFailure(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundFail = reason
}

// Refunded returns the total refunded against a charge.
func (g *MockGateway) Refunded(transactionID string) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.charges[transactionID]; ok {
		return c.refunded
	}
	return decimal.Zero
}

// Counts returns how many charges and refunds succeeded.
func (g *MockGateway) Counts() (charges, refunds int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.chargeCount, g.refundCount
}

func (g *MockGateway) wait(ctx context.Context) error {
	if g.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(g.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func shortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
