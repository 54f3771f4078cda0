package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger/config"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Bounded wraps a PaymentGateway with per-call deadlines and metrics.
// A call that runs out of time returns GW_002; declines pass through unchanged.
type Bounded struct {
	inner         ports.PaymentGateway
	timeout       time.Duration
	refundTimeout time.Duration
	metrics       ports.Metrics
	log           zerolog.Logger
}

func NewBounded(inner ports.PaymentGateway, cfg config.GatewayConfig, metrics ports.Metrics, log zerolog.Logger) *Bounded {
	refundTimeout := cfg.RefundTimeout
	if refundTimeout <= 0 {
		refundTimeout = cfg.Timeout
	}
	return &Bounded{
		inner:         inner,
		timeout:       cfg.Timeout,
		refundTimeout: refundTimeout,
		metrics:       metrics,
		log:           log,
	}
}

func (b *Bounded) ProcessPayment(ctx context.Context, charge domain.PaymentCharge) (*domain.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	result, err := b.inner.ProcessPayment(ctx, charge)
	elapsed := time.Since(start)

	if err != nil {
		outcome, mapped := b.classify(ctx, err, "charge")
		b.metrics.GatewayCall("charge", outcome, elapsed)
		return nil, mapped
	}
	if result == nil {
		b.metrics.GatewayCall("charge", "error", elapsed)
		return nil, fmt.Errorf("gateway charge: empty result")
	}

	outcome := "success"
	if !result.Success {
		outcome = "declined"
	}
	b.metrics.GatewayCall("charge", outcome, elapsed)
	return result, nil
}

func (b *Bounded) RefundPayment(ctx context.Context, transactionID string, amount *decimal.Decimal) (*domain.RefundResult, error) {
	ctx, cancel := context.WithTimeout(ctx, b.refundTimeout)
	defer cancel()

	start := time.Now()
	result, err := b.inner.RefundPayment(ctx, transactionID, amount)
	elapsed := time.Since(start)

	if err != nil {
		outcome, mapped := b.classify(ctx, err, "refund")
		b.metrics.GatewayCall("refund", outcome, elapsed)
		return nil, mapped
	}
	if result == nil {
		b.metrics.GatewayCall("refund", "error", elapsed)
		return nil, fmt.Errorf("gateway refund: empty result")
	}

	outcome := "success"
	if !result.Success {
		outcome = "declined"
	}
	b.metrics.GatewayCall("refund", outcome, elapsed)
	return result, nil
}

func (b *Bounded) classify(ctx context.Context, err error, op string) (string, error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		b.log.Warn().Err(err).Str("operation", op).Msg("Payment gateway call timed out")
		return "timeout", apperror.ErrGatewayTimeout(err)
	}
	b.log.Error().Err(err).Str("operation", op).Msg("Payment gateway call failed")
	return "error", fmt.Errorf("gateway %s: %w", op, err)
}
