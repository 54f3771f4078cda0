package service

import (
	"context"
	"time"

	"marketplace-ledger/config"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultSweepBatch = 50

// ReconciliationServiceImpl retries compensating refunds that failed during checkout.
type ReconciliationServiceImpl struct {
	repo        ports.ReconciliationRepository
	gateway     ports.PaymentGateway
	publisher   ports.EventPublisher
	maxAttempts int
	batchSize   int
	log         zerolog.Logger
}

// NewReconciliationService creates a new ReconciliationServiceImpl.
func NewReconciliationService(
	repo ports.ReconciliationRepository,
	gateway ports.PaymentGateway,
	publisher ports.EventPublisher,
	cfg config.ReconciliationConfig,
	log zerolog.Logger,
) *ReconciliationServiceImpl {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	batchSize := cfg.BatchSize
	if batchSize < 1 {
		batchSize = defaultSweepBatch
	}
	return &ReconciliationServiceImpl{
		repo:        repo,
		gateway:     gateway,
		publisher:   publisher,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
		log:         log,
	}
}

// Open persists a case and raises a reconciliation-required alert.
func (s *ReconciliationServiceImpl) Open(ctx context.Context, c *domain.ReconciliationCase) error {
	now := time.Now().UTC()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Status = domain.ReconciliationOpen
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := s.repo.Create(ctx, c); err != nil {
		return apperror.ErrDatabaseError(err)
	}

	s.log.Error().
		Str("case_id", c.ID.String()).
		Str("order_id", c.OrderID.String()).
		Str("gateway_txn", c.GatewayTransactionID).
		Str("amount", c.Amount.StringFixed(domain.MoneyScale)).
		Str("currency", string(c.Currency)).
		Str("last_error", c.LastError).
		Msg("reconciliation required: charge neither recorded nor refunded")
	s.alert(ctx, domain.EventReconciliationRequired, c)
	return nil
}

// Sweep retries the refund for each open case. A case is escalated once it
// reaches the configured attempt limit.
func (s *ReconciliationServiceImpl) Sweep(ctx context.Context) (*ports.SweepResult, error) {
	cases, err := s.repo.ListOpen(ctx, s.batchSize)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	res := &ports.SweepResult{}
	for i := range cases {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		c := &cases[i]
		res.Checked++
		c.Attempts++
		amount := c.Amount

		refund, err := s.gateway.RefundPayment(ctx, c.GatewayTransactionID, &amount)
		switch {
		case err == nil && refund != nil && refund.Success:
			c.Status = domain.ReconciliationResolved
			c.LastError = ""
			res.Resolved++
			s.log.Info().
				Str("case_id", c.ID.String()).
				Str("refund_id", refund.RefundID).
				Int("attempts", c.Attempts).
				Msg("reconciliation case resolved")
		default:
			switch {
			case err != nil:
				c.LastError = err.Error()
			case refund != nil:
				c.LastError = refund.Error
			default:
				c.LastError = "empty refund result"
			}
			if c.Attempts >= s.maxAttempts {
				c.Status = domain.ReconciliationEscalated
				res.Escalated++
				s.log.Error().
					Str("case_id", c.ID.String()).
					Str("gateway_txn", c.GatewayTransactionID).
					Int("attempts", c.Attempts).
					Str("last_error", c.LastError).
					Msg("reconciliation case escalated")
				s.alert(ctx, domain.EventReconciliationEscalated, c)
			}
		}

		c.UpdatedAt = time.Now().UTC()
		if err := s.repo.Update(ctx, c); err != nil {
			s.log.Error().Err(err).Str("case_id", c.ID.String()).Msg("failed to update reconciliation case")
		}
	}

	if res.Checked > 0 {
		s.log.Info().
			Int("checked", res.Checked).
			Int("resolved", res.Resolved).
			Int("escalated", res.Escalated).
			Msg("reconciliation sweep finished")
	}
	return res, nil
}

func (s *ReconciliationServiceImpl) alert(ctx context.Context, routingKey string, c *domain.ReconciliationCase) {
	if err := s.publisher.Publish(ctx, routingKey, domain.NewReconciliationEvent(c)); err != nil {
		s.log.Error().Err(err).Str("case_id", c.ID.String()).Msg("reconciliation alert publish failed")
	}
}
