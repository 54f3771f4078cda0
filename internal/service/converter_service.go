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

// ConverterServiceImpl implements ports.ConverterService. EGP is the pivot currency.
type ConverterServiceImpl struct {
	rateRepo   ports.RateRepository
	rateCache  ports.RateCache
	wallets    ports.WalletService
	transactor ports.DBTransactor
	announce   announcer
	defaults   domain.ConversionRate
	cacheTTL   time.Duration
	log        zerolog.Logger
}

// NewConverterService creates a new ConverterServiceImpl. The configured
// defaults are persisted the first time rates are read from an empty table.
func NewConverterService(
	rateRepo ports.RateRepository,
	rateCache ports.RateCache,
	wallets ports.WalletService,
	transactor ports.DBTransactor,
	publisher ports.EventPublisher,
	metrics ports.Metrics,
	cfg config.RatesConfig,
	log zerolog.Logger,
) (*ConverterServiceImpl, error) {
	gold, err := decimal.NewFromString(cfg.DefaultEGPToGold)
	if err != nil {
		return nil, fmt.Errorf("rates.default_egp_to_gold: %w", err)
	}
	mass, err := decimal.NewFromString(cfg.DefaultEGPToMass)
	if err != nil {
		return nil, fmt.Errorf("rates.default_egp_to_mass: %w", err)
	}
	defaults := domain.ConversionRate{EGPToGold: gold, EGPToMass: mass, UpdatedBy: "system"}
	if !defaults.Valid() {
		return nil, fmt.Errorf("default rates must be positive")
	}

	return &ConverterServiceImpl{
		rateRepo:   rateRepo,
		rateCache:  rateCache,
		wallets:    wallets,
		transactor: transactor,
		announce:   announcer{publisher: publisher, metrics: metrics, log: log},
		defaults:   defaults,
		cacheTTL:   cfg.CacheTTL,
		log:        log,
	}, nil
}

// CurrentRates reads through the cache to the latest persisted rate row.
func (s *ConverterServiceImpl) CurrentRates(ctx context.Context) (*domain.ConversionRate, error) {
	cached, err := s.rateCache.Get(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("rate cache read failed, falling through to DB")
	}
	if cached != nil {
		return cached, nil
	}

	rate, err := s.rateRepo.Latest(ctx)
	if err != nil {
		return nil, storageError("latest rates", err)
	}
	if rate == nil {
		seed := s.defaults
		if err := s.rateRepo.Insert(ctx, &seed); err != nil {
			return nil, storageError("seed default rates", err)
		}
		s.log.Info().
			Str("egp_to_gold", seed.EGPToGold.String()).
			Str("egp_to_mass", seed.EGPToMass.String()).
			Msg("default conversion rates persisted")
		rate = &seed
	}

	if err := s.rateCache.Set(ctx, rate, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Msg("rate cache write failed")
	}
	return rate, nil
}

func (s *ConverterServiceImpl) UpdateRates(ctx context.Context, egpToGold, egpToMass decimal.Decimal, updatedBy string) (*domain.ConversionRate, error) {
	rate := &domain.ConversionRate{EGPToGold: egpToGold, EGPToMass: egpToMass, UpdatedBy: updatedBy}
	if !rate.Valid() {
		return nil, apperror.Validation("Conversion rates must be positive")
	}
	if err := s.rateRepo.Insert(ctx, rate); err != nil {
		return nil, storageError("insert rates", err)
	}
	if err := s.rateCache.Invalidate(ctx); err != nil {
		s.log.Warn().Err(err).Msg("rate cache invalidate failed")
	}

	s.log.Info().
		Int64("rate_id", rate.ID).
		Str("egp_to_gold", egpToGold.String()).
		Str("egp_to_mass", egpToMass.String()).
		Str("updated_by", updatedBy).
		Msg("conversion rates updated")
	return rate, nil
}

func (s *ConverterServiceImpl) Quote(ctx context.Context, amount decimal.Decimal, from, to domain.Currency) (decimal.Decimal, error) {
	if err := validatePair(amount, from, to); err != nil {
		return decimal.Zero, err
	}
	rate, err := s.CurrentRates(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return quote(rate, amount, from, to), nil
}

// Convert debits from and credits to in one transaction. Both legs share a conversion_id.
func (s *ConverterServiceImpl) Convert(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, from, to domain.Currency) (*ports.ConversionResult, error) {
	if err := validatePair(amount, from, to); err != nil {
		return nil, err
	}
	rate, err := s.CurrentRates(ctx)
	if err != nil {
		return nil, err
	}
	credit := quote(rate, amount, from, to)
	if !credit.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}

	for _, c := range []domain.Currency{from, to} {
		if _, err := s.wallets.GetOrCreate(ctx, userID, c); err != nil {
			return nil, err
		}
	}

	result := &ports.ConversionResult{ConversionID: uuid.NewString(), Rate: rate}
	meta := map[string]string{
		domain.MetaConversionID:   result.ConversionID,
		domain.MetaConversionRate: effectiveRate(rate, from, to).String(),
		domain.MetaFromCurrency:   string(from),
		domain.MetaToCurrency:     string(to),
	}
	desc := fmt.Sprintf("Convert %s %s to %s %s",
		amount.StringFixed(domain.MoneyScale), from, credit.StringFixed(domain.MoneyScale), to)

	err = runInTx(ctx, s.transactor, func(tx pgx.Tx) error {
		if err := s.wallets.LockTx(ctx, tx,
			domain.WalletKey{UserID: userID, Currency: from},
			domain.WalletKey{UserID: userID, Currency: to},
		); err != nil {
			return err
		}

		var err error
		result.Debit, err = s.wallets.DebitTx(ctx, tx, ports.MutationRequest{
			UserID: userID, Currency: from, Amount: amount,
			Kind: domain.EntryKindConversion, Description: desc, Metadata: meta,
		})
		if err != nil {
			return err
		}
		result.Credit, err = s.wallets.CreditTx(ctx, tx, ports.MutationRequest{
			UserID: userID, Currency: to, Amount: credit,
			Kind: domain.EntryKindConversion, Description: desc, Metadata: meta,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.announce.entries(ctx, result.Debit, result.Credit)
	s.log.Info().
		Str("conversion_id", result.ConversionID).
		Str("user_id", userID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("debit", amount.String()).
		Str("credit", credit.String()).
		Msg("currency converted")
	return result, nil
}

// Buy spends EGP on target currency.
func (s *ConverterServiceImpl) Buy(ctx context.Context, userID uuid.UUID, amountEGP decimal.Decimal, target domain.Currency) (*ports.ConversionResult, error) {
	return s.Convert(ctx, userID, amountEGP, domain.CurrencyEGP, target)
}

func validatePair(amount decimal.Decimal, from, to domain.Currency) error {
	if !from.Valid() {
		return apperror.ErrInvalidCurrency(string(from))
	}
	if !to.Valid() {
		return apperror.ErrInvalidCurrency(string(to))
	}
	if from == to {
		return apperror.ErrSameCurrency()
	}
	if !domain.ValidAmount(amount) {
		return apperror.ErrInvalidAmount()
	}
	return nil
}

// quote converts amount through the EGP pivot and rounds once at the end.
func quote(rate *domain.ConversionRate, amount decimal.Decimal, from, to domain.Currency) decimal.Decimal {
	fromPer, _ := rate.PerEGP(from)
	toPer, _ := rate.PerEGP(to)
	return domain.RoundMoney(amount.Mul(toPer).Div(fromPer))
}

// effectiveRate is how many units of to one unit of from buys.
func effectiveRate(rate *domain.ConversionRate, from, to domain.Currency) decimal.Decimal {
	fromPer, _ := rate.PerEGP(from)
	toPer, _ := rate.PerEGP(to)
	return toPer.Div(fromPer)
}
