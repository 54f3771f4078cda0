package main

import (
	"context"
	"fmt"

	"marketplace-ledger/config"
	"marketplace-ledger/internal/adapter/storage/memory"
	pgStorage "marketplace-ledger/internal/adapter/storage/postgres"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/internal/service"
	"marketplace-ledger/pkg/logger"

	"github.com/rs/zerolog"
)

// repositories is the storage backend selected by storage.driver.
type repositories struct {
	wallets        ports.WalletRepository
	ledger         ports.LedgerRepository
	rates          ports.RateRepository
	orders         ports.OrderRepository
	carts          ports.CartRepository
	reconciliation ports.ReconciliationRepository
	transactor     ports.DBTransactor
	health         ports.HealthChecker
	close          func()
}

func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*repositories, error) {
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn().Msg("Using in-memory storage; balances are lost on restart")
		store := memory.NewStore()
		return &repositories{
			wallets:        store.Wallets(),
			ledger:         store.Ledger(),
			rates:          store.Rates(),
			orders:         store.Orders(),
			carts:          store.Carts(),
			reconciliation: store.Reconciliation(),
			transactor:     store,
			health:         store,
			close:          func() {},
		}, nil
	default:
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if cfg.Database.Migrate {
			if err := pgStorage.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("applying schema: %w", err)
			}
			log.Info().Msg("Schema applied")
		}
		return &repositories{
			wallets:        pgStorage.NewWalletRepo(pool),
			ledger:         pgStorage.NewLedgerRepo(pool),
			rates:          pgStorage.NewRateRepo(pool),
			orders:         pgStorage.NewOrderRepo(pool),
			carts:          pgStorage.NewCartRepo(pool),
			reconciliation: pgStorage.NewReconciliationRepo(pool),
			transactor:     pgStorage.NewTransactor(pool),
			health:         pgStorage.NewHealthCheck(pool),
			close:          pool.Close,
		}, nil
	}
}

// services holds the core services built over one storage backend.
type services struct {
	wallets        *service.WalletServiceImpl
	ledger         *service.LedgerServiceImpl
	converter      *service.ConverterServiceImpl
	checkout       *service.CheckoutServiceImpl
	reconciliation *service.ReconciliationServiceImpl
}

type adapters struct {
	rateCache ports.RateCache
	lock      ports.PaymentLock
	gateway   ports.PaymentGateway
	publisher ports.EventPublisher
	metrics   ports.Metrics
}

func newServices(cfg *config.Config, repos *repositories, ad adapters, log zerolog.Logger) (*services, error) {
	wallets := service.NewWalletService(
		repos.wallets,
		repos.ledger,
		repos.transactor,
		ad.publisher,
		ad.metrics,
		logger.Component(log, "wallet"),
	)
	ledger := service.NewLedgerService(
		repos.ledger,
		wallets,
		repos.transactor,
		ad.publisher,
		ad.metrics,
		logger.Component(log, "ledger"),
	)
	converter, err := service.NewConverterService(
		repos.rates,
		ad.rateCache,
		wallets,
		repos.transactor,
		ad.publisher,
		ad.metrics,
		cfg.Rates,
		logger.Component(log, "converter"),
	)
	if err != nil {
		return nil, err
	}
	recon := service.NewReconciliationService(
		repos.reconciliation,
		ad.gateway,
		ad.publisher,
		cfg.Reconciliation,
		logger.Component(log, "reconciliation"),
	)
	checkout, err := service.NewCheckoutService(service.CheckoutDeps{
		Orders:         repos.orders,
		Carts:          repos.carts,
		Wallets:        wallets,
		Ledger:         ledger,
		Gateway:        ad.gateway,
		Lock:           ad.lock,
		Reconciliation: recon,
		Transactor:     repos.transactor,
		Publisher:      ad.publisher,
		Metrics:        ad.metrics,
	}, cfg.Checkout, cfg.Gateway, logger.Component(log, "checkout"))
	if err != nil {
		return nil, err
	}

	return &services{
		wallets:        wallets,
		ledger:         ledger,
		converter:      converter,
		checkout:       checkout,
		reconciliation: recon,
	}, nil
}
