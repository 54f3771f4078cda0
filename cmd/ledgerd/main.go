package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-ledger/config"
	"marketplace-ledger/internal/adapter/gateway"
	httpHandler "marketplace-ledger/internal/adapter/http/handler"
	"marketplace-ledger/internal/adapter/messaging/rabbitmq"
	"marketplace-ledger/internal/adapter/metrics"
	redisStorage "marketplace-ledger/internal/adapter/storage/redis"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/internal/service"
	"marketplace-ledger/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("storage", cfg.Storage.Driver).
		Int("port", cfg.Server.Port).
		Msg("Starting marketplace ledger")

	ctx := context.Background()

	repos, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer repos.close()

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	healthCheckers := []ports.HealthChecker{repos.health, redisStorage.NewHealthCheck(rdb)}

	var publisher ports.EventPublisher
	if cfg.RabbitMQ.Enabled {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger.Component(log, "rabbitmq"))
		if err != nil {
			log.Warn().Err(err).Msg("RabbitMQ unavailable; events will be dropped")
			publisher = rabbitmq.NewFallback(log)
		} else {
			publisher = producer
			healthCheckers = append(healthCheckers, producer)
		}
	} else {
		publisher = rabbitmq.NewFallback(log)
	}
	defer publisher.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMetrics, err := metrics.New(reg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register metrics")
	}

	// No external processor is integrated; the simulated one approves every charge.
	gw := gateway.NewBounded(gateway.NewMockGateway(), cfg.Gateway, promMetrics, logger.Component(log, "gateway"))

	svcs, err := newServices(cfg, repos, adapters{
		rateCache: redisStorage.NewRateCache(rdb),
		lock:      redisStorage.NewPaymentLock(rdb),
		gateway:   gw,
		publisher: publisher,
		metrics:   promMetrics,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}

	// Seeds the default rates on an empty database.
	rates, err := svcs.converter.CurrentRates(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load conversion rates")
	}
	log.Info().
		Str("egp_to_gold", rates.EGPToGold.StringFixed(domain.MoneyScale)).
		Str("egp_to_mass", rates.EGPToMass.StringFixed(domain.MoneyScale)).
		Msg("Conversion rates loaded")

	// A sweep refunds at most one batch, one refund timeout each.
	sweepTimeout := cfg.Gateway.RefundTimeout * time.Duration(max(cfg.Reconciliation.BatchSize, 1))
	scheduler := service.NewScheduler(svcs.reconciliation, cfg.Reconciliation.Schedule, sweepTimeout, logger.Component(log, "scheduler"))
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start reconciliation scheduler")
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		HealthCheckers: healthCheckers,
		Gatherer:       reg,
		Reconciliation: svcs.reconciliation,
		Mode:           cfg.Server.Mode,
		Logger:         log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Ops server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Ops server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn().Msg("Reconciliation sweep still running at shutdown")
	}

	log.Info().Msg("Ledger exited")
}
