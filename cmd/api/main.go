package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/escrow-ledger/api/routes"
	"github.com/angelmondragon/escrow-ledger/internal/escrow"
	"github.com/angelmondragon/escrow-ledger/internal/ledger"
	gatewaywebhook "github.com/angelmondragon/escrow-ledger/internal/webhooks/gateway"
	"github.com/angelmondragon/escrow-ledger/pkg/config"
	"github.com/angelmondragon/escrow-ledger/pkg/db"
	"github.com/angelmondragon/escrow-ledger/pkg/gateway"
	"github.com/angelmondragon/escrow-ledger/pkg/instance"
	"github.com/angelmondragon/escrow-ledger/pkg/logger"
	"github.com/angelmondragon/escrow-ledger/pkg/metrics"
	"github.com/angelmondragon/escrow-ledger/pkg/migrate"
	"github.com/angelmondragon/escrow-ledger/pkg/outbox"
	"github.com/angelmondragon/escrow-ledger/pkg/redis"
)

const (
	webhookLeaseTTL = 2 * time.Minute
	shutdownTimeout = 15 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	gatewayMetrics := metrics.NewGatewayMetrics(registry)
	webhookMetrics := metrics.NewWebhookMetrics(registry)
	httpMetrics := metrics.NewHTTPMetrics(registry)

	gatewayClient, err := gateway.NewClient(context.Background(), cfg.Gateway, logg, gateway.WithMetrics(gatewayMetrics))
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway client", err)
		os.Exit(1)
	}

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		DB:         dbClient,
		Repository: ledgerRepo,
		Outbox:     outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	escrowService, err := escrow.NewService(escrow.ServiceParams{
		Gateway:              gatewayClient,
		Ledger:               ledgerService,
		Repository:           ledgerRepo,
		Logger:               logg,
		ReleaseClaimTTL:      cfg.Escrow.ReleaseClaimTTL,
		RefreshBalanceOnRead: cfg.Escrow.RefreshBalanceOnRead,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow service", err)
		os.Exit(1)
	}

	lease, err := gatewaywebhook.NewDeliveryLease(redisClient, webhookLeaseTTL, "gateway-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook lease", err)
		os.Exit(1)
	}

	webhookService, err := gatewaywebhook.NewService(gatewaywebhook.ServiceParams{
		Ledger:     ledgerService,
		Repository: ledgerRepo,
		Verifier:   gatewayClient,
		Lease:      lease,
		Metrics:    webhookMetrics,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:         cfg,
			Logger:         logg,
			DB:             dbClient,
			Redis:          redisClient,
			Store:          redisClient,
			Escrow:         escrowService,
			GatewayWebhook: webhookService,
			Gatherer:       registry,
			HTTPMetrics:    httpMetrics,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}
