package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/escrow-ledger/internal/cron"
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

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	gatewayClient, err := gateway.NewClient(context.Background(), cfg.Gateway, logg,
		gateway.WithMetrics(metrics.NewGatewayMetrics(prometheus.DefaultRegisterer)))
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway client", err)
		os.Exit(1)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	ledgerRepo := ledger.NewRepository(dbClient.DB())
	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		DB:         dbClient,
		Repository: ledgerRepo,
		Outbox:     outbox.NewService(outboxRepo, logg),
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	escrowService, err := escrow.NewService(escrow.ServiceParams{
		Gateway:         gatewayClient,
		Ledger:          ledgerService,
		Repository:      ledgerRepo,
		Logger:          logg,
		ReleaseClaimTTL: cfg.Escrow.ReleaseClaimTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow service", err)
		os.Exit(1)
	}

	webhookService, err := gatewaywebhook.NewService(gatewaywebhook.ServiceParams{
		Ledger:     ledgerService,
		Repository: ledgerRepo,
		Verifier:   gatewayClient,
		Metrics:    metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, outboxRepo, ledgerRepo, gatewayClient, webhookService, escrowService)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(cron.DefaultLockKey+":"+lockEnv(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Reconcile.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	if cfg.Service.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer); err != nil {
				logg.Error(ctx, "metrics server stopped", err)
			}
		}()
	}

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	outboxRepo *outbox.Repository,
	ledgerRepo ledger.Repository,
	gatewayClient *gateway.Client,
	webhookService *gatewaywebhook.Service,
	escrowService escrow.Service,
) (*cron.Registry, error) {
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Retention:  cfg.Reconcile.OutboxRetention,
	})
	if err != nil {
		return nil, err
	}

	webhookRetry, err := cron.NewWebhookRetryJob(cron.WebhookRetryJobParams{
		Logger:      logg,
		Events:      ledgerRepo,
		Reconciler:  webhookService,
		MaxAttempts: cfg.Reconcile.MaxWebhookAttempts,
		RetryDelay:  cfg.Reconcile.Interval,
		BatchLimit:  cfg.Reconcile.BatchLimit,
	})
	if err != nil {
		return nil, err
	}

	payoutReconcile, err := cron.NewPayoutReconcileJob(cron.PayoutReconcileJobParams{
		Logger:     logg,
		Payouts:    ledgerRepo,
		Gateway:    gatewayClient,
		Reconciler: webhookService,
		Lookback:   cfg.Reconcile.PayoutLookback,
		BatchLimit: cfg.Reconcile.BatchLimit,
	})
	if err != nil {
		return nil, err
	}

	balanceReconcile, err := cron.NewBalanceReconcileJob(cron.BalanceReconcileJobParams{
		Logger:     logg,
		Accounts:   ledgerRepo,
		Refresher:  escrowService,
		BatchLimit: cfg.Reconcile.BatchLimit,
	})
	if err != nil {
		return nil, err
	}

	return cron.NewRegistry(retention, webhookRetry, payoutReconcile, balanceReconcile), nil
}

func lockEnv(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
