package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/billing-engine/internal/billing"
	"github.com/angelmondragon/billing-engine/internal/cron"
	"github.com/angelmondragon/billing-engine/pkg/config"
	"github.com/angelmondragon/billing-engine/pkg/db"
	"github.com/angelmondragon/billing-engine/pkg/instance"
	"github.com/angelmondragon/billing-engine/pkg/logger"
	"github.com/angelmondragon/billing-engine/pkg/metrics"
	"github.com/angelmondragon/billing-engine/pkg/migrate"
	"github.com/angelmondragon/billing-engine/pkg/outbox"
	"github.com/angelmondragon/billing-engine/pkg/redis"
	stripeclient "github.com/angelmondragon/billing-engine/pkg/stripe"
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
		Instance:    instance.GetID(),
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
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

	if !cfg.Redis.Enabled() {
		logg.Error(context.Background(), "cron worker requires redis", errors.New("BILLING_REDIS_URL or BILLING_REDIS_ADDR must be set"))
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

	services, err := billing.NewServices(billing.ServiceParams{DB: dbClient, Logger: logg})
	if err != nil {
		logg.Error(context.Background(), "failed to build billing services", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, services)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker", "cycle"), cfg.Cron.Interval)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
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
		"jobs":        len(registry.Jobs()),
	})

	if cfg.App.Port != "" {
		go metrics.Serve(ctx, logg, ":"+cfg.App.Port, prometheus.DefaultGatherer)
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *billing.Services) (*cron.Registry, error) {
	registry := cron.NewRegistry()

	retryJob, err := cron.NewPurchaseRetryJob(cron.PurchaseRetryJobParams{
		Logger:      logg,
		Purchases:   services.Purchases,
		Limit:       cfg.Cron.PurchaseRetryLimit,
		MaxAttempts: cfg.Cron.PurchaseMaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	if err := registry.Register(retryJob); err != nil {
		return nil, err
	}

	retentionJob, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Logger:           logg,
		DB:               dbClient,
		Outbox:           services.Outbox,
		DLQ:              outbox.NewDLQRepository(dbClient.DB()),
		OutboxRetention:  cfg.Cron.OutboxRetention,
		DLQRetention:     cfg.Cron.DLQRetention,
		TerminalAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	if err := registry.Register(retentionJob); err != nil {
		return nil, err
	}

	// The period reconcile needs API access; without a key it is left out.
	if cfg.Stripe.APIKey == "" {
		logg.Warn(context.Background(), "stripe api key not set; subscription period reconcile disabled")
		return registry, nil
	}
	stripeClient, err := stripeclient.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		return nil, err
	}
	reconcileJob, err := cron.NewSubscriptionReconcileJob(cron.SubscriptionReconcileJobParams{
		Logger:        logg,
		DB:            dbClient,
		Subscriptions: services.Subscriptions,
		Gateway:       stripeClient,
		Limit:         cfg.Cron.ReconcileLimit,
	})
	if err != nil {
		return nil, err
	}
	if err := registry.Register(reconcileJob); err != nil {
		return nil, err
	}
	return registry, nil
}
