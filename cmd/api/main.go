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

	"github.com/angelmondragon/billing-engine/api/controllers"
	"github.com/angelmondragon/billing-engine/api/routes"
	"github.com/angelmondragon/billing-engine/internal/billing"
	stripewebhook "github.com/angelmondragon/billing-engine/internal/webhooks/stripe"
	"github.com/angelmondragon/billing-engine/pkg/config"
	"github.com/angelmondragon/billing-engine/pkg/db"
	"github.com/angelmondragon/billing-engine/pkg/instance"
	"github.com/angelmondragon/billing-engine/pkg/logger"
	"github.com/angelmondragon/billing-engine/pkg/metrics"
	"github.com/angelmondragon/billing-engine/pkg/migrate"
	"github.com/angelmondragon/billing-engine/pkg/redis"
	stripeclient "github.com/angelmondragon/billing-engine/pkg/stripe"
)

const shutdownTimeout = 10 * time.Second

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

	// Redis is optional for the API: without it the in-flight claim is
	// skipped and processed_events alone dedupes deliveries.
	var (
		idempotency redis.IdempotencyStore
		redisPinger controllers.Pinger
	)
	if cfg.Redis.Enabled() {
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
		idempotency = redisClient
		redisPinger = redisClient
	}

	var fetcher stripeclient.SubscriptionFetcher
	if cfg.Stripe.FetchSubscriptions {
		stripeClient, err := stripeclient.NewClient(context.Background(), cfg.Stripe, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap stripe client", err)
			os.Exit(1)
		}
		fetcher = stripeClient
	}

	services, err := billing.NewServices(billing.ServiceParams{DB: dbClient, Logger: logg})
	if err != nil {
		logg.Error(context.Background(), "failed to build billing services", err)
		os.Exit(1)
	}

	engine, err := buildEngine(cfg, logg, dbClient, services, idempotency, fetcher)
	if err != nil {
		logg.Error(context.Background(), "failed to build webhook engine", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:   cfg,
			Logger:   logg,
			DB:       dbClient,
			Redis:    redisPinger,
			Engine:   engine,
			Gatherer: prometheus.DefaultGatherer,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}

func buildEngine(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	services *billing.Services,
	idempotency redis.IdempotencyStore,
	fetcher stripeclient.SubscriptionFetcher,
) (*stripewebhook.Engine, error) {
	// Unsigned deliveries are only tolerated outside prod.
	allowUnverified := !cfg.App.IsProd()
	verifier, err := stripewebhook.NewVerifier(cfg.Stripe.WebhookSecret, cfg.Stripe.SignatureTolerance, allowUnverified, logg)
	if err != nil {
		return nil, err
	}
	guard, err := stripewebhook.NewGuard(stripewebhook.NewProcessedRepository(dbClient.DB()), idempotency, cfg.Webhook.InFlightTTL)
	if err != nil {
		return nil, err
	}
	router, err := stripewebhook.NewRouter(stripewebhook.RouterParams{
		DB:            dbClient,
		Subscriptions: services.Subscriptions,
		Credits:       services.Credits,
		Invoices:      services.Invoices,
		Purchases:     services.Purchases,
		Audit:         services.Audit,
		Fetcher:       fetcher,
		Logger:        logg,
	})
	if err != nil {
		return nil, err
	}
	return stripewebhook.NewEngine(stripewebhook.EngineParams{
		Verifier: verifier,
		Guard:    guard,
		Router:   router,
		Metrics:  metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		Logger:   logg,
	})
}
