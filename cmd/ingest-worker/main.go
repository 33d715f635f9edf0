package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marginguard-backend/internal/bootstrap"
	"github.com/angelmondragon/marginguard-backend/internal/consumers/ingest"
	"github.com/angelmondragon/marginguard-backend/internal/pipeline"
	"github.com/angelmondragon/marginguard-backend/pkg/config"
	"github.com/angelmondragon/marginguard-backend/pkg/db"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
	"github.com/angelmondragon/marginguard-backend/pkg/migrate"
	"github.com/angelmondragon/marginguard-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/marginguard-backend/pkg/pubsub"
	"github.com/angelmondragon/marginguard-backend/pkg/redis"
)

const consumerName = "ingest-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: consumerName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = consumerName

	logg = logger.New(logger.Options{
		ServiceName: consumerName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	core, err := bootstrap.NewCore(cfg, logg, dbClient, prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(ctx, "failed to wire services", err)
		os.Exit(1)
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.IdempotencyTTL)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency manager", err)
		os.Exit(1)
	}
	guard, err := pipeline.NewGuard(core.Pipeline, manager, consumerName, logg)
	if err != nil {
		logg.Error(ctx, "failed to create delivery guard", err)
		os.Exit(1)
	}
	subscription, err := pubsubClient.IngestSubscription()
	if err != nil {
		logg.Error(ctx, "ingest subscription not configured", err)
		os.Exit(1)
	}
	consumer, err := ingest.NewConsumer(guard, subscription, logg)
	if err != nil {
		logg.Error(ctx, "failed to create ingest consumer", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Logger:   logg,
		Consumer: consumer,
		Dependencies: []dependency{
			{name: "database", ping: dbClient.Ping},
			{name: "redis", ping: redisClient.Ping},
			{name: "pubsub", ping: pubsubClient.Ping},
		},
	})
	if err != nil {
		logg.Error(ctx, "failed to create ingest worker", err)
		os.Exit(1)
	}

	logg.Info(ctx, "starting ingest worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "ingest worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "ingest worker shutting down gracefully")
}
