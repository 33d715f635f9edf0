package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marginguard-backend/pkg/config"
	"github.com/angelmondragon/marginguard-backend/pkg/db"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
	"github.com/angelmondragon/marginguard-backend/pkg/metrics"
	"github.com/angelmondragon/marginguard-backend/pkg/migrate"
	"github.com/angelmondragon/marginguard-backend/pkg/outbox"
	"github.com/angelmondragon/marginguard-backend/pkg/outbox/registry"
	"github.com/angelmondragon/marginguard-backend/pkg/pubsub"
)

func main() {
	listParked := flag.Int("dlq-list", 0, "log up to N parked outbox events and exit")
	requeue := flag.String("requeue", "", "move the parked outbox event with this id back into the queue and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "outbox-publisher"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "outbox-publisher"

	logg = logger.New(logger.Options{
		ServiceName: "outbox-publisher",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
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

	dlq := outbox.NewDLQRepository(dbClient.DB())
	if *listParked > 0 || *requeue != "" {
		if err := runDLQCommand(context.Background(), logg, dlq, *listParked, *requeue); err != nil {
			logg.Error(context.Background(), "dlq command failed", err)
			os.Exit(1)
		}
		return
	}

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	conn := dbClient.DB()
	repo := outbox.NewRepository(conn)
	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		logg.Error(context.Background(), "failed to build event registry", err)
		os.Exit(1)
	}
	// Ping only checks topics that have an open publisher.
	for _, topic := range eventRegistry.Topics() {
		if pubsubClient.Publisher(topic) == nil {
			logg.Error(context.Background(), "failed to open publisher", fmt.Errorf("topic %q", topic))
			os.Exit(1)
		}
	}
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    repo,
		Registry:      eventRegistry,
		DLQRepository: dlq,
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox publisher", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "outbox-publisher",
		"topic":       cfg.PubSub.PlanTopic,
	})
	logg.Info(ctx, "starting outbox publisher")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "outbox publisher shutting down gracefully")
}

func runDLQCommand(ctx context.Context, logg *logger.Logger, dlq *outbox.DLQRepository, limit int, requeue string) error {
	if requeue != "" {
		eventID, err := uuid.Parse(requeue)
		if err != nil {
			return err
		}
		row, err := dlq.Requeue(ctx, eventID)
		if err != nil {
			return err
		}
		logg.Info(logg.WithFields(ctx, map[string]any{
			"event_id":   row.ID.String(),
			"event_type": row.EventType,
		}), "outbox event requeued")
		return nil
	}

	entries, err := dlq.List(ctx, limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fields := map[string]any{
			"event_id":      e.EventID.String(),
			"event_type":    e.EventType,
			"aggregate_id":  e.AggregateID,
			"error_reason":  e.ErrorReason,
			"attempt_count": e.AttemptCount,
			"failed_at":     e.FailedAt,
		}
		if e.ErrorMessage != nil {
			fields["error_message"] = *e.ErrorMessage
		}
		logg.Info(logg.WithFields(ctx, fields), "parked outbox event")
	}
	logg.Info(logg.WithField(ctx, "count", len(entries)), "dlq listing complete")
	return nil
}
