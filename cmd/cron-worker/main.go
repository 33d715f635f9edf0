package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marginguard-backend/internal/bootstrap"
	"github.com/angelmondragon/marginguard-backend/internal/cron"
	"github.com/angelmondragon/marginguard-backend/pkg/config"
	"github.com/angelmondragon/marginguard-backend/pkg/db"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
	"github.com/angelmondragon/marginguard-backend/pkg/metrics"
	"github.com/angelmondragon/marginguard-backend/pkg/migrate"
	"github.com/angelmondragon/marginguard-backend/pkg/redis"
)

func main() {
	jobs := flag.String("job", "", "comma separated job names to run once and exit; empty runs the scheduler")
	flag.Parse()

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

	core, err := bootstrap.NewCore(cfg, logg, dbClient, prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, redisClient, core)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockName(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
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
		"jobs":        registry.Names(),
	})

	if names := splitNames(*jobs); len(names) > 0 {
		logg.Info(ctx, "running cron jobs once")
		if err := service.RunOnce(ctx, names...); err != nil {
			logg.Error(ctx, "cron run failed", err)
			os.Exit(1)
		}
		return
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, core *bootstrap.Core) (*cron.Registry, error) {
	registry := cron.NewRegistry()

	sweep, err := cron.NewProjectionSweepJob(cron.ProjectionSweepJobParams{
		Logger:  logg,
		Sweeper: core.Pipeline,
		Limit:   cfg.Pipeline.SweepBatchSize,
	})
	if err != nil {
		return nil, err
	}
	if err := registry.Register(sweep); err != nil {
		return nil, err
	}

	if cfg.Cron.EnableAdSpendPoll {
		poller, err := bootstrap.NewAdSpendPoller(cfg.AdSpend, core, redisClient, logg)
		if err != nil {
			return nil, err
		}
		if poller == nil {
			logg.Warn(context.Background(), "ad spend polling enabled without a gateway url; skipping")
		} else {
			job, err := cron.NewAdSpendPollJob(cron.AdSpendPollJobParams{
				Logger:       logg,
				Poller:       poller,
				LookbackDays: cfg.AdSpend.LookbackDays,
			})
			if err != nil {
				return nil, err
			}
			if err := registry.Register(job); err != nil {
				return nil, err
			}
		}
	}

	risk, err := cron.NewRiskRefreshJob(cron.RiskRefreshJobParams{
		Logger:       logg,
		Merchants:    core.Events,
		Diagnostics:  core.Diagnostics,
		Plans:        core.Plans,
		ActivityDays: cfg.Cron.RiskActivityDays,
		Concurrency:  cfg.Cron.RiskConcurrency,
	})
	if err != nil {
		return nil, err
	}
	if err := registry.Register(risk); err != nil {
		return nil, err
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Repository:    core.OutboxRepo,
		RetentionDays: cfg.Outbox.RetentionDays,
		MinAttempts:   cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	if err := registry.Register(retention); err != nil {
		return nil, err
	}
	return registry, nil
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}

func splitNames(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}
