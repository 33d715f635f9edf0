package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/marginguard-backend/api/controllers"
	"github.com/angelmondragon/marginguard-backend/api/routes"
	"github.com/angelmondragon/marginguard-backend/internal/backfill"
	"github.com/angelmondragon/marginguard-backend/internal/bootstrap"
	"github.com/angelmondragon/marginguard-backend/pkg/config"
	"github.com/angelmondragon/marginguard-backend/pkg/db"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
	"github.com/angelmondragon/marginguard-backend/pkg/migrate"
	"github.com/angelmondragon/marginguard-backend/pkg/redis"
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
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	core, err := bootstrap.NewCore(cfg, logg, dbClient, registry)
	if err != nil {
		logg.Error(ctx, "failed to wire services", err)
		os.Exit(1)
	}

	services := routes.Services{
		Events:      core.Pipeline,
		Connections: core.Merchants,
		Purger:      core.Merchants,
		Reports:     core.Reporting,
		Health:      core.Diagnostics,
		Plans:       core.Plans,
		Reconciler:  core.Pipeline,
		Billing:     core.Billing,
	}

	// backfills outlive the request but not the process
	var dispatcher *backfill.Dispatcher
	runner, err := bootstrap.NewBackfillRunner(cfg.Backfill, core.Pipeline, redisClient, logg)
	if err != nil {
		logg.Error(ctx, "failed to wire backfill runner", err)
		os.Exit(1)
	}
	if runner != nil {
		dispatcher, err = backfill.NewDispatcher(ctx, runner, logg, cfg.API.MaxBackfills)
		if err != nil {
			logg.Error(ctx, "failed to create backfill dispatcher", err)
			os.Exit(1)
		}
		services.Backfills = dispatcher
	} else {
		logg.Warn(ctx, "backfill gateway not configured; backfill endpoint disabled")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})

	ready := map[string]controllers.Pinger{
		"database": dbClient,
		"redis":    redisClient,
	}
	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, redisClient, ready, registry, services),
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(logCtx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(logCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(logCtx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(logCtx, "graceful shutdown failed", err)
	}
	if dispatcher != nil {
		// runs observe ctx cancellation and checkpoint before returning
		dispatcher.Wait()
	}
	logg.Info(logCtx, "api server stopped")
}
