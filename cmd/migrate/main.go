package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/marginguard-backend/pkg/config"
	"github.com/angelmondragon/marginguard-backend/pkg/db"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
	"github.com/angelmondragon/marginguard-backend/pkg/migrate"
)

type options struct {
	dir     string
	name    string
	version string
}

// offline commands only touch the migrations directory
var offline = map[string]func(options) error{
	"create": func(o options) error {
		if o.name == "" {
			return errors.New("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(o.dir, o.name)
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	},
	"validate": func(o options) error {
		if err := migrate.ValidateDir(o.dir); err != nil {
			return err
		}
		fmt.Println("migration validation passed")
		return nil
	},
}

var online = map[string]func(context.Context, *migrate.Migrator, options) error{
	"up": func(ctx context.Context, m *migrate.Migrator, _ options) error {
		ran, err := m.Up(ctx)
		printApplied(ran)
		return err
	},
	"down": func(ctx context.Context, m *migrate.Migrator, _ options) error {
		undone, err := m.Down(ctx)
		if err == nil {
			printApplied([]migrate.Applied{undone})
		}
		return err
	},
	"status": func(ctx context.Context, m *migrate.Migrator, _ options) error {
		states, err := m.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range states {
			mark := "pending"
			if s.Applied {
				mark = "applied"
			}
			fmt.Printf("%-8s %d %s\n", mark, s.Version, s.Path)
		}
		return nil
	},
	"version": func(ctx context.Context, m *migrate.Migrator, o options) error {
		if o.version == "" {
			v, err := m.Version(ctx)
			if err == nil {
				fmt.Println("schema version:", v)
			}
			return err
		}
		target, err := migrate.ParseVersion(o.version)
		if err != nil {
			return err
		}
		ran, err := m.To(ctx, target)
		printApplied(ran)
		return err
	},
}

func main() {
	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	var opts options
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "migrations directory; empty uses the migrations compiled into this binary")
	flag.StringVar(&opts.name, "name", "", "migration name (create)")
	flag.StringVar(&opts.version, "version", "", "target version YYYYMMDDHHMMSS (version); empty prints the current version")
	flag.Parse()
	if flag.NArg() > 0 {
		*cmd = flag.Arg(0)
	}

	_ = godotenv.Load()
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": opts.dir,
	})

	if err := run(ctx, cfg, logg, *cmd, opts); err != nil {
		logg.Error(ctx, "migrate failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, cmd string, opts options) error {
	if fn, ok := offline[cmd]; ok {
		return fn(opts)
	}
	fn, ok := online[cmd]
	if !ok {
		return fmt.Errorf("unknown command %q", cmd)
	}

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbClient.Close()

	// goose migrations are postgres SQL; sqlite gets the bundled local schema
	if dbClient.Dialect() == migrate.DialectSQLite {
		if cmd != "up" {
			return fmt.Errorf("%s is not supported on sqlite", cmd)
		}
		if err := migrate.EnsureSQLiteSchema(ctx, dbClient.DB()); err != nil {
			return err
		}
		fmt.Println("sqlite schema applied")
		return nil
	}

	sqlDB, err := dbClient.SQL()
	if err != nil {
		return err
	}
	m, err := migrate.New(sqlDB, migrate.DialectPostgres, migrate.Source(opts.dir))
	if err != nil {
		return err
	}
	logg.Info(ctx, "migrate ready")
	return fn(ctx, m, opts)
}

func printApplied(ran []migrate.Applied) {
	if len(ran) == 0 {
		fmt.Println("nothing to migrate")
		return
	}
	for _, a := range ran {
		fmt.Printf("%-4s %d %s\n", a.Direction, a.Version, a.Path)
	}
}
