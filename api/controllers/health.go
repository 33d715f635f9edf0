package controllers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/marginguard-backend/api/responses"
	"github.com/angelmondragon/marginguard-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

const readyTimeout = 2 * time.Second

// Pinger is any dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-MarginGuard-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every named dependency in parallel. Nil pingers are
// reported as skipped so optional dependencies can be left unwired.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-MarginGuard-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		var (
			mu     sync.Mutex
			checks = make(map[string]string, len(deps))
			failed []string
		)
		var g errgroup.Group
		for name, dep := range deps {
			if dep == nil {
				mu.Lock()
				checks[name] = "skipped"
				mu.Unlock()
				continue
			}
			g.Go(func() error {
				err := dep.Ping(ctx)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					checks[name] = "down"
					failed = append(failed, name)
					if logg != nil {
						logg.Warn(logg.WithField(ctx, "dependency", name), "readiness check failed: "+err.Error())
					}
					return nil
				}
				checks[name] = "ok"
				return nil
			})
		}
		_ = g.Wait()

		if len(failed) > 0 {
			sort.Strings(failed)
			responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").
				WithDetails(map[string]any{"checks": checks, "failed": failed}))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
