package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/marginguard-backend/internal/plans"
	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

const (
	defaultRiskActivityDays = 90
	defaultRiskConcurrency  = 4
)

type ActiveMerchantLister interface {
	ActiveMerchantsSince(ctx context.Context, since time.Time) ([]string, error)
}

type Diagnoser interface {
	Diagnose(ctx context.Context, merchantID string) (*models.HealthScore, error)
}

type PlanCalculator interface {
	CalculateRequiredPlan(ctx context.Context, merchantID string) (*plans.Result, error)
}

type RiskRefreshJobParams struct {
	Logger       *logger.Logger
	Merchants    ActiveMerchantLister
	Diagnostics  Diagnoser
	Plans        PlanCalculator
	ActivityDays int
	Concurrency  int
}

type riskRefreshJob struct {
	logg         *logger.Logger
	merchants    ActiveMerchantLister
	diagnostics  Diagnoser
	plans        PlanCalculator
	activityDays int
	concurrency  int
	now          func() time.Time
}

func NewRiskRefreshJob(params RiskRefreshJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Merchants == nil || params.Diagnostics == nil || params.Plans == nil {
		return nil, fmt.Errorf("merchant lister, diagnostics and plans are required")
	}
	days := params.ActivityDays
	if days <= 0 {
		days = defaultRiskActivityDays
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = defaultRiskConcurrency
	}
	return &riskRefreshJob{
		logg:         params.Logger,
		merchants:    params.Merchants,
		diagnostics:  params.Diagnostics,
		plans:        params.Plans,
		activityDays: days,
		concurrency:  concurrency,
		now:          time.Now,
	}, nil
}

func (j *riskRefreshJob) Name() string { return "risk-refresh" }

// Run rescores every merchant with events in the activity window, then
// recalculates its plan from the fresh score. A failing merchant is reported
// without stopping the others.
func (j *riskRefreshJob) Run(ctx context.Context) error {
	since := j.now().UTC().AddDate(0, 0, -j.activityDays)
	ids, err := j.merchants.ActiveMerchantsSince(ctx, since)
	if err != nil {
		return fmt.Errorf("list active merchants: %w", err)
	}

	var (
		mu        sync.Mutex
		errs      error
		refreshed int
		upgrades  int
	)
	g := new(errgroup.Group)
	g.SetLimit(j.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			upgrade, err := j.refresh(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("merchant %s: %w", id, err))
				return nil
			}
			refreshed++
			if upgrade {
				upgrades++
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		errs = multierr.Append(errs, err)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"merchants":      len(ids),
		"refreshed":      refreshed,
		"upgrade_needed": upgrades,
		"failed":         len(multierr.Errors(errs)),
	}), "risk refresh finished")
	return errs
}

func (j *riskRefreshJob) refresh(ctx context.Context, merchantID string) (bool, error) {
	logCtx := j.logg.WithMerchantID(ctx, merchantID)
	if _, err := j.diagnostics.Diagnose(logCtx, merchantID); err != nil {
		return false, fmt.Errorf("diagnose: %w", err)
	}
	res, err := j.plans.CalculateRequiredPlan(logCtx, merchantID)
	if err != nil {
		return false, fmt.Errorf("plan: %w", err)
	}
	return res.UpgradeNeeded, nil
}
