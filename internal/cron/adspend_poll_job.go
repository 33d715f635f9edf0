package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/marginguard-backend/internal/adspend"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

// SpendPoller pulls one day of ad spend for every connected platform.
type SpendPoller interface {
	Poll(ctx context.Context, date time.Time) (adspend.Result, error)
}

type AdSpendPollJobParams struct {
	Logger *logger.Logger
	Poller SpendPoller
	// LookbackDays is how many completed days are polled, ending yesterday.
	LookbackDays int
}

type adSpendPollJob struct {
	logg     *logger.Logger
	poller   SpendPoller
	lookback int
	now      func() time.Time
}

func NewAdSpendPollJob(params AdSpendPollJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Poller == nil {
		return nil, fmt.Errorf("poller required")
	}
	lookback := params.LookbackDays
	if lookback <= 0 {
		lookback = 1
	}
	return &adSpendPollJob{logg: params.Logger, poller: params.Poller, lookback: lookback, now: time.Now}, nil
}

func (j *adSpendPollJob) Name() string { return "ad-spend-poll" }

// Run polls oldest day first. Spend for the current day is still moving, so
// it is left for the next run.
func (j *adSpendPollJob) Run(ctx context.Context) error {
	today := j.now().UTC().Truncate(24 * time.Hour)
	var (
		errs  error
		total adspend.Result
	)
	for offset := j.lookback; offset >= 1; offset-- {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		date := today.AddDate(0, 0, -offset)
		res, err := j.poller.Poll(ctx, date)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("poll %s: %w", date.Format(time.DateOnly), err))
		}
		total.Connections += res.Connections
		total.Throttled += res.Throttled
		total.Records += res.Records
		total.Accepted += res.Accepted
		total.Duplicates += res.Duplicates
		total.Failed += res.Failed
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"days":        j.lookback,
		"connections": total.Connections,
		"throttled":   total.Throttled,
		"records":     total.Records,
		"accepted":    total.Accepted,
		"duplicates":  total.Duplicates,
		"failed":      total.Failed,
	}), "ad spend poll finished")
	return errs
}
