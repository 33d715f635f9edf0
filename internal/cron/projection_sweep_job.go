package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/marginguard-backend/internal/pipeline"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

// Sweeper projects events left unprojected by ingest.
type Sweeper interface {
	Sweep(ctx context.Context, limit int) (pipeline.SweepResult, error)
}

type ProjectionSweepJobParams struct {
	Logger  *logger.Logger
	Sweeper Sweeper
	// Limit caps events scanned per run; zero uses the pipeline batch size.
	Limit int
}

type projectionSweepJob struct {
	logg    *logger.Logger
	sweeper Sweeper
	limit   int
}

func NewProjectionSweepJob(params ProjectionSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("sweeper required")
	}
	return &projectionSweepJob{logg: params.Logger, sweeper: params.Sweeper, limit: params.Limit}, nil
}

func (j *projectionSweepJob) Name() string { return "projection-sweep" }

// Run fails only on storage errors; defective events stay pending for the
// reconciliation audit.
func (j *projectionSweepJob) Run(ctx context.Context) error {
	res, err := j.sweeper.Sweep(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("projection sweep (%d of %d failed): %w", res.Failed, res.Scanned, err)
	}
	if res.Defects > 0 {
		j.logg.Warn(j.logg.WithField(ctx, "defects", res.Defects), "projection sweep left defective events pending")
	}
	return nil
}
