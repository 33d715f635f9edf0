package cron

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/angelmondragon/marginguard-backend/internal/pipeline"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

type fakeSweeper struct {
	res    pipeline.SweepResult
	err    error
	limits []int
}

func (f *fakeSweeper) Sweep(_ context.Context, limit int) (pipeline.SweepResult, error) {
	f.limits = append(f.limits, limit)
	return f.res, f.err
}

func TestProjectionSweepJobPassesLimit(t *testing.T) {
	sweeper := &fakeSweeper{res: pipeline.SweepResult{Scanned: 3, Projected: 2, Defects: 1}}
	job, err := NewProjectionSweepJob(ProjectionSweepJobParams{
		Logger:  logger.New(logger.Options{Output: io.Discard}),
		Sweeper: sweeper,
		Limit:   250,
	})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if job.Name() != "projection-sweep" {
		t.Fatalf("unexpected name %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("defects must not fail the job: %v", err)
	}
	if len(sweeper.limits) != 1 || sweeper.limits[0] != 250 {
		t.Fatalf("unexpected limits %v", sweeper.limits)
	}
}

func TestProjectionSweepJobReturnsStorageFailure(t *testing.T) {
	boom := errors.New("db down")
	sweeper := &fakeSweeper{res: pipeline.SweepResult{Scanned: 1, Failed: 1}, err: boom}
	job, _ := NewProjectionSweepJob(ProjectionSweepJobParams{
		Logger:  logger.New(logger.Options{Output: io.Discard}),
		Sweeper: sweeper,
	})
	if err := job.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped storage error, got %v", err)
	}
}

func TestNewProjectionSweepJobValidation(t *testing.T) {
	if _, err := NewProjectionSweepJob(ProjectionSweepJobParams{Sweeper: &fakeSweeper{}}); err == nil {
		t.Fatal("expected logger error")
	}
	if _, err := NewProjectionSweepJob(ProjectionSweepJobParams{Logger: logger.New(logger.Options{Output: io.Discard})}); err == nil {
		t.Fatal("expected sweeper error")
	}
}
