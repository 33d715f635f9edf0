package cron

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marginguard-backend/pkg/logger"
	"github.com/angelmondragon/marginguard-backend/pkg/metrics"
)

type fakeLock struct {
	acquired   bool
	acquireErr error
	releases   int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.acquired = false
	f.releases++
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func newTestService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{Output: io.Discard}),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success"}
	failA := &testJob{name: "fail-a", err: errors.New("boom")}
	failB := &testJob{name: "fail-b", err: errors.New("bang")}
	lock := &fakeLock{}
	service := newTestService(t, lock, failA, success, failB)

	err := service.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected combined error")
	}
	if n := len(multierr.Errors(err)); n != 2 {
		t.Fatalf("expected 2 job errors, got %d: %v", n, err)
	}
	if !strings.Contains(err.Error(), "fail-a") || !strings.Contains(err.Error(), "fail-b") {
		t.Fatalf("error should name failing jobs: %v", err)
	}
	for _, job := range []*testJob{success, failA, failB} {
		if job.runs != 1 {
			t.Fatalf("job %s ran %d times", job.name, job.runs)
		}
	}
	if lock.releases != 1 || lock.acquired {
		t.Fatalf("lock not released: releases=%d", lock.releases)
	}
}

func TestRunOnceSelectsNamedJobs(t *testing.T) {
	sweep := &testJob{name: "projection-sweep"}
	risk := &testJob{name: "risk-refresh"}
	service := newTestService(t, &fakeLock{}, sweep, risk)

	if err := service.RunOnce(context.Background(), "risk-refresh"); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if sweep.runs != 0 || risk.runs != 1 {
		t.Fatalf("unexpected runs sweep=%d risk=%d", sweep.runs, risk.runs)
	}
	if err := service.RunOnce(context.Background(), "nope"); err == nil {
		t.Fatal("expected unknown job error")
	}
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "projection-sweep"}
	service := newTestService(t, &fakeLock{acquired: true}, job)

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("job should not run without the lock")
	}
}

func TestRunOnceLockError(t *testing.T) {
	job := &testJob{name: "projection-sweep"}
	service := newTestService(t, &fakeLock{acquireErr: errors.New("redis down")}, job)

	if err := service.RunOnce(context.Background()); err == nil {
		t.Fatal("expected lock error")
	}
	if job.runs != 0 {
		t.Fatalf("job should not run when the lock errors")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "projection-sweep"}
	service := newTestService(t, &fakeLock{}, job)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := service.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("canceled cycle should not start jobs, ran %d", job.runs)
	}
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(ServiceParams{Lock: &fakeLock{}}); err == nil {
		t.Fatal("expected logger error")
	}
	if _, err := NewService(ServiceParams{Logger: logger.New(logger.Options{Output: io.Discard})}); err == nil {
		t.Fatal("expected lock error")
	}
}
