package cron

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/marginguard-backend/internal/plans"
	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

type fakeMerchantLister struct {
	ids   []string
	since time.Time
	err   error
}

func (f *fakeMerchantLister) ActiveMerchantsSince(_ context.Context, since time.Time) ([]string, error) {
	f.since = since
	return f.ids, f.err
}

type fakeRiskServices struct {
	mu        sync.Mutex
	diagnosed []string
	planned   []string
	failOn    string
	upgrade   map[string]bool
}

func (f *fakeRiskServices) Diagnose(_ context.Context, merchantID string) (*models.HealthScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if merchantID == f.failOn {
		return nil, errors.New("ledger unavailable")
	}
	f.diagnosed = append(f.diagnosed, merchantID)
	return &models.HealthScore{MerchantID: merchantID}, nil
}

func (f *fakeRiskServices) CalculateRequiredPlan(_ context.Context, merchantID string) (*plans.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.planned = append(f.planned, merchantID)
	return &plans.Result{UpgradeNeeded: f.upgrade[merchantID]}, nil
}

func newRiskJob(t *testing.T, lister ActiveMerchantLister, svc *fakeRiskServices) *riskRefreshJob {
	t.Helper()
	job, err := NewRiskRefreshJob(RiskRefreshJobParams{
		Logger:       logger.New(logger.Options{Output: io.Discard}),
		Merchants:    lister,
		Diagnostics:  svc,
		Plans:        svc,
		ActivityDays: 30,
		Concurrency:  2,
	})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	j := job.(*riskRefreshJob)
	j.now = func() time.Time { return time.Date(2026, 6, 30, 8, 0, 0, 0, time.UTC) }
	return j
}

func TestRiskRefreshJobDiagnosesThenPlansEachMerchant(t *testing.T) {
	lister := &fakeMerchantLister{ids: []string{"m-1", "m-2", "m-3"}}
	svc := &fakeRiskServices{upgrade: map[string]bool{"m-2": true}}
	job := newRiskJob(t, lister, svc)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := time.Date(2026, 5, 31, 8, 0, 0, 0, time.UTC); !lister.since.Equal(want) {
		t.Fatalf("expected since %s, got %s", want, lister.since)
	}
	sort.Strings(svc.diagnosed)
	sort.Strings(svc.planned)
	if len(svc.diagnosed) != 3 || len(svc.planned) != 3 {
		t.Fatalf("expected 3 diagnoses and plans, got %v / %v", svc.diagnosed, svc.planned)
	}
}

func TestRiskRefreshJobIsolatesMerchantFailure(t *testing.T) {
	lister := &fakeMerchantLister{ids: []string{"m-1", "m-bad", "m-3"}}
	svc := &fakeRiskServices{failOn: "m-bad"}
	job := newRiskJob(t, lister, svc)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected error for failing merchant")
	}
	if n := len(multierr.Errors(err)); n != 1 {
		t.Fatalf("expected 1 error, got %d: %v", n, err)
	}
	if len(svc.planned) != 2 {
		t.Fatalf("healthy merchants should still be planned, got %v", svc.planned)
	}
	for _, id := range svc.planned {
		if id == "m-bad" {
			t.Fatal("plan must not run after a failed diagnosis")
		}
	}
}

func TestRiskRefreshJobListError(t *testing.T) {
	boom := errors.New("db down")
	job := newRiskJob(t, &fakeMerchantLister{err: boom}, &fakeRiskServices{})
	if err := job.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected list error, got %v", err)
	}
}
