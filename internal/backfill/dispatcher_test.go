package backfill

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

type blockingRunner struct {
	mu      sync.Mutex
	release chan struct{}
	jobs    []Job
	started chan struct{}
}

func (b *blockingRunner) Run(ctx context.Context, job Job) (Result, error) {
	b.mu.Lock()
	b.jobs = append(b.jobs, job)
	b.mu.Unlock()
	b.started <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	return Result{Completed: true}, nil
}

func TestDispatcherBoundsConcurrentRuns(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{}), started: make(chan struct{}, 4)}
	d, err := NewDispatcher(context.Background(), runner, logger.New(logger.Options{Output: io.Discard}), 1)
	require.NoError(t, err)

	job := Job{MerchantID: "m-1", StreamType: "shopify_orders"}
	ticket, err := d.Start(job)
	require.NoError(t, err)
	assert.NotEqual(t, "", ticket.ID.String())
	<-runner.started

	_, err = d.Start(job)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeRateLimit, pkgerrors.As(err).Code())

	close(runner.release)
	d.Wait()

	_, err = d.Start(job)
	require.NoError(t, err)
	<-runner.started
	d.Wait()
	assert.Len(t, runner.jobs, 2)
}

func TestDispatcherOutlivesRequestButNotBase(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	runner := &blockingRunner{release: make(chan struct{}), started: make(chan struct{}, 1)}
	d, err := NewDispatcher(base, runner, logger.New(logger.Options{Output: io.Discard}), 2)
	require.NoError(t, err)

	_, err = d.Start(Job{MerchantID: "m-1", StreamType: "shopify_orders"})
	require.NoError(t, err)
	<-runner.started
	cancel()

	done := make(chan struct{})
	go func() { d.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after base cancel")
	}

	_, err = d.Start(Job{MerchantID: "m-1", StreamType: "shopify_orders"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
}

func TestDispatcherValidatesJob(t *testing.T) {
	d, err := NewDispatcher(context.Background(), &blockingRunner{}, logger.New(logger.Options{Output: io.Discard}), 1)
	require.NoError(t, err)

	_, err = d.Start(Job{StreamType: "shopify_orders"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	since := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	_, err = d.Start(Job{MerchantID: "m-1", StreamType: "s", Since: since, Until: since})
	require.Error(t, err)
}
