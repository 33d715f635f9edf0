package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultParkedAttempts  = 10
	defaultRetentionBatch  = 1000
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	DeleteExpired(ctx context.Context, tx *gorm.DB, cutoff time.Time, parkedAt, limit int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPruner
	// RetentionDays keeps published and parked rows this long.
	RetentionDays int
	// MinAttempts is the publisher's attempt ceiling; rows at it are parked.
	MinAttempts int
	// BatchSize bounds the rows deleted per transaction.
	BatchSize int
}

// outboxRetentionJob prunes the outbox in bounded batches, each in its own
// transaction, so a large backlog never holds one long lock.
type outboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	repo      outboxPruner
	keep      time.Duration
	parkedAt  int
	batchSize int
	now       func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		repo:      params.Repository,
		keep:      defaultOutboxRetention,
		parkedAt:  defaultParkedAttempts,
		batchSize: defaultRetentionBatch,
		now:       time.Now,
	}
	if params.RetentionDays > 0 {
		job.keep = time.Duration(params.RetentionDays) * 24 * time.Hour
	}
	if params.MinAttempts > 0 {
		job.parkedAt = params.MinAttempts
	}
	if params.BatchSize > 0 {
		job.batchSize = params.BatchSize
	}
	return job, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.keep)
	var total int64
	batches := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var n int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			n, err = j.repo.DeleteExpired(ctx, tx, cutoff, j.parkedAt, j.batchSize)
			return err
		})
		if err != nil {
			return fmt.Errorf("outbox retention after %d rows: %w", total, err)
		}
		total += n
		batches++
		if n < int64(j.batchSize) {
			break
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"parked_at":    j.parkedAt,
		"batches":      batches,
		"rows_deleted": total,
	}), "outbox retention cleanup complete")
	return nil
}
