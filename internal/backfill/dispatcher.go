package backfill

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

const defaultMaxRunning = 4

// JobRunner executes one backfill job to completion.
type JobRunner interface {
	Run(ctx context.Context, job Job) (Result, error)
}

// Ticket identifies a backfill started in the background.
type Ticket struct {
	ID        uuid.UUID `json:"id"`
	Job       Job       `json:"job"`
	StartedAt time.Time `json:"started_at"`
}

// Dispatcher runs backfills outside the request that asked for them. Runs
// are bound to base, not the request, and at most maxRunning run at once.
type Dispatcher struct {
	base   context.Context
	runner JobRunner
	logg   *logger.Logger
	group  *errgroup.Group
}

func NewDispatcher(base context.Context, runner JobRunner, logg *logger.Logger, maxRunning int) (*Dispatcher, error) {
	if base == nil || runner == nil || logg == nil {
		return nil, errors.New("base context, runner and logger are required")
	}
	if maxRunning <= 0 {
		maxRunning = defaultMaxRunning
	}
	group := new(errgroup.Group)
	group.SetLimit(maxRunning)
	return &Dispatcher{base: base, runner: runner, logg: logg, group: group}, nil
}

// Start validates job and launches it. A full dispatcher answers with a
// rate-limit error rather than queueing.
func (d *Dispatcher) Start(job Job) (Ticket, error) {
	if job.MerchantID == "" || job.StreamType == "" {
		return Ticket{}, pkgerrors.New(pkgerrors.CodeValidation, "merchant id and stream type are required")
	}
	if !job.Until.IsZero() && !job.Until.After(job.Since) {
		return Ticket{}, pkgerrors.New(pkgerrors.CodeValidation, "until must be after since")
	}
	if err := d.base.Err(); err != nil {
		return Ticket{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "backfill dispatcher stopped")
	}
	ticket := Ticket{ID: uuid.New(), Job: job, StartedAt: time.Now().UTC()}
	started := d.group.TryGo(func() error {
		ctx := d.logg.WithFields(d.logg.WithMerchantID(d.base, job.MerchantID), map[string]any{
			"backfill_id": ticket.ID.String(),
			"stream_type": job.StreamType,
		})
		res, err := d.runner.Run(ctx, job)
		if err != nil {
			d.logg.Error(ctx, "backfill run failed", err)
			return nil
		}
		d.logg.Info(d.logg.WithFields(ctx, map[string]any{
			"pages":      res.Pages,
			"accepted":   res.Accepted,
			"duplicates": res.Duplicates,
			"failed":     res.Failed,
			"resumed":    res.Resumed,
		}), "backfill run finished")
		return nil
	})
	if !started {
		return Ticket{}, pkgerrors.New(pkgerrors.CodeRateLimit, "too many backfills running; retry later")
	}
	return ticket, nil
}

// Wait blocks until every launched run has returned.
func (d *Dispatcher) Wait() {
	_ = d.group.Wait()
}
