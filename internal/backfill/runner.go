package backfill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/marginguard-backend/internal/eventlog"
	"github.com/angelmondragon/marginguard-backend/internal/pipeline"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/gateway"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

// PageFetcher reads one page of a stream's history.
type PageFetcher interface {
	FetchPage(ctx context.Context, req gateway.PageRequest) (*gateway.Page, error)
}

// Submitter accepts events into the pipeline.
type Submitter interface {
	SubmitEvent(ctx context.Context, input eventlog.IngestInput) (pipeline.SubmitResult, error)
}

// CursorStore persists progress between runs.
type CursorStore interface {
	Load(ctx context.Context, job Job) (string, bool, error)
	Save(ctx context.Context, job Job, cursor string) error
	Clear(ctx context.Context, job Job) error
}

// Job names one stream history to replay into the event log.
type Job struct {
	MerchantID string    `json:"merchant_id" validate:"required"`
	StreamType string    `json:"stream_type" validate:"required"`
	Since      time.Time `json:"since"`
	Until      time.Time `json:"until"`
	// Restart ignores any saved checkpoint and scans from the first page.
	Restart bool `json:"restart"`
}

// Result tallies one run.
type Result struct {
	Pages      int  `json:"pages"`
	Records    int  `json:"records"`
	Accepted   int  `json:"accepted"`
	Duplicates int  `json:"duplicates"`
	Failed     int  `json:"failed"`
	Resumed    bool `json:"resumed"`
	Completed  bool `json:"completed"`
}

// Runner drives a paginated backfill. Every record goes through SubmitEvent,
// so rerunning a window never duplicates events or transactions.
type Runner struct {
	fetcher     PageFetcher
	submitter   Submitter
	checkpoints CursorStore
	logg        *logger.Logger
	pageSize    int
}

// NewRunner builds a runner. checkpoints may be nil, in which case an
// interrupted run restarts from the first page.
func NewRunner(fetcher PageFetcher, submitter Submitter, checkpoints CursorStore, logg *logger.Logger, pageSize int) (*Runner, error) {
	if fetcher == nil || submitter == nil || logg == nil {
		return nil, errors.New("fetcher, submitter and logger are required")
	}
	if pageSize <= 0 {
		pageSize = 250
	}
	return &Runner{fetcher: fetcher, submitter: submitter, checkpoints: checkpoints, logg: logg, pageSize: pageSize}, nil
}

// Run replays the job's pages. A record that fails validation is logged and
// counted; a storage outage stops the run with the checkpoint still on the
// failing page so the next run resumes there.
func (r *Runner) Run(ctx context.Context, job Job) (Result, error) {
	job.MerchantID = strings.TrimSpace(job.MerchantID)
	job.StreamType = strings.TrimSpace(job.StreamType)
	if job.MerchantID == "" || job.StreamType == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "merchant id and stream type are required")
	}
	if !job.Until.IsZero() && !job.Until.After(job.Since) {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "until must be after since")
	}
	logCtx := r.logg.WithFields(r.logg.WithMerchantID(ctx, job.MerchantID), map[string]any{
		"stream_type": job.StreamType,
		"job":         "backfill",
	})

	var res Result
	cursor := ""
	if r.checkpoints != nil && !job.Restart {
		saved, ok, err := r.checkpoints.Load(ctx, job)
		if err != nil {
			r.logg.Warn(logCtx, fmt.Sprintf("checkpoint unavailable, starting from first page: %v", err))
		} else if ok {
			cursor, res.Resumed = saved, true
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		page, err := r.fetcher.FetchPage(ctx, gateway.PageRequest{
			MerchantID: job.MerchantID,
			StreamType: job.StreamType,
			Since:      job.Since,
			Until:      job.Until,
			Cursor:     cursor,
			Limit:      r.pageSize,
		})
		if err != nil {
			r.logg.Error(logCtx, "backfill page fetch failed", err)
			return res, err
		}
		res.Pages++

		for _, record := range page.Records {
			res.Records++
			submitted, err := r.submitter.SubmitEvent(ctx, eventlog.IngestInput{
				MerchantID: job.MerchantID,
				StreamType: job.StreamType,
				Origin:     enums.OriginHistoricalBackfill,
				EventType:  record.EventType,
				Payload:    record.Payload,
			})
			switch {
			case pipeline.IsStorageFailure(err):
				r.logg.Error(logCtx, "backfill stopped on storage outage", err)
				return res, err
			case err != nil:
				res.Failed++
				r.logg.Warn(r.logg.WithFields(logCtx, map[string]any{
					"event_type": record.EventType,
					"payload":    string(record.Payload),
					"error":      err.Error(),
				}), "backfill record rejected")
			case submitted.Accepted:
				res.Accepted++
			default:
				res.Duplicates++
			}
		}

		if page.NextCursor == "" {
			res.Completed = true
			r.clear(logCtx, job)
			break
		}
		if page.NextCursor == cursor {
			return res, pkgerrors.New(pkgerrors.CodeDependency, "gateway returned the same cursor twice")
		}
		cursor = page.NextCursor
		r.save(logCtx, job, cursor)
	}

	r.logg.Info(r.logg.WithFields(logCtx, map[string]any{
		"pages":      res.Pages,
		"records":    res.Records,
		"accepted":   res.Accepted,
		"duplicates": res.Duplicates,
		"failed":     res.Failed,
		"resumed":    res.Resumed,
	}), "backfill completed")
	return res, nil
}

func (r *Runner) save(ctx context.Context, job Job, cursor string) {
	if r.checkpoints == nil {
		return
	}
	if err := r.checkpoints.Save(ctx, job, cursor); err != nil {
		r.logg.Warn(ctx, fmt.Sprintf("failed to save backfill checkpoint: %v", err))
	}
}

func (r *Runner) clear(ctx context.Context, job Job) {
	if r.checkpoints == nil {
		return
	}
	if err := r.checkpoints.Clear(ctx, job); err != nil {
		r.logg.Warn(ctx, fmt.Sprintf("failed to clear backfill checkpoint: %v", err))
	}
}
