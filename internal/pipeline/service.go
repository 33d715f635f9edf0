package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marginguard-backend/internal/eventlog"
	"github.com/angelmondragon/marginguard-backend/internal/events"
	"github.com/angelmondragon/marginguard-backend/internal/ledger"
	"github.com/angelmondragon/marginguard-backend/internal/merchants"
	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
	"github.com/angelmondragon/marginguard-backend/pkg/metrics"
)

// EventLog is the write and audit surface of the event log.
type EventLog interface {
	Ingest(ctx context.Context, input eventlog.IngestInput) (eventlog.IngestResult, error)
	ListUnprojected(ctx context.Context, merchantID string, after *eventlog.Cursor, limit int) ([]models.Event, error)
	Counts(ctx context.Context, merchantID string) (eventlog.Counts, error)
}

// Projector turns one accepted event into its ledger transaction.
type Projector interface {
	Project(ctx context.Context, eventID uuid.UUID) (ledger.ProjectResult, error)
}

// LedgerAudit exposes the ledger counts reconciliation compares against.
type LedgerAudit interface {
	CountTransactions(ctx context.Context, merchantID string) (int64, error)
	ListUnbalanced(ctx context.Context, merchantID string) ([]uuid.UUID, error)
}

// Purger erases what a disconnected stream produced.
type Purger interface {
	PurgeMerchantData(ctx context.Context, merchantID string, streamTypes []string) (merchants.PurgeResult, error)
}

// ServiceParams groups dependencies for the pipeline.
type ServiceParams struct {
	Events           EventLog
	Projector        Projector
	Ledger           LedgerAudit
	Purger           Purger
	Metrics          *metrics.PipelineMetrics
	Logger           *logger.Logger
	InlineProjection bool
	SweepBatchSize   int
}

// Service is the entry point producers submit events through.
type Service struct {
	events    EventLog
	projector Projector
	ledger    LedgerAudit
	purger    Purger
	metrics   *metrics.PipelineMetrics
	logg      *logger.Logger
	inline    bool
	batchSize int

	// resume is where the next sweep starts; nil means the oldest event.
	mu     sync.Mutex
	resume *eventlog.Cursor
}

// NewService wires the pipeline.
func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Events == nil:
		return nil, fmt.Errorf("event log required")
	case params.Projector == nil:
		return nil, fmt.Errorf("projector required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger audit required")
	case params.Purger == nil:
		return nil, fmt.Errorf("purger required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	batch := params.SweepBatchSize
	if batch <= 0 {
		batch = 500
	}
	return &Service{
		events:    params.Events,
		projector: params.Projector,
		ledger:    params.Ledger,
		purger:    params.Purger,
		metrics:   params.Metrics,
		logg:      params.Logger,
		inline:    params.InlineProjection,
		batchSize: batch,
	}, nil
}

// SubmitResult reports what one submission did.
type SubmitResult struct {
	EventID       uuid.UUID              `json:"event_id"`
	Accepted      bool                   `json:"accepted"`
	TransactionID *uuid.UUID             `json:"transaction_id,omitempty"`
	Projection    string                 `json:"projection,omitempty"`
	Defect        string                 `json:"defect,omitempty"`
	Purge         *merchants.PurgeResult `json:"purge,omitempty"`
}

// Projection states reported on SubmitResult.
const (
	ProjectionProjected = "projected"
	ProjectionSkipped   = "skipped"
	ProjectionPending   = "pending"
	ProjectionDefect    = "defect"
)

// SubmitEvent ingests one delivery and, when enabled, projects it inline.
// Re-deliveries are projected again so a delivery whose first projection
// failed heals on retry; the projector reports those as skipped otherwise.
// A disconnect purges the named streams on every delivery.
func (s *Service) SubmitEvent(ctx context.Context, input eventlog.IngestInput) (SubmitResult, error) {
	ingested, err := s.events.Ingest(ctx, input)
	if err != nil {
		s.metrics.IncIngested(string(input.EventType), string(input.Origin), metrics.OutcomeFailed)
		return SubmitResult{}, err
	}
	outcome := metrics.OutcomeAccepted
	if !ingested.Accepted {
		outcome = metrics.OutcomeDuplicate
	}
	s.metrics.IncIngested(string(input.EventType), string(input.Origin), outcome)

	result := SubmitResult{EventID: ingested.EventID, Accepted: ingested.Accepted}
	logCtx := s.logg.WithEvent(s.logg.WithMerchantID(ctx, input.MerchantID), ingested.EventID.String(), string(input.EventType))

	if disconnect, ok := ingested.Payload.(events.AppDisconnected); ok {
		purge, err := s.purger.PurgeMerchantData(ctx, input.MerchantID, disconnect.StreamTypes)
		if err != nil {
			s.logg.Error(logCtx, "disconnect purge failed", err)
			return result, err
		}
		result.Purge = &purge
		return result, nil
	}

	if !s.inline {
		result.Projection = ProjectionPending
		return result, nil
	}

	projected, err := s.projector.Project(ctx, ingested.EventID)
	switch {
	case ledger.IsDefect(err):
		s.metrics.IncProjected(string(input.EventType), metrics.OutcomeDefect)
		result.Projection = ProjectionDefect
		result.Defect = err.Error()
		return result, nil
	case err != nil:
		s.metrics.IncProjected(string(input.EventType), metrics.OutcomeFailed)
		s.logg.Warn(logCtx, "inline projection failed, leaving event for the sweep")
		result.Projection = ProjectionPending
		return result, err
	}

	if projected.Skipped {
		s.metrics.IncProjected(string(input.EventType), metrics.OutcomeSkipped)
		result.Projection = ProjectionSkipped
	} else {
		s.metrics.IncProjected(string(input.EventType), metrics.OutcomeProjected)
		result.Projection = ProjectionProjected
	}
	if projected.TransactionID != uuid.Nil {
		id := projected.TransactionID
		result.TransactionID = &id
	}
	return result, nil
}

// SweepResult tallies one sweep.
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Projected int `json:"projected"`
	Skipped   int `json:"skipped"`
	Defects   int `json:"defects"`
	Failed    int `json:"failed"`
}

// Sweep projects up to limit unprojected events in (received_at, id) order.
// Each sweep resumes after the last event the previous one scanned and wraps
// to the oldest event at the end of the log, so events that keep failing never
// hold back the ones behind them. One event's failure never stops the rest;
// defects are counted and left pending, and storage failures are returned
// together once the sweep finishes.
func (s *Service) Sweep(ctx context.Context, limit int) (SweepResult, error) {
	if limit <= 0 {
		limit = s.batchSize
	}
	s.mu.Lock()
	cursor := s.resume
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.resume = cursor
		s.mu.Unlock()
	}()

	var (
		res  SweepResult
		errs error
	)
	wrapped := cursor == nil
	seen := make(map[uuid.UUID]struct{})
scan:
	for res.Scanned < limit {
		if err := ctx.Err(); err != nil {
			return res, multierr.Append(errs, err)
		}
		page, err := s.events.ListUnprojected(ctx, "", cursor, min(limit-res.Scanned, s.batchSize))
		if err != nil {
			return res, multierr.Append(errs, err)
		}
		if len(page) == 0 {
			cursor = nil
			if wrapped {
				break
			}
			wrapped = true
			continue
		}
		for _, event := range page {
			if _, ok := seen[event.ID]; ok {
				break scan
			}
			seen[event.ID] = struct{}{}
			cursor = eventlog.CursorAfter(event)
			res.Scanned++
			projected, err := s.projector.Project(ctx, event.ID)
			switch {
			case ledger.IsDefect(err):
				res.Defects++
				s.metrics.IncProjected(string(event.EventType), metrics.OutcomeDefect)
			case err != nil:
				res.Failed++
				s.metrics.IncProjected(string(event.EventType), metrics.OutcomeFailed)
				errs = multierr.Append(errs, fmt.Errorf("project %s: %w", event.ID, err))
			case projected.Skipped:
				res.Skipped++
				s.metrics.IncProjected(string(event.EventType), metrics.OutcomeSkipped)
			default:
				res.Projected++
				s.metrics.IncProjected(string(event.EventType), metrics.OutcomeProjected)
			}
		}
	}

	if res.Scanned > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"scanned":   res.Scanned,
			"projected": res.Projected,
			"skipped":   res.Skipped,
			"defects":   res.Defects,
			"failed":    res.Failed,
		}), "projection sweep finished")
	}
	return res, errs
}

// Reconciliation is the audit view of a merchant's event log against its ledger.
type Reconciliation struct {
	MerchantID        string      `json:"merchant_id"`
	Events            int64       `json:"events"`
	ProjectableEvents int64       `json:"projectable_events"`
	Transactions      int64       `json:"transactions"`
	Pending           int64       `json:"pending"`
	PendingEventIDs   []uuid.UUID `json:"pending_event_ids"`
	Unbalanced        []uuid.UUID `json:"unbalanced_transaction_ids"`
	Reconciled        bool        `json:"reconciled"`
	CheckedAt         time.Time   `json:"checked_at"`
}

const maxPendingIDs = 100

// Reconcile compares projectable events with ledger transactions. A
// non-zero pending count means some events are still unprojected.
func (s *Service) Reconcile(ctx context.Context, merchantID string) (*Reconciliation, error) {
	if merchantID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant id is required")
	}
	counts, err := s.events.Counts(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	txns, err := s.ledger.CountTransactions(ctx, merchantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count transactions")
	}
	pending, err := s.events.ListUnprojected(ctx, merchantID, nil, maxPendingIDs)
	if err != nil {
		return nil, err
	}
	unbalanced, err := s.ledger.ListUnbalanced(ctx, merchantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list unbalanced transactions")
	}

	ids := make([]uuid.UUID, 0, len(pending))
	for _, event := range pending {
		ids = append(ids, event.ID)
	}
	gap := counts.Projectable - txns
	if gap < 0 {
		gap = 0
	}
	if unbalanced == nil {
		unbalanced = []uuid.UUID{}
	}
	return &Reconciliation{
		MerchantID:        merchantID,
		Events:            counts.Total,
		ProjectableEvents: counts.Projectable,
		Transactions:      txns,
		Pending:           gap,
		PendingEventIDs:   ids,
		Unbalanced:        unbalanced,
		Reconciled:        gap == 0 && len(unbalanced) == 0,
		CheckedAt:         time.Now().UTC(),
	}, nil
}

// IsStorageFailure reports whether err is a retryable storage outage.
func IsStorageFailure(err error) bool {
	return pkgerrors.HasCode(err, pkgerrors.CodeStorageUnavailable)
}
