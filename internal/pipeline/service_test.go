package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marginguard-backend/internal/eventlog"
	"github.com/angelmondragon/marginguard-backend/internal/ledger"
	"github.com/angelmondragon/marginguard-backend/internal/merchants"
	"github.com/angelmondragon/marginguard-backend/pkg/db"
	"github.com/angelmondragon/marginguard-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
	"github.com/angelmondragon/marginguard-backend/pkg/metrics"
	"github.com/angelmondragon/marginguard-backend/pkg/outbox"
)

type fixture struct {
	client    *db.Client
	svc       *Service
	merchants *merchants.Service
}

func newFixture(t *testing.T, inline bool) fixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{Output: io.Discard})
	eventRepo := eventlog.NewRepository(client.DB())
	ledgerRepo := ledger.NewRepository(client.DB())

	log, err := eventlog.NewService(eventRepo, logg)
	require.NoError(t, err)
	projector, err := ledger.NewProjector(eventRepo, ledgerRepo, client, logg)
	require.NoError(t, err)
	pm := metrics.NewPipelineMetrics(prometheus.NewRegistry())
	merchantSvc, err := merchants.NewService(merchants.ServiceParams{
		Repo:    merchants.NewRepository(client.DB()),
		Ledger:  ledgerRepo,
		Events:  eventRepo,
		Tx:      client,
		Outbox:  outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Metrics: pm,
		Logger:  logg,
	})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Events:           log,
		Projector:        projector,
		Ledger:           ledgerRepo,
		Purger:           merchantSvc,
		Metrics:          pm,
		Logger:           logg,
		InlineProjection: inline,
		SweepBatchSize:   2,
	})
	require.NoError(t, err)
	return fixture{client: client, svc: svc, merchants: merchantSvc}
}

func (f fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.client.DB().Model(model).Count(&n).Error)
	return n
}

func orderInput(orderID string) eventlog.IngestInput {
	return eventlog.IngestInput{
		MerchantID: "m-1",
		StreamType: "shopify",
		Origin:     enums.OriginRealtimeWebhook,
		EventType:  enums.EventTypeOrderCreated,
		Payload: json.RawMessage(`{"order_id":"` + orderID + `","currency":"USD","gross_amount":"1000","platform_fee":"30",` +
			`"occurred_at":"2026-03-02T10:00:00Z","line_items":[{"product_id":"p-1","amount":"1000","cost":"400"}]}`),
	}
}

func TestSubmitEventIsIdempotent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	first, err := f.svc.SubmitEvent(ctx, orderInput("1001"))
	require.NoError(t, err)
	assert.True(t, first.Accepted)
	assert.Equal(t, ProjectionProjected, first.Projection)
	require.NotNil(t, first.TransactionID)

	second, err := f.svc.SubmitEvent(ctx, orderInput("1001"))
	require.NoError(t, err)
	assert.False(t, second.Accepted)
	assert.Equal(t, first.EventID, second.EventID)
	assert.Equal(t, ProjectionSkipped, second.Projection)
	require.NotNil(t, second.TransactionID)
	assert.Equal(t, *first.TransactionID, *second.TransactionID)

	assert.Equal(t, int64(1), f.count(t, &models.Event{}))
	assert.Equal(t, int64(1), f.count(t, &models.LedgerTransaction{}))
}

func TestSubmitEventRejectsInvalidPayload(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.SubmitEvent(context.Background(), eventlog.IngestInput{
		MerchantID: "m-1",
		StreamType: "shopify",
		Origin:     enums.OriginRealtimeWebhook,
		EventType:  enums.EventTypeOrderCreated,
		Payload:    json.RawMessage(`{"currency":"USD"}`),
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
	assert.Zero(t, f.count(t, &models.Event{}))
}

func TestSubmitDisconnectPurgesStreams(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.merchants.Connect(ctx, merchants.ConnectInput{MerchantID: "m-1", StreamType: "shopify", Kind: enums.ConnectionKindSalesChannel})
	require.NoError(t, err)
	_, err = f.svc.SubmitEvent(ctx, orderInput("1001"))
	require.NoError(t, err)

	disconnect := eventlog.IngestInput{
		MerchantID: "m-1",
		Origin:     enums.OriginRealtimeWebhook,
		EventType:  enums.EventTypeAppDisconnected,
		Payload:    json.RawMessage(`{"connection_id":"c-1","stream_types":["shopify"],"disconnected_at":"2026-03-05T00:00:00Z"}`),
	}
	res, err := f.svc.SubmitEvent(ctx, disconnect)
	require.NoError(t, err)
	require.NotNil(t, res.Purge)
	assert.Equal(t, int64(1), res.Purge.Transactions)
	assert.Equal(t, int64(1), res.Purge.Connections)
	assert.Empty(t, res.Projection)

	assert.Zero(t, f.count(t, &models.LedgerEntry{}))
	assert.Zero(t, f.count(t, &models.LedgerTransaction{}))
	assert.Zero(t, f.count(t, &models.MerchantConnection{}))

	again, err := f.svc.SubmitEvent(ctx, disconnect)
	require.NoError(t, err)
	require.NotNil(t, again.Purge)
	assert.Zero(t, again.Purge.Transactions)
}

func TestSweepAndReconcile(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	for _, id := range []string{"1001", "1002", "1003"} {
		res, err := f.svc.SubmitEvent(ctx, orderInput(id))
		require.NoError(t, err)
		assert.Equal(t, ProjectionPending, res.Projection)
	}

	before, err := f.svc.Reconcile(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), before.ProjectableEvents)
	assert.Equal(t, int64(3), before.Pending)
	assert.Len(t, before.PendingEventIDs, 3)
	assert.False(t, before.Reconciled)

	swept, err := f.svc.Sweep(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 3, Projected: 3}, swept)

	after, err := f.svc.Reconcile(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), after.Transactions)
	assert.Zero(t, after.Pending)
	assert.Empty(t, after.Unbalanced)
	assert.True(t, after.Reconciled)

	idle, err := f.svc.Sweep(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, idle.Scanned)
}

type pagedEvents struct {
	EventLog
	rows []models.Event
}

func (p *pagedEvents) ListUnprojected(_ context.Context, _ string, after *eventlog.Cursor, limit int) ([]models.Event, error) {
	var out []models.Event
	for _, row := range p.rows {
		if after != nil && !row.ReceivedAt.After(after.ReceivedAt) {
			continue
		}
		out = append(out, row)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type scriptedProjector struct {
	errs  map[uuid.UUID]error
	calls []uuid.UUID
}

func (s *scriptedProjector) Project(_ context.Context, id uuid.UUID) (ledger.ProjectResult, error) {
	s.calls = append(s.calls, id)
	if err := s.errs[id]; err != nil {
		return ledger.ProjectResult{}, err
	}
	return ledger.ProjectResult{TransactionID: uuid.New()}, nil
}

func TestSweepIsolatesFailuresAndMovesPastDefects(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	events := &pagedEvents{}
	for i := 0; i < 4; i++ {
		events.rows = append(events.rows, models.Event{
			ID:         uuid.New(),
			EventType:  enums.EventTypeOrderCreated,
			ReceivedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	projector := &scriptedProjector{errs: map[uuid.UUID]error{
		events.rows[0].ID: pkgerrors.Wrap(pkgerrors.CodeUnbalancedEntry, ledger.ErrUnbalancedEntry, "unbalanced"),
		events.rows[1].ID: pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, errors.New("connection refused"), "storage unavailable"),
	}}
	svc, err := NewService(ServiceParams{
		Events:         events,
		Projector:      projector,
		Ledger:         ledger.NewRepository(dbtest.Open(t).DB()),
		Purger:         &merchants.Service{},
		Logger:         logger.New(logger.Options{Output: io.Discard}),
		SweepBatchSize: 1,
	})
	require.NoError(t, err)

	res, err := svc.Sweep(context.Background(), 10)
	require.Error(t, err)
	assert.Equal(t, SweepResult{Scanned: 4, Projected: 2, Defects: 1, Failed: 1}, res)
	assert.Len(t, projector.calls, 4)
	assert.True(t, IsStorageFailure(err))
}

func TestSweepResumesPastEventsThatKeepFailing(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	events := &pagedEvents{}
	for i := 0; i < 3; i++ {
		events.rows = append(events.rows, models.Event{
			ID:         uuid.New(),
			EventType:  enums.EventTypeOrderCreated,
			ReceivedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	defect := pkgerrors.Wrap(pkgerrors.CodeValidation, errors.New("stored payload is invalid"), "stored payload is invalid")
	projector := &scriptedProjector{errs: map[uuid.UUID]error{
		events.rows[0].ID: defect,
		events.rows[1].ID: defect,
	}}
	svc, err := NewService(ServiceParams{
		Events:         events,
		Projector:      projector,
		Ledger:         ledger.NewRepository(dbtest.Open(t).DB()),
		Purger:         &merchants.Service{},
		Logger:         logger.New(logger.Options{Output: io.Discard}),
		SweepBatchSize: 2,
	})
	require.NoError(t, err)

	first, err := svc.Sweep(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 2, Defects: 2}, first)

	second, err := svc.Sweep(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Projected)
	assert.Equal(t, []uuid.UUID{events.rows[0].ID, events.rows[1].ID, events.rows[2].ID, events.rows[0].ID}, projector.calls)
}

func TestSweepScansEachEventOncePerRun(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	events := &pagedEvents{}
	for i := 0; i < 3; i++ {
		events.rows = append(events.rows, models.Event{
			ID:         uuid.New(),
			EventType:  enums.EventTypeOrderCreated,
			ReceivedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	defect := pkgerrors.Wrap(pkgerrors.CodeValidation, errors.New("stored payload is invalid"), "stored payload is invalid")
	errs := map[uuid.UUID]error{}
	for _, row := range events.rows {
		errs[row.ID] = defect
	}
	projector := &scriptedProjector{errs: errs}
	svc, err := NewService(ServiceParams{
		Events:         events,
		Projector:      projector,
		Ledger:         ledger.NewRepository(dbtest.Open(t).DB()),
		Purger:         &merchants.Service{},
		Logger:         logger.New(logger.Options{Output: io.Discard}),
		SweepBatchSize: 2,
	})
	require.NoError(t, err)

	_, err = svc.Sweep(context.Background(), 1)
	require.NoError(t, err)
	res, err := svc.Sweep(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 3, Defects: 3}, res)
}
