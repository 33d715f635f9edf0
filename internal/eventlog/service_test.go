package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marginguard-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

const orderPayload = `{"order_id":"1001","currency":"USD","gross_amount":"1000","platform_fee":"30","occurred_at":"2026-03-02T10:00:00Z","channel":"shopify"}`

func newTestService(t *testing.T) (*Service, Repository) {
	t.Helper()
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc, err := NewService(repo, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	require.NoError(t, err)
	return svc, repo
}

func orderInput() IngestInput {
	return IngestInput{
		MerchantID: "m-1",
		Origin:     enums.OriginRealtimeWebhook,
		EventType:  enums.EventTypeOrderCreated,
		Payload:    json.RawMessage(orderPayload),
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, orderInput())
	require.NoError(t, err)
	assert.True(t, first.Accepted)
	assert.Equal(t, "shopify", first.Event.StreamType)
	assert.Equal(t, "1001", first.Event.NaturalKey)
	require.NotNil(t, first.Event.OccurredAt)

	// Same order re-delivered by the backfill scanner.
	second := orderInput()
	second.Origin = enums.OriginHistoricalBackfill
	dup, err := svc.Ingest(ctx, second)
	require.NoError(t, err)
	assert.False(t, dup.Accepted)
	assert.Equal(t, first.EventID, dup.EventID)

	counts, err := repo.Counts(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Total)
	assert.Equal(t, int64(1), counts.Projectable)

	stored, err := svc.Get(ctx, first.EventID)
	require.NoError(t, err)
	assert.JSONEq(t, orderPayload, string(stored.Payload))
	assert.Equal(t, enums.OriginRealtimeWebhook, stored.Origin)
}

func TestIngestConcurrentDeliveriesStoreOneRow(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	const workers = 8
	results := make([]IngestResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Ingest(ctx, orderInput())
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, res := range results {
		if res.Accepted {
			accepted++
		}
		assert.Equal(t, results[0].EventID, res.EventID)
	}
	assert.Equal(t, 1, accepted)

	counts, err := repo.Counts(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Total)
}

func TestIngestKeysArePerMerchantAndType(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, orderInput())
	require.NoError(t, err)

	other := orderInput()
	other.MerchantID = "m-2"
	res, err := svc.Ingest(ctx, other)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	refund := IngestInput{
		MerchantID: "m-1",
		StreamType: "shopify",
		Origin:     enums.OriginRealtimeWebhook,
		EventType:  enums.EventTypeRefundCreated,
		Payload:    json.RawMessage(`{"refund_id":"1001","order_id":"1001","currency":"USD","amount":"10","occurred_at":"2026-03-03T10:00:00Z"}`),
	}
	res, err = svc.Ingest(ctx, refund)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestIngestRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := map[string]struct {
		mutate func(*IngestInput)
		code   pkgerrors.Code
	}{
		"missing merchant": {func(in *IngestInput) { in.MerchantID = " " }, pkgerrors.CodeValidation},
		"bad origin":       {func(in *IngestInput) { in.Origin = "carrier_pigeon" }, pkgerrors.CodeValidation},
		"unknown type":     {func(in *IngestInput) { in.EventType = "inventory_adjusted" }, pkgerrors.CodeUnknownEventType},
		"bad payload":      {func(in *IngestInput) { in.Payload = json.RawMessage(`{"order_id":""}`) }, pkgerrors.CodeValidation},
		"missing stream": {func(in *IngestInput) {
			in.EventType = enums.EventTypeRefundCreated
			in.Payload = json.RawMessage(`{"refund_id":"r1","order_id":"1001","currency":"USD","amount":"10","occurred_at":"2026-03-03T10:00:00Z"}`)
		}, pkgerrors.CodeValidation},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			in := orderInput()
			tc.mutate(&in)
			_, err := svc.Ingest(ctx, in)
			require.Error(t, err)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, tc.code, typed.Code())
		})
	}
}

type failingRepo struct {
	Repository
	err error
}

func (f failingRepo) InsertIfAbsent(context.Context, *models.Event) (bool, error) {
	return false, f.err
}

func TestIngestSurfacesStorageUnavailable(t *testing.T) {
	svc, err := NewService(failingRepo{err: errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")},
		logger.New(logger.Options{Output: io.Discard}))
	require.NoError(t, err)

	_, err = svc.Ingest(context.Background(), orderInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.True(t, pkgerrors.IsRetryable(err))
}

func TestListUnprojectedAndActiveMerchants(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Hour)
	}

	first, err := svc.Ingest(ctx, orderInput())
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, IngestInput{
		MerchantID: "m-1",
		Origin:     enums.OriginRealtimeWebhook,
		EventType:  enums.EventTypeAppDisconnected,
		Payload:    json.RawMessage(`{"connection_id":"c1","stream_types":["shopify"],"disconnected_at":"2026-03-04T00:00:00Z"}`),
	})
	require.NoError(t, err)
	spend, err := svc.Ingest(ctx, IngestInput{
		MerchantID: "m-2",
		Origin:     enums.OriginPeriodicPoll,
		EventType:  enums.EventTypeAdSpendRecorded,
		Payload:    json.RawMessage(`{"platform":"meta_ads","campaign_id":"c9","date":"2026-03-01","currency":"USD","amount":"40"}`),
	})
	require.NoError(t, err)

	pending, err := svc.ListUnprojected(ctx, "", nil, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.EventID, pending[0].ID)
	assert.Equal(t, spend.EventID, pending[1].ID)

	next, err := svc.ListUnprojected(ctx, "", CursorAfter(pending[0]), 10)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, spend.EventID, next[0].ID)

	scoped, err := svc.ListUnprojected(ctx, "m-2", nil, 10)
	require.NoError(t, err)
	require.Len(t, scoped, 1)

	counts, err := svc.Counts(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, Counts{Total: 2, Projectable: 1}, counts)

	active, err := svc.ActiveMerchantsSince(ctx, base.Add(150*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"m-2"}, active)
}

func TestGetMissingEvent(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Get(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}
