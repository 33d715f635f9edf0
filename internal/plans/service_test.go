package plans

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marginguard-backend/internal/billing"
	"github.com/angelmondragon/marginguard-backend/pkg/db"
	"github.com/angelmondragon/marginguard-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
	"github.com/angelmondragon/marginguard-backend/pkg/outbox"
	"github.com/angelmondragon/marginguard-backend/pkg/outbox/payloads"
)

type fakeHealth struct{ score int }

func (f *fakeHealth) Latest(_ context.Context, merchantID string) (*models.HealthScore, error) {
	return &models.HealthScore{MerchantID: merchantID, Score: f.score, Level: enums.RiskLevelSafe}, nil
}

type fakeVolume struct {
	orders int64
	start  time.Time
	end    time.Time
}

func (f *fakeVolume) OrderCount(_ context.Context, _ string, start, end time.Time) (int64, error) {
	f.start, f.end = start, end
	return f.orders, nil
}

type fakeChannels struct{ count int64 }

func (f *fakeChannels) CountActive(context.Context, string, enums.ConnectionKind) (int64, error) {
	return f.count, nil
}

type harness struct {
	client   *db.Client
	svc      *Service
	billing  *billing.Service
	health   *fakeHealth
	volume   *fakeVolume
	channels *fakeChannels
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{Output: io.Discard})
	billingSvc, err := billing.NewService(billing.ServiceParams{Repo: billing.NewRepository(client.DB())})
	require.NoError(t, err)

	h := &harness{
		client:   client,
		billing:  billingSvc,
		health:   &fakeHealth{},
		volume:   &fakeVolume{},
		channels: &fakeChannels{},
	}
	h.svc, err = NewService(ServiceParams{
		Repo:     NewRepository(client.DB()),
		Health:   h.health,
		Volume:   h.volume,
		Channels: h.channels,
		Billing:  billingSvc,
		Tx:       client,
		Outbox:   outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Matrix:   DefaultMatrix(),
		Logger:   logg,
	})
	require.NoError(t, err)
	h.svc.now = func() time.Time { return time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC) }
	return h
}

func (h *harness) outboxRows(t *testing.T) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, h.client.DB().Find(&rows).Error)
	return rows
}

func TestCalculateRequiredPlanStoresAndEmitsOnChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.health.score = 45
	first, err := h.svc.CalculateRequiredPlan(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, "growth", first.Assignment.AssignedPlanID)
	assert.Equal(t, enums.RiskBandMid, first.Assignment.RiskBand)
	assert.Nil(t, first.Assignment.PreviousPlanID)
	assert.True(t, first.UpgradeNeeded)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), h.volume.end)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), h.volume.start)

	again, err := h.svc.CalculateRequiredPlan(ctx, "m-1")
	require.NoError(t, err)
	assert.False(t, again.Changed)
	require.Len(t, h.outboxRows(t), 1)

	h.health.score = 80
	moved, err := h.svc.CalculateRequiredPlan(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, moved.Changed)
	require.NotNil(t, moved.Assignment.PreviousPlanID)
	assert.Equal(t, "growth", *moved.Assignment.PreviousPlanID)

	rows := h.outboxRows(t)
	require.Len(t, rows, 2)
	var upgraded *payloads.PlanAssignmentChangedEvent
	for _, row := range rows {
		assert.Equal(t, enums.EventPlanAssignmentChanged, row.EventType)
		assert.Equal(t, "m-1", row.AggregateID)
		var envelope outbox.PayloadEnvelope
		require.NoError(t, json.Unmarshal(row.Payload, &envelope))
		var event payloads.PlanAssignmentChangedEvent
		require.NoError(t, json.Unmarshal(envelope.Data, &event))
		if event.AssignedPlanID == "scale" {
			upgraded = &event
		}
	}
	require.NotNil(t, upgraded)
	require.NotNil(t, upgraded.PreviousPlanID)
	assert.Equal(t, "growth", *upgraded.PreviousPlanID)

	stored, err := h.svc.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "scale", stored.Assignment.AssignedPlanID)
	require.NotNil(t, stored.Assignment.PreviousPlanID)
	assert.Equal(t, "growth", *stored.Assignment.PreviousPlanID)
}

func TestCalculateRequiredPlanVolumeOverride(t *testing.T) {
	h := newHarness(t)
	h.health.score = 0
	h.volume.orders = 2500

	res, err := h.svc.CalculateRequiredPlan(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, "scale", res.Assignment.AssignedPlanID)
	assert.Equal(t, enums.RiskBandLow, res.Assignment.RiskBand)
	assert.Equal(t, int64(2500), res.Assignment.OrderCount)
	assert.Contains(t, res.Assignment.Reason, "order volume")
}

func TestUpgradeNeededComparesActivePlanRank(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.health.score = 10
	res, err := h.svc.CalculateRequiredPlan(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "starter", res.Assignment.AssignedPlanID)
	assert.False(t, res.UpgradeNeeded)
	assert.Nil(t, res.ActivePlanID)

	_, err = h.billing.SyncSubscription(ctx, billing.SyncSubscriptionInput{
		MerchantID: "m-1",
		PlanID:     "growth",
		Status:     enums.SubscriptionStatusActive,
	})
	require.NoError(t, err)

	h.health.score = 45
	res, err = h.svc.CalculateRequiredPlan(ctx, "m-1")
	require.NoError(t, err)
	require.NotNil(t, res.ActivePlanID)
	assert.Equal(t, "growth", *res.ActivePlanID)
	assert.False(t, res.UpgradeNeeded)

	h.health.score = 95
	res, err = h.svc.CalculateRequiredPlan(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, res.UpgradeNeeded)

	h.health.score = 5
	res, err = h.svc.CalculateRequiredPlan(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "starter", res.Assignment.AssignedPlanID)
	assert.False(t, res.UpgradeNeeded)
}

func TestGetUnassignedMerchant(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Get(context.Background(), "m-unknown")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestCalculateRequiredPlanRequiresMerchant(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.CalculateRequiredPlan(context.Background(), "  ")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}
