package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marginguard-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

func TestEmitStoresDecodableEnvelope(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)
	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("EST", -5*3600))

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventPlanAssignmentChanged,
			AggregateType: enums.AggregateMerchant,
			AggregateID:   "m-1",
			Data:          map[string]string{"assigned_plan_id": "growth"},
			OccurredAt:    occurred,
		})
	})
	require.NoError(t, err)

	var row models.OutboxEvent
	require.NoError(t, client.DB().First(&row).Error)
	require.Equal(t, "m-1", row.AggregateID)

	env, err := DecodeEnvelope(row.Payload)
	require.NoError(t, err)
	require.Equal(t, EnvelopeVersion, env.Version)
	require.Equal(t, row.ID.String(), env.EventID)
	require.True(t, env.OccurredAt.Equal(occurred))
	require.Equal(t, time.UTC, env.OccurredAt.Location())
	require.JSONEq(t, `{"assigned_plan_id":"growth"}`, string(env.Data))
}

func TestEmitRequiresTransactionAndAggregate(t *testing.T) {
	svc := NewService(nil, nil)
	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{AggregateID: "m-1"}))

	client := dbtest.Open(t)
	require.Error(t, svc.Emit(context.Background(), client.DB(), DomainEvent{}))
	require.Error(t, svc.Emit(context.Background(), client.DB(), DomainEvent{
		EventType:     "plan_renamed",
		AggregateType: enums.AggregateMerchant,
		AggregateID:   "m-1",
	}))
}

func TestDecodeEnvelopeRejectsIncompleteRows(t *testing.T) {
	cases := map[string]string{
		"truncated":   `{"version":`,
		"no event id": `{"version":1,"data":{"a":1}}`,
		"null data":   `{"version":1,"eventId":"e-1","data":null}`,
		"no data":     `{"version":1,"eventId":"e-1"}`,
	}
	for name, raw := range cases {
		_, err := DecodeEnvelope(json.RawMessage(raw))
		require.Error(t, err, name)
	}

	env, err := DecodeEnvelope([]byte(`{"version":2,"eventId":"e-1","occurredAt":"2026-03-01T00:00:00Z","data":{"a":1}}`))
	require.NoError(t, err)
	require.Equal(t, 2, env.Version)
}
