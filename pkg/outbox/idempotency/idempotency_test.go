package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marginguard-backend/pkg/config"
	"github.com/angelmondragon/marginguard-backend/pkg/redis"
)

const deliveryKey = "m-1:order_created:1001"

func newManager(t *testing.T, ttl time.Duration) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.New(context.Background(), config.RedisConfig{Address: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	m, err := NewManager(client, ttl)
	require.NoError(t, err)
	m.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
	return m, mr
}

func TestClaimIsRecordedOnce(t *testing.T) {
	ctx := context.Background()
	m, mr := newManager(t, 24*time.Hour)

	seen, err := m.CheckAndMarkProcessed(ctx, "ingest-worker", deliveryKey)
	require.NoError(t, err)
	assert.False(t, seen)

	key := "mg:idempotency:evt:processed:ingest-worker:" + deliveryKey
	stored, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T09:30:00Z", stored)
	assert.Equal(t, 24*time.Hour, mr.TTL(key))

	seen, err = m.CheckAndMarkProcessed(ctx, "ingest-worker", deliveryKey)
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = m.CheckAndMarkProcessed(ctx, "backfill-worker", deliveryKey)
	require.NoError(t, err)
	assert.False(t, seen, "claims are per consumer")
}

func TestDeleteReleasesClaim(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, time.Hour)

	_, err := m.CheckAndMarkProcessed(ctx, "ingest-worker", deliveryKey)
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, "ingest-worker", deliveryKey))

	seen, err := m.CheckAndMarkProcessed(ctx, "ingest-worker", deliveryKey)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestClaimExpires(t *testing.T) {
	ctx := context.Background()
	m, mr := newManager(t, time.Minute)

	_, err := m.CheckAndMarkProcessed(ctx, "ingest-worker", deliveryKey)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	seen, err := m.CheckAndMarkProcessed(ctx, "ingest-worker", deliveryKey)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestStoreFailureSurfaces(t *testing.T) {
	m, mr := newManager(t, time.Hour)
	mr.Close()

	_, err := m.CheckAndMarkProcessed(context.Background(), "ingest-worker", deliveryKey)
	assert.Error(t, err)
}

func TestRejectsBadInput(t *testing.T) {
	_, err := NewManager(nil, time.Hour)
	assert.Error(t, err)

	m, _ := newManager(t, time.Hour)
	_, err = NewManager(&redis.Client{}, -time.Second)
	assert.Error(t, err)
	_, err = m.CheckAndMarkProcessed(context.Background(), "ingest-worker", "")
	assert.Error(t, err)
	assert.Error(t, m.Delete(context.Background(), "", deliveryKey))
}
