package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/angelmondragon/marginguard-backend/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := New(context.Background(), config.RedisConfig{Address: mr.Addr(), PoolSize: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	allowed, count, err := client.FixedWindowAllow(ctx, "adspend:meta_ads", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, time.Minute, mr.TTL("mg:rate_limit:adspend:meta_ads"))

	allowed, count, err = client.FixedWindowAllow(ctx, "adspend:meta_ads", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.EqualValues(t, 2, count)

	allowed, _, err = client.FixedWindowAllow(ctx, "adspend:meta_ads", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	mr.FastForward(time.Minute + time.Second)
	allowed, count, err = client.FixedWindowAllow(ctx, "adspend:meta_ads", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "a new window starts after expiry")
	assert.EqualValues(t, 1, count)
}

func TestIncrWithTTLRearmsMissingExpiry(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	require.NoError(t, mr.Set("mg:rate_limit:orphan", "5"))
	count, err := client.IncrWithTTL(ctx, "mg:rate_limit:orphan", 30*time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 6, count)
	assert.Equal(t, 30*time.Second, mr.TTL("mg:rate_limit:orphan"))
}

func TestCheckpointLifecycle(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	key := client.CheckpointKey("backfill", "m-1", "shopify")
	_, found, err := client.GetOptional(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, client.Set(ctx, key, "cursor-2", time.Hour))
	value, found, err := client.GetOptional(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "cursor-2", value)

	require.NoError(t, client.Del(ctx, key))
	_, found, err = client.GetOptional(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetNXOnlyOnce(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	first, err := client.SetNX(ctx, client.LockKey("outbox-retention"), "owner-a", time.Minute)
	require.NoError(t, err)
	second, err := client.SetNX(ctx, client.LockKey("outbox-retention"), "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "mg:idempotency:scope:id", client.IdempotencyKey("scope", "id"))
	assert.Equal(t, "mg:rate_limit:scope", client.RateLimitKey("scope"))
	assert.Equal(t, "mg:lock:cron", client.LockKey("cron"))
	assert.Equal(t, "mg:checkpoint:backfill:m-1", client.CheckpointKey("backfill", "", " m-1 "))
}

func TestUnconnectedClient(t *testing.T) {
	var client *Client
	assert.ErrorIs(t, client.Ping(context.Background()), errNotConnected)
	assert.NoError(t, client.Close())
	assert.NoError(t, (&Client{}).Del(context.Background()))
}

func TestNewRequiresAddress(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{}, nil)
	assert.ErrorContains(t, err, "redis url or address is required")
}
