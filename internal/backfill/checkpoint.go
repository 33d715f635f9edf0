package backfill

import (
	"context"
	"time"
)

// KeyValueStore is the slice of the redis client checkpoints need.
type KeyValueStore interface {
	CheckpointKey(parts ...string) string
	GetOptional(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Checkpoints remembers the next cursor of an interrupted backfill.
type Checkpoints struct {
	store KeyValueStore
	ttl   time.Duration
}

// NewCheckpoints stores cursors in store for ttl.
func NewCheckpoints(store KeyValueStore, ttl time.Duration) *Checkpoints {
	return &Checkpoints{store: store, ttl: ttl}
}

func (c *Checkpoints) key(job Job) string {
	return c.store.CheckpointKey("backfill", job.MerchantID, job.StreamType,
		job.Since.UTC().Format(time.RFC3339), job.Until.UTC().Format(time.RFC3339))
}

// Load returns the saved cursor, if any.
func (c *Checkpoints) Load(ctx context.Context, job Job) (string, bool, error) {
	return c.store.GetOptional(ctx, c.key(job))
}

// Save records the cursor of the next page to fetch.
func (c *Checkpoints) Save(ctx context.Context, job Job, cursor string) error {
	return c.store.Set(ctx, c.key(job), cursor, c.ttl)
}

// Clear forgets the job once it completes.
func (c *Checkpoints) Clear(ctx context.Context, job Job) error {
	return c.store.Del(ctx, c.key(job))
}
