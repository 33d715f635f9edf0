package backfill

import (
	"context"
	"strings"
	"testing"
	"time"
)

type fakeKV struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func (f *fakeKV) CheckpointKey(parts ...string) string {
	return "mg:checkpoint:" + strings.Join(parts, ":")
}

func (f *fakeKV) GetOptional(_ context.Context, key string) (string, bool, error) {
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeKV) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.values[key] = value.(string)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeKV) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.values, k)
	}
	return nil
}

func TestCheckpointsRoundTripPerWindow(t *testing.T) {
	kv := &fakeKV{values: map[string]string{}, ttls: map[string]time.Duration{}}
	cp := NewCheckpoints(kv, 72*time.Hour)
	ctx := context.Background()
	job := Job{MerchantID: "m-1", StreamType: "shopify", Since: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	if err := cp.Save(ctx, job, "p2"); err != nil {
		t.Fatalf("save: %v", err)
	}
	cursor, ok, err := cp.Load(ctx, job)
	if err != nil || !ok || cursor != "p2" {
		t.Fatalf("load: %q %v %v", cursor, ok, err)
	}
	for key, ttl := range kv.ttls {
		if !strings.HasPrefix(key, "mg:checkpoint:backfill:m-1:shopify:2026-01-01T00:00:00Z") || ttl != 72*time.Hour {
			t.Fatalf("unexpected key %q ttl %s", key, ttl)
		}
	}

	other := job
	other.Since = job.Since.AddDate(0, -1, 0)
	if _, ok, _ := cp.Load(ctx, other); ok {
		t.Fatal("different window should not share a checkpoint")
	}

	if err := cp.Clear(ctx, job); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := cp.Load(ctx, job); ok {
		t.Fatal("expected checkpoint cleared")
	}
}
