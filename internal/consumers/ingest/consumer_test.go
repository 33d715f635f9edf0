package ingest

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/marginguard-backend/internal/eventlog"
	"github.com/angelmondragon/marginguard-backend/internal/pipeline"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

type fakeGuard struct {
	key     string
	input   eventlog.IngestInput
	calls   int
	result  pipeline.SubmitResult
	skipped bool
	err     error
}

func (f *fakeGuard) Submit(_ context.Context, key string, input eventlog.IngestInput) (pipeline.SubmitResult, bool, error) {
	f.calls++
	f.key = key
	f.input = input
	return f.result, f.skipped, f.err
}

func newTestConsumer(g *fakeGuard) *Consumer {
	return &Consumer{submitter: g, logg: logger.New(logger.Options{Output: io.Discard})}
}

const validBody = `{"merchant_id":"m-1","stream_type":"shop-a","event_type":"order_created","payload":{"id":"o-1"}}`

func TestProcessSubmitsDecodedDelivery(t *testing.T) {
	g := &fakeGuard{result: pipeline.SubmitResult{EventID: uuid.New(), Accepted: true, Projection: pipeline.ProjectionProjected}}
	c := newTestConsumer(g)

	if !c.Process(context.Background(), Delivery{ID: "msg-1", Data: []byte(validBody)}) {
		t.Fatal("expected ack")
	}
	if g.key != "msg-1" {
		t.Fatalf("expected message id as key, got %q", g.key)
	}
	if g.input.MerchantID != "m-1" || g.input.EventType != enums.EventTypeOrderCreated || g.input.Origin != enums.OriginRealtimeWebhook {
		t.Fatalf("unexpected input %+v", g.input)
	}

	c.Process(context.Background(), Delivery{ID: "msg-2", Data: []byte(validBody), Attributes: map[string]string{DeliveryKeyAttribute: "shop-a:o-1"}})
	if g.key != "shop-a:o-1" {
		t.Fatalf("expected attribute key, got %q", g.key)
	}
}

func TestProcessDropsMalformed(t *testing.T) {
	g := &fakeGuard{}
	c := newTestConsumer(g)
	bodies := []string{
		`not json`,
		`{"stream_type":"shop-a","event_type":"order_created","payload":{}}`,
		`{"merchant_id":"m-1","stream_type":"shop-a","event_type":"order_teleported","payload":{}}`,
		`{"merchant_id":"m-1","stream_type":"shop-a","event_type":"order_created","origin":"carrier_pigeon","payload":{}}`,
		`{"merchant_id":"m-1","stream_type":"shop-a","event_type":"order_created"}`,
	}
	for _, body := range bodies {
		if !c.Process(context.Background(), Delivery{ID: "x", Data: []byte(body)}) {
			t.Fatalf("malformed delivery should be acked: %s", body)
		}
	}
	if g.calls != 0 {
		t.Fatalf("malformed deliveries reached the pipeline %d times", g.calls)
	}
}

func TestProcessAckPolicy(t *testing.T) {
	cases := []struct {
		name    string
		result  pipeline.SubmitResult
		skipped bool
		err     error
		ack     bool
	}{
		{"duplicate delivery", pipeline.SubmitResult{}, true, nil, true},
		{"storage outage", pipeline.SubmitResult{}, false, pkgerrors.New(pkgerrors.CodeStorageUnavailable, "db down"), false},
		{"projection deferred", pipeline.SubmitResult{EventID: uuid.New(), Projection: pipeline.ProjectionPending}, false, errors.New("ledger down"), true},
		{"rejected", pipeline.SubmitResult{}, false, pkgerrors.New(pkgerrors.CodeValidation, "bad payload"), true},
		{"defect", pipeline.SubmitResult{EventID: uuid.New(), Accepted: true, Projection: pipeline.ProjectionDefect, Defect: "unbalanced"}, false, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestConsumer(&fakeGuard{result: tc.result, skipped: tc.skipped, err: tc.err})
			if got := c.Process(context.Background(), Delivery{ID: "m", Data: []byte(validBody)}); got != tc.ack {
				t.Fatalf("expected ack=%v, got %v", tc.ack, got)
			}
		})
	}
}

func TestNewConsumerValidation(t *testing.T) {
	if _, err := NewConsumer(nil, nil, nil); err == nil {
		t.Fatal("expected error")
	}
}
