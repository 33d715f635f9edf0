package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/marginguard-backend/internal/eventlog"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

// Deduper remembers processed delivery keys for a consumer.
type Deduper interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, key string) (bool, error)
	Delete(ctx context.Context, consumer, key string) error
}

// Submitter is the pipeline entry point the guard protects.
type Submitter interface {
	SubmitEvent(ctx context.Context, input eventlog.IngestInput) (SubmitResult, error)
}

// Guard short-circuits repeated queue deliveries before they reach the
// database. The event log's uniqueness constraint stays authoritative; a
// Redis outage only costs the shortcut.
type Guard struct {
	next     Submitter
	dedupe   Deduper
	consumer string
	logg     *logger.Logger
}

// NewGuard wraps next with a delivery-key check for consumer.
func NewGuard(next Submitter, dedupe Deduper, consumer string, logg *logger.Logger) (*Guard, error) {
	if next == nil || dedupe == nil || logg == nil {
		return nil, errors.New("submitter, deduper and logger are required")
	}
	if consumer == "" {
		return nil, errors.New("consumer name is required")
	}
	return &Guard{next: next, dedupe: dedupe, consumer: consumer, logg: logg}, nil
}

// Submit forwards the delivery unless deliveryKey was already processed.
// The second return value is true when the delivery was short-circuited.
// A failed submission releases the key so the redelivery is processed.
func (g *Guard) Submit(ctx context.Context, deliveryKey string, input eventlog.IngestInput) (SubmitResult, bool, error) {
	seen, err := g.dedupe.CheckAndMarkProcessed(ctx, g.consumer, deliveryKey)
	if err != nil {
		g.logg.Warn(g.logg.WithField(ctx, "delivery_key", deliveryKey), fmt.Sprintf("idempotency check unavailable: %v", err))
		res, err := g.next.SubmitEvent(ctx, input)
		return res, false, err
	}
	if seen {
		g.logg.Info(g.logg.WithField(ctx, "delivery_key", deliveryKey), "delivery already processed")
		return SubmitResult{}, true, nil
	}

	res, err := g.next.SubmitEvent(ctx, input)
	if err != nil {
		if delErr := g.dedupe.Delete(ctx, g.consumer, deliveryKey); delErr != nil {
			g.logg.Error(ctx, "failed to release delivery key", delErr)
		}
		return res, false, err
	}
	return res, false, nil
}
