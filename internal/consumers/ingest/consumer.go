package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/marginguard-backend/internal/eventlog"
	"github.com/angelmondragon/marginguard-backend/internal/pipeline"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

// DeliveryKeyAttribute lets producers pin the dedupe key across republishes.
const DeliveryKeyAttribute = "delivery_key"

type guardedSubmitter interface {
	Submit(ctx context.Context, deliveryKey string, input eventlog.IngestInput) (pipeline.SubmitResult, bool, error)
}

// Message is the producer envelope carried in a Pub/Sub message body.
type Message struct {
	MerchantID string          `json:"merchant_id"`
	StreamType string          `json:"stream_type"`
	EventType  string          `json:"event_type"`
	Origin     string          `json:"origin"`
	Payload    json.RawMessage `json:"payload"`
}

// Delivery is one received message, independent of the transport.
type Delivery struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Consumer feeds queued producer deliveries into the pipeline.
type Consumer struct {
	submitter    guardedSubmitter
	subscription *pubsub.Subscriber
	logg         *logger.Logger
}

func NewConsumer(submitter guardedSubmitter, subscription *pubsub.Subscriber, logg *logger.Logger) (*Consumer, error) {
	if submitter == nil {
		return nil, errors.New("submitter is required")
	}
	if subscription == nil {
		return nil, errors.New("ingest subscription is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{submitter: submitter, subscription: subscription, logg: logg}, nil
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.Process(ctx, Delivery{ID: msg.ID, Data: msg.Data, Attributes: msg.Attributes}) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Process handles one delivery and reports whether it should be acked.
// Only storage outages are redelivered; malformed messages are dropped.
func (c *Consumer) Process(ctx context.Context, d Delivery) bool {
	logCtx := c.logg.WithField(ctx, "message_id", d.ID)

	input, err := decode(d.Data)
	if err != nil {
		c.logg.Warn(logCtx, "dropping malformed delivery: "+err.Error())
		return true
	}
	logCtx = c.logg.WithMerchantID(logCtx, input.MerchantID)

	key := strings.TrimSpace(d.Attributes[DeliveryKeyAttribute])
	if key == "" {
		key = d.ID
	}

	res, skipped, err := c.submitter.Submit(logCtx, key, input)
	if skipped {
		return true
	}
	if err != nil {
		if res.EventID != uuid.Nil && res.Projection == pipeline.ProjectionPending {
			// stored; the sweep projects it later
			c.logg.Warn(c.logg.WithEvent(logCtx, res.EventID.String(), string(input.EventType)), "projection deferred: "+err.Error())
			return true
		}
		dump := pkgerrors.Dump(err)
		errCtx := c.logg.WithFields(logCtx, dump.Fields())
		if dump.Retryable {
			c.logg.Error(errCtx, "delivery failed, requesting redelivery", err)
			return false
		}
		c.logg.Error(errCtx, "delivery rejected", err)
		return true
	}

	eventCtx := c.logg.WithEvent(logCtx, res.EventID.String(), string(input.EventType))
	eventCtx = c.logg.WithFields(eventCtx, map[string]any{
		"accepted":   res.Accepted,
		"projection": res.Projection,
	})
	if res.Defect != "" {
		c.logg.Warn(eventCtx, "event stored with projection defect: "+res.Defect)
		return true
	}
	c.logg.Info(eventCtx, "delivery ingested")
	return true
}

func decode(data []byte) (eventlog.IngestInput, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return eventlog.IngestInput{}, fmt.Errorf("decode envelope: %w", err)
	}
	if strings.TrimSpace(msg.MerchantID) == "" || strings.TrimSpace(msg.StreamType) == "" {
		return eventlog.IngestInput{}, errors.New("merchant_id and stream_type are required")
	}
	if len(msg.Payload) == 0 {
		return eventlog.IngestInput{}, errors.New("payload is required")
	}
	eventType, err := enums.ParseEventType(msg.EventType)
	if err != nil {
		return eventlog.IngestInput{}, err
	}
	origin := enums.OriginRealtimeWebhook
	if msg.Origin != "" {
		if origin, err = enums.ParseEventOrigin(msg.Origin); err != nil {
			return eventlog.IngestInput{}, err
		}
	}
	return eventlog.IngestInput{
		MerchantID: strings.TrimSpace(msg.MerchantID),
		StreamType: strings.TrimSpace(msg.StreamType),
		Origin:     origin,
		EventType:  eventType,
		Payload:    msg.Payload,
	}, nil
}
