package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/angelmondragon/marginguard-backend/pkg/config"
	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	"github.com/angelmondragon/marginguard-backend/pkg/outbox"
	"github.com/angelmondragon/marginguard-backend/pkg/outbox/payloads"
)

// aggregated is implemented by payloads that name the aggregate they belong to.
type aggregated interface {
	AggregateKey() string
}

// EventDescriptor routes one outbox event type to a topic and payload type.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that will never publish as stored.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func rejectf(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NewEventRegistry routes every merchant event to the plan topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.PlanTopic == "" {
		return nil, errors.New("plan topic is required")
	}
	return newEventRegistry(
		merchantEvent(enums.EventPlanAssignmentChanged, cfg.PlanTopic, func() any { return &payloads.PlanAssignmentChangedEvent{} }),
		merchantEvent(enums.EventMerchantDataPurged, cfg.PlanTopic, func() any { return &payloads.MerchantDataPurgedEvent{} }),
	)
}

func merchantEvent(eventType enums.OutboxEventType, topic string, factory func() any) EventDescriptor {
	return EventDescriptor{
		EventType:      eventType,
		AggregateType:  enums.AggregateMerchant,
		Topic:          topic,
		PayloadFactory: factory,
	}
}

func newEventRegistry(descs ...EventDescriptor) (*EventRegistry, error) {
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(descs))}
	for _, d := range descs {
		switch {
		case !d.EventType.IsValid():
			return nil, fmt.Errorf("unknown event type %q", d.EventType)
		case d.Topic == "" || d.PayloadFactory == nil:
			return nil, fmt.Errorf("%s: topic and payload factory are required", d.EventType)
		}
		if _, dup := reg.entries[d.EventType]; dup {
			return nil, fmt.Errorf("%s registered twice", d.EventType)
		}
		reg.entries[d.EventType] = d
	}
	return reg, nil
}

// Topics lists the distinct topics the registry publishes to.
func (r *EventRegistry) Topics() []string {
	seen := make(map[string]struct{}, len(r.entries))
	var topics []string
	for _, d := range r.entries {
		if _, ok := seen[d.Topic]; ok {
			continue
		}
		seen[d.Topic] = struct{}{}
		topics = append(topics, d.Topic)
	}
	sort.Strings(topics)
	return topics
}

// Resolve decodes a stored row into its typed payload. Every failure is a
// NonRetryableError since the row cannot change between attempts.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, rejectf("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, rejectf("%s: aggregate type %s, want %s", event.EventType, event.AggregateType, desc.AggregateType)
	case event.AggregateID == "":
		return nil, rejectf("%s: missing aggregate_id", event.EventType)
	}

	env, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, rejectf("%s: %w", event.EventType, err)
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return nil, rejectf("%s: decode payload: %w", event.EventType, err)
	}
	if a, ok := payload.(aggregated); ok && a.AggregateKey() != event.AggregateID {
		return nil, rejectf("%s: payload belongs to %q, row to %q", event.EventType, a.AggregateKey(), event.AggregateID)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: env, Payload: payload}, nil
}
