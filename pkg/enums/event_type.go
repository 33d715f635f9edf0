package enums

import "fmt"

// EventType identifies the shape of an ingested payload.
type EventType string

const (
	EventTypeOrderCreated    EventType = "order_created"
	EventTypeRefundCreated   EventType = "refund_created"
	EventTypeAdSpendRecorded EventType = "ad_spend_recorded"
	EventTypeManualEntry     EventType = "manual_entry"
	EventTypeAppDisconnected EventType = "app_disconnected"
)

var validEventTypes = []EventType{
	EventTypeOrderCreated,
	EventTypeRefundCreated,
	EventTypeAdSpendRecorded,
	EventTypeManualEntry,
	EventTypeAppDisconnected,
}

// String implements fmt.Stringer.
func (e EventType) String() string {
	return string(e)
}

// IsValid reports whether the value is a known event type.
func (e EventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventType converts raw input into an EventType.
func ParseEventType(value string) (EventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// EventTypes returns every known event type.
func EventTypes() []EventType {
	out := make([]EventType, len(validEventTypes))
	copy(out, validEventTypes)
	return out
}

// EventOrigin names the producer path that delivered an event.
type EventOrigin string

const (
	OriginRealtimeWebhook    EventOrigin = "realtime_webhook"
	OriginHistoricalBackfill EventOrigin = "historical_backfill"
	OriginPeriodicPoll       EventOrigin = "periodic_poll"
	OriginManualAdjustment   EventOrigin = "manual_adjustment"
)

var validEventOrigins = []EventOrigin{
	OriginRealtimeWebhook,
	OriginHistoricalBackfill,
	OriginPeriodicPoll,
	OriginManualAdjustment,
}

// String implements fmt.Stringer.
func (o EventOrigin) String() string {
	return string(o)
}

// IsValid reports whether the value is a known origin.
func (o EventOrigin) IsValid() bool {
	for _, candidate := range validEventOrigins {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseEventOrigin converts raw input into an EventOrigin.
func ParseEventOrigin(value string) (EventOrigin, error) {
	for _, candidate := range validEventOrigins {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event origin %q", value)
}
