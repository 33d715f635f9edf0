package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// Event is an immutable raw record accepted by the event log.
type Event struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	MerchantID string            `gorm:"column:merchant_id;not null"`
	Origin     enums.EventOrigin `gorm:"column:origin;not null"`
	EventType  enums.EventType   `gorm:"column:event_type;not null"`
	StreamType string            `gorm:"column:stream_type;not null"`
	NaturalKey string            `gorm:"column:natural_key;not null"`
	KeyVersion int               `gorm:"column:key_version;not null"`
	Payload    json.RawMessage   `gorm:"column:payload;type:jsonb;not null"`
	OccurredAt *time.Time        `gorm:"column:occurred_at"`
	ReceivedAt time.Time         `gorm:"column:received_at;not null"`
}

func (Event) TableName() string { return "events" }
