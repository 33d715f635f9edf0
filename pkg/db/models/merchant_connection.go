package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// MerchantConnection records an upstream integration feeding a merchant's events.
type MerchantConnection struct {
	ID          uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	MerchantID  string                 `gorm:"column:merchant_id;not null"`
	StreamType  string                 `gorm:"column:stream_type;not null"`
	Kind        enums.ConnectionKind   `gorm:"column:kind;not null"`
	Status      enums.ConnectionStatus `gorm:"column:status;not null"`
	ConnectedAt time.Time              `gorm:"column:connected_at;not null"`
	UpdatedAt   time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (MerchantConnection) TableName() string { return "merchant_connections" }
