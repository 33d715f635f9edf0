package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// LedgerTransaction groups the balanced entries derived from exactly one event.
type LedgerTransaction struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	EventID         uuid.UUID       `gorm:"column:event_id;type:uuid;not null"`
	MerchantID      string          `gorm:"column:merchant_id;not null"`
	TransactionType enums.EventType `gorm:"column:transaction_type;not null"`
	StreamType      string          `gorm:"column:stream_type;not null"`
	OccurredAt      time.Time       `gorm:"column:occurred_at;not null"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`

	Entries []LedgerEntry `gorm:"foreignKey:TransactionID"`
}

func (LedgerTransaction) TableName() string { return "ledger_transactions" }
