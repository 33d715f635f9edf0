package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// LedgerEntry is one debit or credit leg of a ledger transaction.
type LedgerEntry struct {
	ID            uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID uuid.UUID            `gorm:"column:transaction_id;type:uuid;not null"`
	MerchantID    string               `gorm:"column:merchant_id;not null"`
	Account       enums.LedgerAccount  `gorm:"column:account;not null"`
	Direction     enums.EntryDirection `gorm:"column:direction;not null"`
	Amount        decimal.Decimal      `gorm:"column:amount;type:numeric(18,2);not null"`
	Currency      string               `gorm:"column:currency;not null"`
	ProductID     *string              `gorm:"column:product_id"`
	CreatedAt     time.Time            `gorm:"column:created_at;autoCreateTime"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }
