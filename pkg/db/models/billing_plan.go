package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// BillingPlan captures the local metadata for a subscription tier.
type BillingPlan struct {
	ID           string                `gorm:"column:id;primaryKey"`
	Name         string                `gorm:"column:name;not null"`
	Rank         int                   `gorm:"column:rank;not null"`
	Status       enums.PlanStatus      `gorm:"column:status;not null"`
	Interval     enums.BillingInterval `gorm:"column:billing_interval;not null"`
	PriceAmount  decimal.Decimal       `gorm:"column:price_amount;type:numeric(12,2);not null"`
	CurrencyCode string                `gorm:"column:currency_code;not null"`
	Features     pq.StringArray        `gorm:"column:features;type:text"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (BillingPlan) TableName() string { return "billing_plans" }
