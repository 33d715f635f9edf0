package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// Subscription is the merchant's currently billed plan as synced from the
// billing provider.
type Subscription struct {
	ID               uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	MerchantID       string                   `gorm:"column:merchant_id;not null;index"`
	PlanID           string                   `gorm:"column:plan_id;not null"`
	Status           enums.SubscriptionStatus `gorm:"column:status;not null"`
	CurrentPeriodEnd *time.Time               `gorm:"column:current_period_end"`
	CreatedAt        time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (Subscription) TableName() string { return "subscriptions" }
