package models

import (
	"time"

	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// PlanAssignment is the recommended subscription tier for a merchant.
type PlanAssignment struct {
	MerchantID     string         `gorm:"column:merchant_id;primaryKey"`
	AssignedPlanID string         `gorm:"column:assigned_plan_id;not null"`
	PreviousPlanID *string        `gorm:"column:previous_plan_id"`
	RiskBand       enums.RiskBand `gorm:"column:risk_band;not null"`
	Reason         string         `gorm:"column:reason;not null"`
	Score          int            `gorm:"column:score;not null"`
	OrderCount     int64          `gorm:"column:order_count;not null"`
	ChannelCount   int64          `gorm:"column:channel_count;not null"`
	ComputedAt     time.Time      `gorm:"column:computed_at;not null"`
}

func (PlanAssignment) TableName() string { return "plan_assignments" }
