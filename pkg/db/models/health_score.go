package models

import (
	"time"

	"github.com/shopspring/decimal"

	dbtypes "github.com/angelmondragon/marginguard-backend/pkg/db/types"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// HealthScore is the latest risk diagnosis for a merchant. One row per merchant.
type HealthScore struct {
	MerchantID      string            `gorm:"column:merchant_id;primaryKey"`
	Score           int               `gorm:"column:score;not null"`
	Level           enums.RiskLevel   `gorm:"column:level;not null"`
	Factors         dbtypes.FactorMap `gorm:"column:factors;type:jsonb;not null"`
	OpportunityLoss decimal.Decimal   `gorm:"column:opportunity_loss;type:numeric(18,2);not null"`
	WindowStart     time.Time         `gorm:"column:window_start;not null"`
	WindowEnd       time.Time         `gorm:"column:window_end;not null"`
	ComputedAt      time.Time         `gorm:"column:computed_at;not null"`
}

func (HealthScore) TableName() string { return "health_scores" }
