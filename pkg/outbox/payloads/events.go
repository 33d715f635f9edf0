package payloads

import (
	"time"

	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// PlanAssignmentChangedEvent tells billing that a merchant's required tier moved.
type PlanAssignmentChangedEvent struct {
	MerchantID     string         `json:"merchant_id"`
	AssignedPlanID string         `json:"assigned_plan_id"`
	PreviousPlanID *string        `json:"previous_plan_id,omitempty"`
	RiskBand       enums.RiskBand `json:"risk_band"`
	Score          int            `json:"score"`
	Reason         string         `json:"reason"`
	UpgradeNeeded  bool           `json:"upgrade_needed"`
	ComputedAt     time.Time      `json:"computed_at"`
}

// MerchantDataPurgedEvent records a completed erasure for downstream caches.
type MerchantDataPurgedEvent struct {
	MerchantID   string    `json:"merchant_id"`
	StreamTypes  []string  `json:"stream_types"`
	Entries      int64     `json:"entries"`
	Transactions int64     `json:"transactions"`
	Events       int64     `json:"events"`
	Connections  int64     `json:"connections"`
	PurgedAt     time.Time `json:"purged_at"`
}

// AggregateKey is the id the owning outbox row must carry.
func (e PlanAssignmentChangedEvent) AggregateKey() string { return e.MerchantID }

func (e MerchantDataPurgedEvent) AggregateKey() string { return e.MerchantID }
