package plans

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marginguard-backend/pkg/db"
	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
	"github.com/angelmondragon/marginguard-backend/pkg/outbox"
	"github.com/angelmondragon/marginguard-backend/pkg/outbox/payloads"
)

// HealthSource yields the merchant's latest health score.
type HealthSource interface {
	Latest(ctx context.Context, merchantID string) (*models.HealthScore, error)
}

// VolumeSource counts orders booked in a window.
type VolumeSource interface {
	OrderCount(ctx context.Context, merchantID string, start, end time.Time) (int64, error)
}

// ChannelSource counts the merchant's active connections of a kind.
type ChannelSource interface {
	CountActive(ctx context.Context, merchantID string, kind enums.ConnectionKind) (int64, error)
}

// BillingSource resolves the catalogue and the plan a merchant pays for.
type BillingSource interface {
	ActivePlan(ctx context.Context, merchantID string) (*models.BillingPlan, error)
	Plan(ctx context.Context, planID string) (*models.BillingPlan, error)
}

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Emitter queues outbox events inside a transaction.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams groups dependencies for the plan service.
type ServiceParams struct {
	Repo     Repository
	Health   HealthSource
	Volume   VolumeSource
	Channels ChannelSource
	Billing  BillingSource
	Tx       TxRunner
	Outbox   Emitter
	Matrix   Matrix
	Logger   *logger.Logger
}

// Service is the plan assignment engine and the only writer of plan assignments.
type Service struct {
	repo     Repository
	health   HealthSource
	volume   VolumeSource
	channels ChannelSource
	billing  BillingSource
	tx       TxRunner
	outbox   Emitter
	matrix   Matrix
	logg     *logger.Logger
	now      func() time.Time
}

// Result is a stored assignment plus its comparison with the active plan.
type Result struct {
	Assignment    *models.PlanAssignment `json:"assignment"`
	ActivePlanID  *string                `json:"active_plan_id,omitempty"`
	UpgradeNeeded bool                   `json:"upgrade_needed"`
	Changed       bool                   `json:"changed"`
}

// NewService builds a plan assignment service.
func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("plan repository required")
	case params.Health == nil:
		return nil, fmt.Errorf("health source required")
	case params.Volume == nil:
		return nil, fmt.Errorf("volume source required")
	case params.Channels == nil:
		return nil, fmt.Errorf("channel source required")
	case params.Billing == nil:
		return nil, fmt.Errorf("billing source required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	if params.Matrix.VolumeWindowDays <= 0 {
		return nil, fmt.Errorf("volume window days must be positive")
	}
	return &Service{
		repo:     params.Repo,
		health:   params.Health,
		volume:   params.Volume,
		channels: params.Channels,
		billing:  params.Billing,
		tx:       params.Tx,
		outbox:   params.Outbox,
		matrix:   params.Matrix,
		logg:     params.Logger,
		now:      time.Now,
	}, nil
}

// CalculateRequiredPlan recomputes the merchant's required tier and stores it.
// A change of tier queues plan_assignment_changed in the same transaction.
func (s *Service) CalculateRequiredPlan(ctx context.Context, merchantID string) (*Result, error) {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant id is required")
	}
	logCtx := s.logg.WithMerchantID(ctx, merchantID)

	score, err := s.health.Latest(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	end := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	start := end.AddDate(0, 0, -s.matrix.VolumeWindowDays)
	orders, err := s.volume.OrderCount(ctx, merchantID, start, end)
	if err != nil {
		return nil, err
	}
	channels, err := s.channels.CountActive(ctx, merchantID, enums.ConnectionKindSalesChannel)
	if err != nil {
		return nil, storageError(err, "count sales channels")
	}

	decision := Required(s.matrix, Signals{Score: score.Score, OrderCount: orders, ChannelCount: channels})
	active, upgrade, err := s.compare(ctx, merchantID, decision.PlanID)
	if err != nil {
		return nil, err
	}

	assignment := &models.PlanAssignment{
		MerchantID:     merchantID,
		AssignedPlanID: decision.PlanID,
		RiskBand:       decision.Band,
		Reason:         decision.Reason,
		Score:          score.Score,
		OrderCount:     orders,
		ChannelCount:   channels,
		ComputedAt:     now,
	}
	changed := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		previous, err := repo.Find(ctx, merchantID)
		if err != nil {
			return err
		}
		switch {
		case previous == nil:
			changed = true
		case previous.AssignedPlanID != decision.PlanID:
			changed = true
			prev := previous.AssignedPlanID
			assignment.PreviousPlanID = &prev
		default:
			assignment.PreviousPlanID = previous.PreviousPlanID
		}
		if err := repo.Upsert(ctx, assignment); err != nil {
			return err
		}
		if !changed {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPlanAssignmentChanged,
			AggregateType: enums.AggregateMerchant,
			AggregateID:   merchantID,
			OccurredAt:    now,
			Data: payloads.PlanAssignmentChangedEvent{
				MerchantID:     merchantID,
				AssignedPlanID: assignment.AssignedPlanID,
				PreviousPlanID: assignment.PreviousPlanID,
				RiskBand:       assignment.RiskBand,
				Score:          assignment.Score,
				Reason:         assignment.Reason,
				UpgradeNeeded:  upgrade,
				ComputedAt:     now,
			},
		})
	})
	if err != nil {
		s.logg.Error(logCtx, "failed to store plan assignment", err)
		return nil, storageError(err, "store plan assignment")
	}

	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"plan_id":        decision.PlanID,
		"risk_band":      decision.Band,
		"changed":        changed,
		"upgrade_needed": upgrade,
	}), "plan assignment computed")
	return &Result{Assignment: assignment, ActivePlanID: active, UpgradeNeeded: upgrade, Changed: changed}, nil
}

// Get returns the stored assignment compared against the active plan.
func (s *Service) Get(ctx context.Context, merchantID string) (*Result, error) {
	assignment, err := s.repo.Find(ctx, merchantID)
	if err != nil {
		return nil, storageError(err, "load plan assignment")
	}
	if assignment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan assignment not found")
	}
	active, upgrade, err := s.compare(ctx, merchantID, assignment.AssignedPlanID)
	if err != nil {
		return nil, err
	}
	return &Result{Assignment: assignment, ActivePlanID: active, UpgradeNeeded: upgrade}, nil
}

// compare reports the active plan and whether the required tier outranks it.
// Without an active plan anything above the lowest tier needs an upgrade.
func (s *Service) compare(ctx context.Context, merchantID, requiredID string) (*string, bool, error) {
	active, err := s.billing.ActivePlan(ctx, merchantID)
	if err != nil {
		return nil, false, err
	}
	if active == nil {
		return nil, requiredID != s.matrix.LowTierID, nil
	}
	activeID := active.ID
	if active.ID == requiredID {
		return &activeID, false, nil
	}
	required, err := s.billing.Plan(ctx, requiredID)
	if err != nil {
		return nil, false, err
	}
	if required == nil {
		return &activeID, true, nil
	}
	return &activeID, required.Rank > active.Rank, nil
}

func storageError(err error, msg string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	if db.IsUnavailable(err) {
		return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "storage unavailable")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
}
