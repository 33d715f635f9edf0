package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/marginguard-backend/api/middleware"
	"github.com/angelmondragon/marginguard-backend/api/responses"
	"github.com/angelmondragon/marginguard-backend/internal/plans"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

type PlanCalculator interface {
	CalculateRequiredPlan(ctx context.Context, merchantID string) (*plans.Result, error)
	Get(ctx context.Context, merchantID string) (*plans.Result, error)
}

type planResponse struct {
	AssignedPlanID string    `json:"assigned_plan_id"`
	PreviousPlanID *string   `json:"previous_plan_id,omitempty"`
	RiskBand       string    `json:"risk_band"`
	Reason         string    `json:"reason"`
	Score          int       `json:"score"`
	OrderCount     int64     `json:"order_count"`
	ChannelCount   int64     `json:"channel_count"`
	ComputedAt     time.Time `json:"computed_at"`
	ActivePlanID   *string   `json:"active_plan_id,omitempty"`
	UpgradeNeeded  bool      `json:"upgrade_needed"`
	Changed        bool      `json:"changed"`
}

func toPlanResponse(res *plans.Result) planResponse {
	out := planResponse{
		ActivePlanID:  res.ActivePlanID,
		UpgradeNeeded: res.UpgradeNeeded,
		Changed:       res.Changed,
	}
	if a := res.Assignment; a != nil {
		out.AssignedPlanID = a.AssignedPlanID
		out.PreviousPlanID = a.PreviousPlanID
		out.RiskBand = string(a.RiskBand)
		out.Reason = a.Reason
		out.Score = a.Score
		out.OrderCount = a.OrderCount
		out.ChannelCount = a.ChannelCount
		out.ComputedAt = a.ComputedAt
	}
	return out
}

func MerchantPlan(svc PlanCalculator, logg *logger.Logger) http.HandlerFunc {
	return planHandler(svc, logg, false)
}

// MerchantCalculatePlan re-derives the required tier from the latest score and volume.
func MerchantCalculatePlan(svc PlanCalculator, logg *logger.Logger) http.HandlerFunc {
	return planHandler(svc, logg, true)
}

func planHandler(svc PlanCalculator, logg *logger.Logger, recompute bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan service unavailable"))
			return
		}
		merchantID := middleware.MerchantIDFromContext(ctx)
		var (
			res *plans.Result
			err error
		)
		if recompute {
			res, err = svc.CalculateRequiredPlan(ctx, merchantID)
		} else {
			res, err = svc.Get(ctx, merchantID)
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPlanResponse(res))
	}
}
