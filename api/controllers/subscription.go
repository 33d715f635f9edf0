package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marginguard-backend/api/middleware"
	"github.com/angelmondragon/marginguard-backend/api/responses"
	"github.com/angelmondragon/marginguard-backend/api/validators"
	"github.com/angelmondragon/marginguard-backend/internal/billing"
	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

type SubscriptionService interface {
	SyncSubscription(ctx context.Context, input billing.SyncSubscriptionInput) (*models.Subscription, error)
	ListPlans(ctx context.Context) ([]models.BillingPlan, error)
}

type syncSubscriptionRequest struct {
	ID               uuid.UUID  `json:"id" validate:"required"`
	PlanID           string     `json:"plan_id" validate:"required,max=64"`
	Status           string     `json:"status" validate:"required"`
	CurrentPeriodEnd *time.Time `json:"current_period_end"`
}

type subscriptionResponse struct {
	ID               uuid.UUID  `json:"id"`
	PlanID           string     `json:"plan_id"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type billingPlanResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Rank         int             `json:"rank"`
	Interval     string          `json:"interval"`
	PriceAmount  decimal.Decimal `json:"price_amount"`
	CurrencyCode string          `json:"currency_code"`
	Features     []string        `json:"features"`
}

// MerchantSyncSubscription mirrors the billing provider's view of the merchant's subscription.
func MerchantSyncSubscription(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		var body syncSubscriptionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		status, err := enums.ParseSubscriptionStatus(body.Status)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").
				WithDetails(map[string]any{"field": "status"}))
			return
		}
		sub, err := svc.SyncSubscription(ctx, billing.SyncSubscriptionInput{
			ID:               body.ID,
			MerchantID:       middleware.MerchantIDFromContext(ctx),
			PlanID:           validators.SanitizeString(body.PlanID, 64),
			Status:           status,
			CurrentPeriodEnd: body.CurrentPeriodEnd,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, subscriptionResponse{
			ID:               sub.ID,
			PlanID:           sub.PlanID,
			Status:           string(sub.Status),
			CurrentPeriodEnd: sub.CurrentPeriodEnd,
			UpdatedAt:        sub.UpdatedAt,
		})
	}
}

func ListBillingPlans(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		rows, err := svc.ListPlans(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]billingPlanResponse, 0, len(rows))
		for _, p := range rows {
			features := []string(p.Features)
			if features == nil {
				features = []string{}
			}
			out = append(out, billingPlanResponse{
				ID:           p.ID,
				Name:         p.Name,
				Rank:         p.Rank,
				Interval:     string(p.Interval),
				PriceAmount:  p.PriceAmount,
				CurrencyCode: p.CurrencyCode,
				Features:     features,
			})
		}
		responses.WriteSuccess(w, map[string]any{"plans": out})
	}
}
