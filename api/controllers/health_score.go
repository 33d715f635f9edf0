package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marginguard-backend/api/middleware"
	"github.com/angelmondragon/marginguard-backend/api/responses"
	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

type HealthScorer interface {
	Diagnose(ctx context.Context, merchantID string) (*models.HealthScore, error)
	Get(ctx context.Context, merchantID string) (*models.HealthScore, error)
}

type healthScoreResponse struct {
	Score           int                `json:"score"`
	Level           string             `json:"level"`
	Factors         map[string]float64 `json:"factors"`
	OpportunityLoss decimal.Decimal    `json:"opportunity_loss"`
	WindowStart     time.Time          `json:"window_start"`
	WindowEnd       time.Time          `json:"window_end"`
	ComputedAt      time.Time          `json:"computed_at"`
}

func toHealthScoreResponse(h *models.HealthScore) healthScoreResponse {
	factors := map[string]float64(h.Factors)
	if factors == nil {
		factors = map[string]float64{}
	}
	return healthScoreResponse{
		Score:           h.Score,
		Level:           string(h.Level),
		Factors:         factors,
		OpportunityLoss: h.OpportunityLoss,
		WindowStart:     h.WindowStart,
		WindowEnd:       h.WindowEnd,
		ComputedAt:      h.ComputedAt,
	}
}

func MerchantHealthScore(svc HealthScorer, logg *logger.Logger) http.HandlerFunc {
	return healthScoreHandler(svc, logg, false)
}

// MerchantDiagnose recomputes the score from the ledger before answering.
func MerchantDiagnose(svc HealthScorer, logg *logger.Logger) http.HandlerFunc {
	return healthScoreHandler(svc, logg, true)
}

func healthScoreHandler(svc HealthScorer, logg *logger.Logger, recompute bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "diagnostics service unavailable"))
			return
		}
		merchantID := middleware.MerchantIDFromContext(ctx)
		var (
			score *models.HealthScore
			err   error
		)
		if recompute {
			score, err = svc.Diagnose(ctx, merchantID)
		} else {
			score, err = svc.Get(ctx, merchantID)
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toHealthScoreResponse(score))
	}
}
