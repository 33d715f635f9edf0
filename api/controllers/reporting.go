package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/marginguard-backend/api/middleware"
	"github.com/angelmondragon/marginguard-backend/api/responses"
	"github.com/angelmondragon/marginguard-backend/api/validators"
	"github.com/angelmondragon/marginguard-backend/internal/reporting"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

const (
	defaultReportDays = 30
	maxReportDays     = 366
)

type Reporter interface {
	Summarize(ctx context.Context, merchantID string, start, end time.Time) (reporting.Summary, error)
	ProductBreakdown(ctx context.Context, merchantID, currency string, start, end time.Time) ([]reporting.ProductLine, error)
	CashBalance(ctx context.Context, merchantID string, asOf time.Time) ([]reporting.Balance, error)
}

// MerchantSummary reports revenue, costs and net profit for ?start..?end.
func MerchantSummary(svc Reporter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reporting service unavailable"))
			return
		}
		start, end, err := validators.ParseQueryWindow(r, time.Now().UTC(), defaultReportDays, maxReportDays)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		summary, err := svc.Summarize(ctx, middleware.MerchantIDFromContext(ctx), start, end)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

func MerchantProducts(svc Reporter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reporting service unavailable"))
			return
		}
		currency := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("currency")))
		if len(currency) != 3 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "currency must be a 3 letter code").
				WithDetails(map[string]any{"field": "currency"}))
			return
		}
		start, end, err := validators.ParseQueryWindow(r, time.Now().UTC(), defaultReportDays, maxReportDays)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		lines, err := svc.ProductBreakdown(ctx, middleware.MerchantIDFromContext(ctx), currency, start, end)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if lines == nil {
			lines = []reporting.ProductLine{}
		}
		responses.WriteSuccess(w, map[string]any{"currency": currency, "start": start, "end": end, "products": lines})
	}
}

// MerchantCash reports the cash account balance per currency as of ?as_of (default now).
func MerchantCash(svc Reporter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reporting service unavailable"))
			return
		}
		asOf, ok, err := validators.ParseQueryTime(r, "as_of")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if !ok {
			asOf = time.Now().UTC()
		}
		balances, err := svc.CashBalance(ctx, middleware.MerchantIDFromContext(ctx), asOf)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if balances == nil {
			balances = []reporting.Balance{}
		}
		responses.WriteSuccess(w, map[string]any{"as_of": asOf, "balances": balances})
	}
}
