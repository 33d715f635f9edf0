package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/marginguard-backend/api/middleware"
	"github.com/angelmondragon/marginguard-backend/api/responses"
	"github.com/angelmondragon/marginguard-backend/internal/pipeline"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

type Reconciler interface {
	Reconcile(ctx context.Context, merchantID string) (*pipeline.Reconciliation, error)
}

// MerchantReconciliation compares the event log with the ledger for one merchant.
func MerchantReconciliation(svc Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pipeline unavailable"))
			return
		}
		report, err := svc.Reconcile(ctx, middleware.MerchantIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}
