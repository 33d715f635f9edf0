package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/marginguard-backend/api/middleware"
	"github.com/angelmondragon/marginguard-backend/api/responses"
	"github.com/angelmondragon/marginguard-backend/api/validators"
	"github.com/angelmondragon/marginguard-backend/internal/merchants"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

type DataPurger interface {
	PurgeMerchantData(ctx context.Context, merchantID string, streamTypes []string) (merchants.PurgeResult, error)
}

// MerchantPurgeData erases everything derived from the stream types named by
// ?stream_type= (repeatable or comma separated). Repeating the call is safe.
func MerchantPurgeData(svc DataPurger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "purge service unavailable"))
			return
		}
		streams := validators.QueryList(r, "stream_type")
		if len(streams) == 0 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "at least one stream_type is required").
				WithDetails(map[string]any{"field": "stream_type"}))
			return
		}
		res, err := svc.PurgeMerchantData(ctx, middleware.MerchantIDFromContext(ctx), streams)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}
