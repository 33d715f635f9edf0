package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/marginguard-backend/api/responses"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

type contextKey string

const ctxMerchantID contextKey = "merchant_id"

const maxMerchantIDLen = 128

func MerchantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxMerchantID).(string); ok {
		return v
	}
	return ""
}

// WithMerchantID injects the merchant identifier for downstream handlers.
func WithMerchantID(ctx context.Context, merchantID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxMerchantID, merchantID)
}

// MerchantContext resolves the {merchantId} path segment once for the whole
// merchant subtree and tags the request logger with it.
func MerchantContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			merchantID := strings.TrimSpace(chi.URLParam(r, "merchantId"))
			if merchantID == "" || len(merchantID) > maxMerchantIDLen {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid merchant id").
					WithDetails(map[string]any{"field": "merchantId", "max_length": maxMerchantIDLen}))
				return
			}
			ctx := WithMerchantID(r.Context(), merchantID)
			if logg != nil {
				ctx = logg.WithMerchantID(ctx, merchantID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
