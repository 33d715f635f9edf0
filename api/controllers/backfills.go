package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/marginguard-backend/api/middleware"
	"github.com/angelmondragon/marginguard-backend/api/responses"
	"github.com/angelmondragon/marginguard-backend/api/validators"
	"github.com/angelmondragon/marginguard-backend/internal/backfill"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

type BackfillStarter interface {
	Start(job backfill.Job) (backfill.Ticket, error)
}

type startBackfillRequest struct {
	StreamType string    `json:"stream_type" validate:"required,max=128"`
	Since      time.Time `json:"since" validate:"required"`
	Until      time.Time `json:"until"`
	Restart    bool      `json:"restart"`
}

// MerchantStartBackfill launches a historical import and answers 202 with a
// ticket; progress is checkpointed so a later request resumes it.
func MerchantStartBackfill(svc BackfillStarter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "backfill gateway not configured"))
			return
		}
		var body startBackfillRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ticket, err := svc.Start(backfill.Job{
			MerchantID: middleware.MerchantIDFromContext(ctx),
			StreamType: validators.SanitizeString(body.StreamType, 128),
			Since:      body.Since.UTC(),
			Until:      body.Until.UTC(),
			Restart:    body.Restart,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, ticket)
	}
}
