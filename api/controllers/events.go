package controllers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/marginguard-backend/api/middleware"
	"github.com/angelmondragon/marginguard-backend/api/responses"
	"github.com/angelmondragon/marginguard-backend/api/validators"
	"github.com/angelmondragon/marginguard-backend/internal/eventlog"
	"github.com/angelmondragon/marginguard-backend/internal/pipeline"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

// EventSubmitter is the ingest entry point.
type EventSubmitter interface {
	SubmitEvent(ctx context.Context, input eventlog.IngestInput) (pipeline.SubmitResult, error)
}

type submitEventRequest struct {
	StreamType string          `json:"stream_type" validate:"required,max=128"`
	EventType  string          `json:"event_type" validate:"required"`
	Origin     string          `json:"origin" validate:"omitempty,oneof=realtime_webhook historical_backfill periodic_poll manual_adjustment"`
	Payload    json.RawMessage `json:"payload" validate:"required"`
}

// MerchantSubmitEvent stores one raw event and reports what happened to it.
// 201 means newly accepted, 200 a duplicate, and 202 that the event is
// durable but its projection is pending.
func MerchantSubmitEvent(svc EventSubmitter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "event pipeline unavailable"))
			return
		}

		var body submitEventRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		eventType, err := enums.ParseEventType(body.EventType)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnknownEventType, err, "unknown event type").
				WithDetails(map[string]any{"event_type": body.EventType}))
			return
		}
		origin := enums.OriginRealtimeWebhook
		if body.Origin != "" {
			origin = enums.EventOrigin(body.Origin)
		}

		result, err := svc.SubmitEvent(ctx, eventlog.IngestInput{
			MerchantID: middleware.MerchantIDFromContext(ctx),
			StreamType: validators.SanitizeString(body.StreamType, 128),
			Origin:     origin,
			EventType:  eventType,
			Payload:    body.Payload,
		})
		if err != nil {
			// A failed inline projection leaves a stored event behind; the sweep owns it now.
			if result.EventID != uuid.Nil && result.Projection == pipeline.ProjectionPending {
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "event_id", result.EventID.String()), "event stored, projection deferred: "+err.Error())
				}
				responses.WriteSuccessStatus(w, http.StatusAccepted, result)
				return
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := http.StatusOK
		switch {
		case result.Projection == pipeline.ProjectionPending:
			status = http.StatusAccepted
		case result.Accepted:
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}
