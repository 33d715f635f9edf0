package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/marginguard-backend/api/middleware"
	"github.com/angelmondragon/marginguard-backend/api/responses"
	"github.com/angelmondragon/marginguard-backend/api/validators"
	"github.com/angelmondragon/marginguard-backend/internal/merchants"
	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marginguard-backend/pkg/errors"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

type ConnectionService interface {
	Connect(ctx context.Context, input merchants.ConnectInput) (*models.MerchantConnection, error)
	Connections(ctx context.Context, merchantID string) ([]models.MerchantConnection, error)
}

type connectRequest struct {
	StreamType string `json:"stream_type" validate:"required,max=128"`
	Kind       string `json:"kind" validate:"required,oneof=sales_channel ad_platform"`
	Status     string `json:"status" validate:"omitempty,oneof=active paused disconnected"`
}

type connectionResponse struct {
	StreamType  string    `json:"stream_type"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	ConnectedAt time.Time `json:"connected_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toConnectionResponse(c models.MerchantConnection) connectionResponse {
	return connectionResponse{
		StreamType:  c.StreamType,
		Kind:        string(c.Kind),
		Status:      string(c.Status),
		ConnectedAt: c.ConnectedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// MerchantConnect registers or updates one upstream stream for the merchant.
func MerchantConnect(svc ConnectionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "connection service unavailable"))
			return
		}
		var body connectRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		conn, err := svc.Connect(ctx, merchants.ConnectInput{
			MerchantID: middleware.MerchantIDFromContext(ctx),
			StreamType: validators.SanitizeString(body.StreamType, 128),
			Kind:       enums.ConnectionKind(body.Kind),
			Status:     enums.ConnectionStatus(body.Status),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toConnectionResponse(*conn))
	}
}

func MerchantConnections(svc ConnectionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "connection service unavailable"))
			return
		}
		rows, err := svc.Connections(ctx, middleware.MerchantIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]connectionResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, toConnectionResponse(row))
		}
		responses.WriteSuccess(w, map[string]any{"connections": out})
	}
}
