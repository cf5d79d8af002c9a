// --- File: internal/api/push_api.go ---
// Package api exposes the fan-out core to the admin layer over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

// Sender is the coordinator contract.
type Sender interface {
	Send(ctx context.Context, payload fanout.Payload, tokens fanout.TokensByPlatform, ownerID string, target fanout.Target) (*fanout.Result, error)
}

// TopicGateway covers provider features outside per-token fan-out.
type TopicGateway interface {
	SendToTopic(ctx context.Context, topic string, payload fanout.Payload) (string, error)
	Validate(ctx context.Context, platform fanout.Platform, token string) error
}

type PushAPI struct {
	Sender   Sender
	Registry fanout.TokenRegistry
	Store    fanout.Recorder
	Gateway  TopicGateway
	// Location decides where "today" starts for the daily count.
	Location *time.Location
	Logger   *slog.Logger
	// OwnerFromContext resolves the authenticated admin.
	OwnerFromContext func(ctx context.Context) (string, bool)
	Now              func() time.Time
}

func NewPushAPI(sender Sender, registry fanout.TokenRegistry, store fanout.Recorder, gateway TopicGateway, loc *time.Location, logger *slog.Logger) *PushAPI {
	if loc == nil {
		loc = time.UTC
	}
	return &PushAPI{
		Sender:           sender,
		Registry:         registry,
		Store:            store,
		Gateway:          gateway,
		Location:         loc,
		Logger:           logger.With("component", "PushAPI"),
		OwnerFromContext: middleware.GetUserHandleFromContext,
		Now:              time.Now,
	}
}

type SendRequest struct {
	Title  string                  `json:"title"`
	Body   string                  `json:"body"`
	Data   map[string]any          `json:"data,omitempty"`
	Target string                  `json:"target,omitempty"`
	Tokens fanout.TokensByPlatform `json:"tokens,omitempty"`
}

// Send runs a fan-out. Without explicit tokens the registry is snapshotted for the target.
func (api *PushAPI) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := api.OwnerFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	target, err := fanout.ParseTarget(req.Target)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	payload := fanout.Payload{Title: req.Title, Body: req.Body, Data: fanout.StringifyData(req.Data)}
	if err := payload.Validate(); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	tokens := req.Tokens
	if tokens.Len() == 0 {
		if api.Registry == nil {
			response.WriteJSONError(w, http.StatusUnprocessableEntity, fanout.ErrNoRecipients.Error())
			return
		}
		tokens, err = api.Registry.Snapshot(ctx, target)
		if err != nil {
			api.Logger.Error("Token registry snapshot failed", "target", target, "err", err)
			response.WriteJSONError(w, http.StatusBadGateway, "token registry unavailable")
			return
		}
	}

	result, err := api.Sender.Send(ctx, payload, tokens, ownerID, target)
	switch {
	case errors.Is(err, fanout.ErrNoRecipients):
		response.WriteJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, fanout.ErrInvalidPayload):
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		api.Logger.Error("Fan-out failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "fan-out failed")
		return
	}

	response.WriteJSON(w, http.StatusOK, result.Redacted())
}

// History lists the caller's most recent fan-outs.
func (api *PushAPI) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := api.OwnerFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.WriteJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxHistoryLimit)
	}

	records, err := api.Store.ListRecent(ctx, ownerID, limit)
	if err != nil {
		api.Logger.Error("Failed to list history", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	response.WriteJSON(w, http.StatusOK, records)
}

type TodayCountResponse struct {
	Count int       `json:"count"`
	Since time.Time `json:"since"`
}

// TodayCount counts the caller's fan-outs since local midnight.
func (api *PushAPI) TodayCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := api.OwnerFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	since := fanout.StartOfDay(api.Now(), api.Location)
	n, err := api.Store.CountSince(ctx, ownerID, since)
	if err != nil {
		api.Logger.Error("Failed to count history", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	response.WriteJSON(w, http.StatusOK, TodayCountResponse{Count: n, Since: since})
}

type TopicRequest struct {
	Topic string         `json:"topic"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// Topic broadcasts to a provider topic. Topic sends carry no per-token
// accounting and are not recorded.
func (api *PushAPI) Topic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := api.OwnerFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if api.Gateway == nil {
		response.WriteJSONError(w, http.StatusNotImplemented, "topic messaging not configured")
		return
	}

	var req TopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id, err := api.Gateway.SendToTopic(ctx, req.Topic, fanout.Payload{
		Title: req.Title, Body: req.Body, Data: fanout.StringifyData(req.Data),
	})
	if errors.Is(err, fanout.ErrInvalidPayload) {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		api.Logger.Error("Topic send failed", "topic", req.Topic, "err", err)
		response.WriteJSONError(w, http.StatusBadGateway, "topic send failed")
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"messageId": id})
}

type ValidateRequest struct {
	Platform fanout.Platform `json:"platform"`
	Token    string          `json:"token"`
}

type ValidateResponse struct {
	Valid     bool   `json:"valid"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// Validate asks the provider whether a token is still deliverable.
func (api *PushAPI) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := api.OwnerFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if api.Gateway == nil {
		response.WriteJSONError(w, http.StatusNotImplemented, "token validation not configured")
		return
	}

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" || !req.Platform.Valid() {
		response.WriteJSONError(w, http.StatusBadRequest, "platform and token are required")
		return
	}

	if err := api.Gateway.Validate(ctx, req.Platform, req.Token); err != nil {
		code, _ := fanout.ErrorDetails(err)
		api.Logger.Info("Token failed validation", "platform", req.Platform, "token", fanout.MaskToken(req.Token), "code", code)
		response.WriteJSON(w, http.StatusOK, ValidateResponse{Valid: false, ErrorCode: code})
		return
	}
	response.WriteJSON(w, http.StatusOK, ValidateResponse{Valid: true})
}
