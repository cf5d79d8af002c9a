// --- File: internal/platform/apns/transport.go ---
// Package apns delivers iOS envelopes directly through the Apple Push Notification Service.
package apns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-fanout-service/internal/message"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Transport struct {
	client APNSClient
	topic  string // The App Bundle ID
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	Production   bool
	Timeout      time.Duration
}

// NewTransport creates a token-authenticated APNs transport.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewTransport(cfg Config, logger *slog.Logger) (*Transport, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}

	return NewTransportWithClient(client, cfg.BundleID, logger), nil
}

// NewTransportWithClient is used by tests and by callers that manage their own client.
func NewTransportWithClient(client APNSClient, bundleID string, logger *slog.Logger) *Transport {
	return &Transport{
		client: client,
		topic:  bundleID,
		logger: logger.With("component", "APNSTransport"),
	}
}

// Send pushes one iOS envelope. APNs is unary: one HTTP/2 request per token.
func (t *Transport) Send(ctx context.Context, deviceToken string, env fanout.Envelope) (string, error) {
	ios, ok := env.(message.IOSEnvelope)
	if !ok {
		return "", fanout.NewTransportError(fanout.CodeInvalidArgument, fmt.Errorf("apns: unsupported envelope %T", env))
	}
	if err := ctx.Err(); err != nil {
		return "", fanout.NewTransportError(fanout.CodeTimeout, err)
	}

	builder := payload.NewPayload().
		AlertTitle(ios.APSAlert.Title).
		AlertBody(ios.APSAlert.Body).
		Sound(ios.Sound).
		Badge(ios.Badge)
	for k, v := range ios.Data {
		builder.Custom(k, v)
	}

	res, err := t.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       t.topic,
		Payload:     builder,
		Priority:    apns2.PriorityHigh,
		PushType:    apns2.PushTypeAlert,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return "", fanout.NewTransportError(fanout.CodeTimeout, err)
		}
		return "", fanout.NewTransportError(fanout.CodeUnavailable, err)
	}
	if res.Sent() {
		return res.ApnsID, nil
	}

	// See: https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
	code := res.Reason
	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonDeviceTokenNotForTopic:
		code = fanout.CodeInvalidArgument
	case apns2.ReasonUnregistered:
		code = fanout.CodeUnregistered
	case apns2.ReasonTooManyRequests:
		code = fanout.CodeQuotaExceeded
	case "":
		code = fanout.CodeUnknown
	}
	return "", &fanout.TransportError{
		Code:    code,
		Message: fmt.Sprintf("apns rejected notification: status=%d reason=%s", res.StatusCode, res.Reason),
	}
}
