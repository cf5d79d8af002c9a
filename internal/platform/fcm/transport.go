// --- File: internal/platform/fcm/transport.go ---
// Package fcm delivers envelopes through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-fanout-service/internal/message"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

const DefaultSendTimeout = 30 * time.Second

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
	SendDryRun(ctx context.Context, msg *messaging.Message) (string, error)
}

type Transport struct {
	client  MessagingClient
	timeout time.Duration
	logger  *slog.Logger
}

// NewTransport wraps a messaging client. timeout bounds every provider call.
func NewTransport(client MessagingClient, timeout time.Duration, logger *slog.Logger) *Transport {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Transport{
		client:  client,
		timeout: timeout,
		logger:  logger.With("component", "FCMTransport"),
	}
}

// Send delivers one envelope to one registration token.
func (t *Transport) Send(ctx context.Context, token string, env fanout.Envelope) (string, error) {
	msg, err := toMessage(env)
	if err != nil {
		return "", fanout.NewTransportError(fanout.CodeInvalidArgument, err)
	}
	msg.Token = token

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	id, err := t.client.Send(ctx, msg)
	if err != nil {
		return "", mapError(ctx, err)
	}
	return id, nil
}

// SendToTopic broadcasts to every device subscribed to topic.
func (t *Transport) SendToTopic(ctx context.Context, topic string, p fanout.Payload) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("%w: topic is required", fanout.ErrInvalidPayload)
	}
	if err := p.Validate(); err != nil {
		return "", err
	}
	// Topic messages reach both platforms; the android block is the richer of the two.
	msg, err := toMessage(message.BuildPayload(fanout.PlatformAndroid, p))
	if err != nil {
		return "", err
	}
	ios, _ := toMessage(message.BuildPayload(fanout.PlatformIOS, p))
	msg.APNS = ios.APNS
	msg.Topic = topic

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	id, err := t.client.Send(ctx, msg)
	if err != nil {
		return "", mapError(ctx, err)
	}
	t.logger.Info("Topic message sent", "topic", topic, "message_id", id)
	return id, nil
}

// Validate performs a dry-run send so the provider checks the token without
// delivering anything.
func (t *Transport) Validate(ctx context.Context, platform fanout.Platform, token string) error {
	if !platform.Valid() {
		return fmt.Errorf("%w: unsupported platform %q", fanout.ErrInvalidPayload, platform)
	}
	msg, err := toMessage(message.Build(platform, "validation", "validation", nil))
	if err != nil {
		return err
	}
	msg.Token = token

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if _, err := t.client.SendDryRun(ctx, msg); err != nil {
		return mapError(ctx, err)
	}
	return nil
}

func toMessage(env fanout.Envelope) (*messaging.Message, error) {
	switch e := env.(type) {
	case message.IOSEnvelope:
		badge := e.Badge
		return &messaging.Message{
			Data:         e.Data,
			Notification: &messaging.Notification{Title: e.Notification.Title, Body: e.Notification.Body},
			APNS: &messaging.APNSConfig{
				Headers: e.Headers,
				Payload: &messaging.APNSPayload{
					Aps: &messaging.Aps{
						Sound: e.Sound,
						Badge: &badge,
						Alert: &messaging.ApsAlert{Title: e.APSAlert.Title, Body: e.APSAlert.Body},
					},
				},
			},
		}, nil
	case message.AndroidEnvelope:
		ttl := e.TTL
		return &messaging.Message{
			Data:         e.Data,
			Notification: &messaging.Notification{Title: e.Notification.Title, Body: e.Notification.Body},
			Android: &messaging.AndroidConfig{
				Priority: e.Priority,
				TTL:      &ttl,
				Notification: &messaging.AndroidNotification{
					Title:       e.Notification.Title,
					Body:        e.Notification.Body,
					Sound:       e.Sound,
					ChannelID:   e.ChannelID,
					ClickAction: e.ClickAction,
					Icon:        e.Icon,
					Color:       e.Color,
					Tag:         e.Tag,
				},
			},
		}, nil
	default:
		return nil, fmt.Errorf("fcm: unsupported envelope %T", env)
	}
}

// mapError converts Firebase SDK errors to stable codes.
func mapError(ctx context.Context, err error) error {
	var code string
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		code = fanout.CodeTimeout
	case messaging.IsUnregistered(err):
		code = fanout.CodeUnregistered
	case messaging.IsInvalidArgument(err):
		code = fanout.CodeInvalidArgument
	case messaging.IsQuotaExceeded(err):
		code = fanout.CodeQuotaExceeded
	case messaging.IsUnavailable(err):
		code = fanout.CodeUnavailable
	case messaging.IsInternal(err):
		code = fanout.CodeInternal
	case messaging.IsSenderIDMismatch(err):
		code = fanout.CodeSenderIDMismatch
	case messaging.IsThirdPartyAuthError(err):
		code = fanout.CodeThirdPartyAuthError
	default:
		code = fanout.CodeUnknown
	}
	return fanout.NewTransportError(code, err)
}
