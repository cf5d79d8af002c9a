// --- File: internal/platform/tracing/transport.go ---
// Package tracing decorates transports with OpenTelemetry spans.
package tracing

import (
	"context"

	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/tinywideclouds/go-fanout-service/transport"

type Transport struct {
	next     fanout.Transport
	tracer   trace.Tracer
	name     string
	platform fanout.Platform
}

// NewTransport wraps t using the global tracer provider.
// name should identify the gateway, e.g. fcm or apns.
func NewTransport(name string, platform fanout.Platform, t fanout.Transport) *Transport {
	return NewTransportWithTracer(name, platform, t, otel.Tracer(instrumentationName))
}

func NewTransportWithTracer(name string, platform fanout.Platform, t fanout.Transport, tracer trace.Tracer) *Transport {
	return &Transport{next: t, tracer: tracer, name: name, platform: platform}
}

func (t *Transport) Send(ctx context.Context, token string, env fanout.Envelope) (string, error) {
	ctx, span := t.tracer.Start(ctx, "Transport.Send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("transport.name", t.name),
			attribute.String("notification.platform", string(t.platform)),
			attribute.String("notification.token", fanout.MaskToken(token)),
		))
	defer span.End()

	id, err := t.next.Send(ctx, token, env)
	if err != nil {
		code, _ := fanout.ErrorDetails(err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("notification.error_code", code))
		span.SetStatus(codes.Error, err.Error())
		return id, err
	}
	span.SetAttributes(attribute.String("notification.provider_message_id", id))
	return id, nil
}
