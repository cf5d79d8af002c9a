// --- File: internal/pipeline/transformer.go ---
// Package pipeline contains the Pub/Sub processing components for fan-out jobs.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// wireJob accepts any JSON value in data; providers only take strings.
type wireJob struct {
	Title   string                  `json:"title"`
	Body    string                  `json:"body"`
	Data    map[string]any          `json:"data,omitempty"`
	Target  string                  `json:"target,omitempty"`
	OwnerID string                  `json:"ownerId"`
	Tokens  fanout.TokensByPlatform `json:"tokens,omitempty"`
}

// JobTransformer is a dataflow Transformer that unmarshals and validates a raw
// message payload into a fanout.Job.
func JobTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*fanout.Job, bool, error) {
	var raw wireJob
	if err := json.Unmarshal(msg.Payload, &raw); err != nil {
		// skip=true so the StreamingService can handle the Nack/DLQ logic.
		return nil, true, fmt.Errorf("failed to unmarshal fanout job from message %s: %w", msg.ID, err)
	}

	target, err := fanout.ParseTarget(raw.Target)
	if err != nil {
		return nil, true, fmt.Errorf("invalid fanout job in message %s: %w", msg.ID, err)
	}

	job := &fanout.Job{
		Title:   raw.Title,
		Body:    raw.Body,
		Data:    fanout.StringifyData(raw.Data),
		Target:  target,
		OwnerID: raw.OwnerID,
		Tokens:  raw.Tokens,
	}
	if err := job.Payload().Validate(); err != nil {
		return nil, true, fmt.Errorf("invalid fanout job in message %s: %w", msg.ID, err)
	}
	return job, false, nil
}
