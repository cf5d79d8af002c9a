// --- File: internal/pipeline/processor.go ---
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// Sender is the coordinator contract the processor drives.
type Sender interface {
	Send(ctx context.Context, payload fanout.Payload, tokens fanout.TokensByPlatform, ownerID string, target fanout.Target) (*fanout.Result, error)
}

// Invalidator is implemented by registries that cache snapshots.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// NewProcessor creates the logic that runs one fan-out per job.
// Jobs without explicit tokens take a registry snapshot for their target.
func NewProcessor(
	sender Sender,
	registry fanout.TokenRegistry,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[fanout.Job] {

	return func(ctx context.Context, original messagepipeline.Message, job *fanout.Job) error {
		procLogger := logger.With(
			"owner_id", job.OwnerID,
			"target", job.Target,
			"pubsub_msg_id", original.ID,
		)

		tokens := job.Tokens
		if tokens.Len() == 0 {
			if registry == nil {
				procLogger.Warn("Job has no tokens and no registry is configured; dropping.")
				return nil
			}
			snapshot, err := registry.Snapshot(ctx, job.Target)
			if err != nil {
				procLogger.Error("Failed to snapshot token registry", "err", err)
				return err // Retryable
			}
			tokens = snapshot
		}

		result, err := sender.Send(ctx, job.Payload(), tokens, job.OwnerID, job.Target)
		switch {
		case errors.Is(err, fanout.ErrNoRecipients):
			procLogger.Info("No recipients for job; dropping notification.")
			return nil
		case errors.Is(err, fanout.ErrInvalidPayload):
			procLogger.Warn("Rejected invalid job", "err", err)
			return nil
		case err != nil:
			procLogger.Error("Fan-out failed", "err", err)
			return err
		}

		invalid := 0
		for _, p := range fanout.Platforms {
			if n := len(result.InvalidTokens(p)); n > 0 {
				procLogger.Info("Provider reported dead tokens", "platform", p, "count", n)
				invalid += n
			}
		}
		if inv, ok := registry.(Invalidator); ok && invalid > 0 {
			if err := inv.Invalidate(ctx); err != nil {
				procLogger.Warn("Failed to invalidate token cache", "err", err)
			}
		}

		procLogger.Info("Job dispatched",
			"status", result.Status,
			"success", result.Total.Success,
			"failure", result.Total.Failure,
		)
		return nil
	}
}
