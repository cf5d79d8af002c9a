// --- File: internal/coordinator/coordinator.go ---
// Package coordinator runs one dispatcher per platform and merges the outcomes
// into a single audited result.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-fanout-service/internal/dispatch"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
	"golang.org/x/sync/errgroup"
)

const DefaultRecordTimeout = 5 * time.Second

// Config controls dispatch pacing and the history write.
type Config struct {
	Dispatch      dispatch.Config
	RecordTimeout time.Duration
}

// ProgressFunc reports per-platform dispatch progress.
type ProgressFunc func(platform fanout.Platform, completed, total int)

type Coordinator struct {
	dispatchers map[fanout.Platform]*dispatch.Dispatcher
	recorder    fanout.Recorder
	cfg         Config
	logger      *slog.Logger
}

// New wires one dispatcher per supplied transport. A platform without a transport
// still reports its tokens, all failed with DISPATCH_UNAVAILABLE. recorder may be nil.
func New(transports map[fanout.Platform]fanout.Transport, recorder fanout.Recorder, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = DefaultRecordTimeout
	}
	dispatchers := make(map[fanout.Platform]*dispatch.Dispatcher, len(transports))
	for p, t := range transports {
		if t == nil {
			continue
		}
		dispatchers[p] = dispatch.New(t, cfg.Dispatch, logger.With("platform", p))
	}
	return &Coordinator{
		dispatchers: dispatchers,
		recorder:    recorder,
		cfg:         cfg,
		logger:      logger.With("component", "FanoutCoordinator"),
	}
}

// Send delivers payload to every token and records the result.
func (c *Coordinator) Send(ctx context.Context, payload fanout.Payload, tokens fanout.TokensByPlatform, ownerID string, target fanout.Target) (*fanout.Result, error) {
	return c.SendWithProgress(ctx, payload, tokens, ownerID, target, nil)
}

// SendWithProgress is Send with a progress callback. Input errors are returned
// before anything is dispatched or recorded. Once dispatch starts, the only
// error-free outcome is a Result, whatever its status.
func (c *Coordinator) SendWithProgress(ctx context.Context, payload fanout.Payload, tokens fanout.TokensByPlatform, ownerID string, target fanout.Target, onProgress ProgressFunc) (*fanout.Result, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	for p := range tokens {
		if !p.Valid() {
			return nil, fmt.Errorf("%w: unsupported platform %q", fanout.ErrInvalidPayload, p)
		}
	}
	if tokens.Len() == 0 {
		return nil, fanout.ErrNoRecipients
	}

	// Each platform writes only its own slot; merged after Wait.
	byPlatform := make(map[fanout.Platform][]fanout.Outcome, len(fanout.Platforms))
	slots := make([][]fanout.Outcome, len(fanout.Platforms))

	var g errgroup.Group
	for i, p := range fanout.Platforms {
		list := tokens[p]
		if len(list) == 0 {
			continue
		}
		g.Go(func() error {
			slots[i] = c.dispatchPlatform(ctx, p, list, payload, onProgress)
			return nil
		})
	}
	_ = g.Wait()

	for i, p := range fanout.Platforms {
		byPlatform[p] = slots[i]
	}
	result := fanout.NewResult(byPlatform)

	c.logger.Info("Fanout complete",
		"owner", ownerID,
		"target", target,
		"status", result.Status,
		"total", result.Total.Tokens,
		"success", result.Total.Success,
		"failure", result.Total.Failure,
		"success_rate", result.SuccessRate,
	)

	c.record(ctx, result, ownerID, payload, target)
	return result, nil
}

func (c *Coordinator) dispatchPlatform(ctx context.Context, p fanout.Platform, list []string, payload fanout.Payload, onProgress ProgressFunc) []fanout.Outcome {
	d, ok := c.dispatchers[p]
	if !ok {
		c.logger.Error("No transport configured for platform", "platform", p, "tokens", len(list))
		return dispatch.FailAll(p, list, fanout.CodeDispatchUnavailable, fmt.Sprintf("no transport configured for %s", p))
	}
	var progress dispatch.ProgressFunc
	if onProgress != nil {
		progress = func(completed, total int) { onProgress(p, completed, total) }
	}
	return d.Dispatch(ctx, p, list, payload, progress)
}

// record awaits the history write with its own timeout; failures are logged only.
func (c *Coordinator) record(ctx context.Context, result *fanout.Result, ownerID string, payload fanout.Payload, target fanout.Target) {
	if c.recorder == nil {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RecordTimeout)
	defer cancel()

	id, err := c.recorder.Record(recCtx, result, ownerID, payload.Title, payload.Body, target)
	if err != nil {
		c.logger.Error("Failed to record delivery history", "owner", ownerID, "err", err)
		return
	}
	c.logger.Debug("Delivery history recorded", "record_id", id)
}
