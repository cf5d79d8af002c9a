// --- File: internal/dispatch/dispatcher.go ---
// Package dispatch sends one platform's token list through its transport in
// paced, concurrent batches.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-fanout-service/internal/message"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize  = 100
	DefaultBatchDelay = 500 * time.Millisecond
)

// Config controls batching and pacing.
type Config struct {
	BatchSize  int
	BatchDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	return c
}

// ProgressFunc receives (completed, total) after each outcome is known.
type ProgressFunc func(completed, total int)

type Dispatcher struct {
	transport fanout.Transport
	cfg       Config
	logger    *slog.Logger
}

// New creates a Dispatcher for a single platform transport.
func New(transport fanout.Transport, cfg Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		cfg:       cfg.withDefaults(),
		logger:    logger.With("component", "TokenDispatcher"),
	}
}

// Dispatch delivers payload to every token and returns exactly one outcome per token.
// Batches are sent one after another with BatchDelay between them; tokens within a
// batch are sent concurrently. Once ctx is done, batches that have not started are
// reported as CANCELLED. Calls already in flight are never aborted.
func (d *Dispatcher) Dispatch(ctx context.Context, platform fanout.Platform, tokens []string, payload fanout.Payload, onProgress ProgressFunc) []fanout.Outcome {
	total := len(tokens)
	if total == 0 {
		return []fanout.Outcome{}
	}

	env := message.BuildPayload(platform, payload)
	sendCtx := context.WithoutCancel(ctx)

	progress, drained := d.startProgress(total, onProgress)
	defer func() {
		close(progress)
		<-drained
	}()

	batches := (total + d.cfg.BatchSize - 1) / d.cfg.BatchSize
	log := d.logger.With("platform", platform, "tokens", total, "batches", batches)
	log.Info("Starting dispatch")

	results := make([]fanout.Outcome, 0, total)
	for b := 0; b < batches; b++ {
		start := b * d.cfg.BatchSize
		end := min(start+d.cfg.BatchSize, total)

		if b > 0 {
			d.pause(ctx)
		}
		if ctx.Err() != nil {
			remaining := FailAll(platform, tokens[start:], fanout.CodeCancelled, ctx.Err().Error())
			for range remaining {
				progress <- struct{}{}
			}
			log.Warn("Dispatch cancelled before batch start", "batch", b+1, "skipped", len(remaining))
			return append(results, remaining...)
		}

		batch := d.sendBatch(sendCtx, platform, tokens[start:end], env, progress)
		results = append(results, batch...)
		log.Debug("Batch complete", "batch", b+1, "size", end-start)
	}

	summary := fanout.Tally(results)
	log.Info("Dispatch finished", "success", summary.Success, "failure", summary.Failure)
	return results
}

// sendBatch is the join point of one batch. Each goroutine owns one slot of the
// batch-local slice.
func (d *Dispatcher) sendBatch(ctx context.Context, platform fanout.Platform, tokens []string, env fanout.Envelope, progress chan<- struct{}) []fanout.Outcome {
	out := make([]fanout.Outcome, len(tokens))

	var g errgroup.Group
	for i, token := range tokens {
		g.Go(func() error {
			out[i] = d.sendOne(ctx, platform, token, env)
			progress <- struct{}{}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (d *Dispatcher) sendOne(ctx context.Context, platform fanout.Platform, token string, env fanout.Envelope) (o fanout.Outcome) {
	o = fanout.Outcome{Token: token, Platform: platform}
	defer func() {
		if r := recover(); r != nil {
			o.Success = false
			o.ProviderMessageID = ""
			o.ErrorCode = fanout.CodePanic
			o.ErrorMessage = fmt.Sprint(r)
			d.logger.Error("Transport panicked", "platform", platform, "token", fanout.MaskToken(token), "panic", r)
		}
	}()

	id, err := d.transport.Send(ctx, token, env)
	if err != nil {
		o.ErrorCode, o.ErrorMessage = fanout.ErrorDetails(err)
		d.logger.Warn("Token delivery failed", "platform", platform, "token", fanout.MaskToken(token), "code", o.ErrorCode, "err", o.ErrorMessage)
		return o
	}
	o.Success = true
	o.ProviderMessageID = id
	return o
}

func (d *Dispatcher) pause(ctx context.Context) {
	if d.cfg.BatchDelay == 0 {
		return
	}
	timer := time.NewTimer(d.cfg.BatchDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// startProgress decouples the callback from dispatch. The channel holds one slot
// per token so senders never block.
func (d *Dispatcher) startProgress(total int, onProgress ProgressFunc) (chan<- struct{}, <-chan struct{}) {
	ch := make(chan struct{}, total)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		completed := 0
		for range ch {
			completed++
			if onProgress != nil {
				onProgress(completed, total)
			}
		}
	}()
	return ch, drained
}

// FailAll produces a failed outcome with the same error for every token.
func FailAll(platform fanout.Platform, tokens []string, code, msg string) []fanout.Outcome {
	out := make([]fanout.Outcome, len(tokens))
	for i, token := range tokens {
		out[i] = fanout.Outcome{
			Token:        token,
			Platform:     platform,
			ErrorCode:    code,
			ErrorMessage: msg,
		}
	}
	return out
}
