// --- File: fanoutservice/service.go ---
// Package fanoutservice assembles the fan-out core, its ingestion pipeline and
// the admin HTTP API into one runnable service.
package fanoutservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-fanout-service/fanoutservice/config"
	"github.com/tinywideclouds/go-fanout-service/internal/api"
	"github.com/tinywideclouds/go-fanout-service/internal/coordinator"
	"github.com/tinywideclouds/go-fanout-service/internal/dispatch"
	"github.com/tinywideclouds/go-fanout-service/internal/pipeline"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// Dependencies are the concrete backends chosen at startup.
type Dependencies struct {
	Transports map[fanout.Platform]fanout.Transport
	Registry   fanout.TokenRegistry
	History    fanout.Recorder
	// Gateway is optional; without it topic and validate routes answer 501.
	Gateway api.TopicGateway
	// Metrics is optional; when set it is served on GET /metrics.
	Metrics http.Handler
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[fanout.Job]
	logger          *slog.Logger
}

// New assembles the service.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	deps Dependencies,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Fan-out core
	coord := coordinator.New(deps.Transports, deps.History, coordinator.Config{
		Dispatch: dispatch.Config{
			BatchSize:  cfg.Fanout.BatchSize,
			BatchDelay: cfg.Fanout.BatchDelay,
		},
		RecordTimeout: cfg.Fanout.RecordTimeout,
	}, logger)

	// 3. Pipeline
	processor := pipeline.NewProcessor(coord, deps.Registry, logger)
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.JobTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API
	pushAPI := api.NewPushAPI(coord, deps.Registry, deps.History, deps.Gateway, cfg.History.Location, logger)

	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)
	registerRoutes(baseServer.Mux(), pushAPI, corsMiddleware, authMiddleware, deps.Metrics)

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

type router interface {
	Handle(pattern string, handler http.Handler)
}

func registerRoutes(mux router, pushAPI *api.PushAPI, cors, auth func(http.Handler) http.Handler, metrics http.Handler) {
	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, cors(auth(handlerFunc)))
	}

	handle("POST /api/v1/push/send", pushAPI.Send)
	handle("POST /api/v1/push/topic", pushAPI.Topic)
	handle("POST /api/v1/push/validate", pushAPI.Validate)
	handle("GET /api/v1/push/history", pushAPI.History)
	handle("GET /api/v1/push/history/today", pushAPI.TodayCount)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", cors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
