// --- File: cmd/fanoutservice/runfanoutservice.go ---
package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-fanout-service/fanoutservice"
	"github.com/tinywideclouds/go-fanout-service/fanoutservice/config"
	"github.com/tinywideclouds/go-fanout-service/internal/platform/apns"
	"github.com/tinywideclouds/go-fanout-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-fanout-service/internal/platform/metrics"
	"github.com/tinywideclouds/go-fanout-service/internal/platform/tracing"
	"github.com/tinywideclouds/go-fanout-service/internal/storage/bolt"
	"github.com/tinywideclouds/go-fanout-service/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-fanout-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-fanout-service/internal/storage/gormstore"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-fanout-service")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config mapping failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore client failed", "err", err)
		os.Exit(1)
	}
	defer fsClient.Close()

	// --- Token Registry (Decorated) ---
	var registry fanout.TokenRegistry = fsStore.NewTokenRegistry(fsClient, cfg.Registry.Collection, logger)
	logger.Info("TokenRegistry initialized", "type", "firestore", "collection", cfg.Registry.Collection)

	switch {
	case cfg.Redis.Enabled:
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		registry = cache.NewCachedRegistry(registry, redisClient, cfg.Registry.CacheTTL, logger)
		logger.Info("TokenRegistry upgraded", "type", "redis_cached_firestore")
	case cfg.Registry.LocalCache:
		local := cache.NewLocalClient(cfg.Registry.CacheTTL, 2*cfg.Registry.CacheTTL)
		registry = cache.NewCachedRegistry(registry, local, cfg.Registry.CacheTTL, logger)
		logger.Info("TokenRegistry upgraded", "type", "local_cached_firestore")
	}

	// --- History ---
	history, closeHistory, err := newHistory(cfg, fsClient)
	if err != nil {
		logger.Error("History store failed", "backend", cfg.History.Backend, "err", err)
		os.Exit(1)
	}
	defer closeHistory()
	logger.Info("History store initialized", "backend", cfg.History.Backend)

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, _ := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	authMiddleware, _ := middleware.NewJWKSAuthMiddleware(jwksURL, logger)

	// --- Transports ---
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		logger.Error("Failed to initialize Firebase App", "err", err)
		os.Exit(1)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		logger.Error("Failed to create FCM messaging client", "err", err)
		os.Exit(1)
	}
	fcmTransport := fcm.NewTransport(fcmMessaging, cfg.Fanout.SendTimeout, logger)

	var iosTransport fanout.Transport = fcmTransport
	iosName := "fcm"
	if cfg.IOS.Transport == config.IOSTransportAPNS {
		apnsTransport, err := apns.NewTransport(apns.Config{
			KeyID:        cfg.IOS.APNS.KeyID,
			TeamID:       cfg.IOS.APNS.TeamID,
			BundleID:     cfg.IOS.APNS.BundleID,
			P8KeyContent: cfg.IOS.APNS.P8Key,
			Production:   cfg.IOS.APNS.Production,
			Timeout:      cfg.Fanout.SendTimeout,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize APNs transport", "err", err)
			os.Exit(1)
		}
		iosTransport = apnsTransport
		iosName = "apns"
	}
	logger.Info("Transports initialized", "ios", iosName, "android", "fcm")

	collector := metrics.NewCollector(prometheus.NewRegistry())
	instrument := func(name string, p fanout.Platform, t fanout.Transport) fanout.Transport {
		return collector.Wrap(name, p, tracing.NewTransport(name, p, t))
	}

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Consumer creation failed", "err", err)
		os.Exit(1)
	}

	service, err := fanoutservice.New(
		cfg,
		consumer,
		fanoutservice.Dependencies{
			Transports: map[fanout.Platform]fanout.Transport{
				fanout.PlatformIOS:     instrument(iosName, fanout.PlatformIOS, iosTransport),
				fanout.PlatformAndroid: instrument("fcm", fanout.PlatformAndroid, fcmTransport),
			},
			Registry: registry,
			History:  history,
			Gateway:  fcmTransport,
			Metrics:  collector.Handler(),
		},
		authMiddleware,
		logger,
	)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = service.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil && ctx.Err() == nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newHistory(cfg *config.Config, fsClient *firestore.Client) (fanout.Recorder, func(), error) {
	switch cfg.History.Backend {
	case config.HistoryBolt:
		store, err := bolt.New(cfg.History.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.HistoryMySQL:
		store, err := gormstore.Open(cfg.History.MySQLDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(); err != nil {
			return nil, nil, fmt.Errorf("history migration failed: %w", err)
		}
		return store, func() {}, nil
	default:
		return fsStore.NewHistoryStore(fsClient, ""), func() {}, nil
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")
	dlt := convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 60,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlt,
			MaxDeliveryAttempts: 5,
		},
		EnableMessageOrdering: false,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
