// --- File: fanoutservice/config/config.go ---
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	IOSTransportFCM  = "fcm"
	IOSTransportAPNS = "apns"

	HistoryFirestore = "firestore"
	HistoryBolt      = "bolt"
	HistoryMySQL     = "mysql"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type FanoutConfig struct {
	BatchSize int
	// BatchDelay of zero disables pacing. The YAML mapping supplies the default.
	BatchDelay    time.Duration
	RecordTimeout time.Duration
	SendTimeout   time.Duration
}

type APNSConfig struct {
	KeyID      string
	TeamID     string
	BundleID   string
	P8Key      string
	Production bool
}

type IOSConfig struct {
	Transport string
	APNS      APNSConfig
}

type HistoryConfig struct {
	Backend  string
	BoltPath string
	MySQLDSN string
	// Location is where the daily count starts its day.
	Location *time.Location
}

type RegistryConfig struct {
	Collection string
	CacheTTL   time.Duration
	LocalCache bool
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Fanout     FanoutConfig
	IOS        IOSConfig
	History    HistoryConfig
	Registry   RegistryConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables, fills defaults
// and validates. All validation problems are reported together.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	var result *multierror.Error

	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// Fan-out pacing
	if val := os.Getenv("FANOUT_BATCH_SIZE"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			result = multierror.Append(result, fmt.Errorf("FANOUT_BATCH_SIZE must be a positive integer, got %q", val))
		} else {
			logger.Debug("Overriding config value", "key", "FANOUT_BATCH_SIZE", "source", "env")
			cfg.Fanout.BatchSize = n
		}
	}
	if val := os.Getenv("FANOUT_BATCH_DELAY"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil || d < 0 {
			result = multierror.Append(result, fmt.Errorf("FANOUT_BATCH_DELAY must be a non-negative duration, got %q", val))
		} else {
			logger.Debug("Overriding config value", "key", "FANOUT_BATCH_DELAY", "source", "env")
			cfg.Fanout.BatchDelay = d
		}
	}

	// iOS transport
	if val := os.Getenv("IOS_TRANSPORT"); val != "" {
		logger.Debug("Overriding config value", "key", "IOS_TRANSPORT", "source", "env")
		cfg.IOS.Transport = strings.ToLower(val)
	}
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.IOS.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.IOS.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.IOS.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_P8_KEY", "source", "env")
		cfg.IOS.APNS.P8Key = val
	}

	// History
	if val := os.Getenv("HISTORY_BACKEND"); val != "" {
		logger.Debug("Overriding config value", "key", "HISTORY_BACKEND", "source", "env")
		cfg.History.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("HISTORY_BOLT_PATH"); val != "" {
		cfg.History.BoltPath = val
	}
	if val := os.Getenv("HISTORY_MYSQL_DSN"); val != "" {
		cfg.History.MySQLDSN = val
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Fanout.BatchSize <= 0 {
		cfg.Fanout.BatchSize = 100
	}
	if cfg.Fanout.RecordTimeout <= 0 {
		cfg.Fanout.RecordTimeout = 5 * time.Second
	}
	if cfg.Fanout.SendTimeout <= 0 {
		cfg.Fanout.SendTimeout = 30 * time.Second
	}
	if cfg.IOS.Transport == "" {
		cfg.IOS.Transport = IOSTransportFCM
	}
	if cfg.History.Backend == "" {
		cfg.History.Backend = HistoryFirestore
	}
	if cfg.History.Location == nil {
		cfg.History.Location = time.UTC
	}
	if cfg.Registry.Collection == "" {
		cfg.Registry.Collection = "fcm_tokens"
	}
	if cfg.Registry.CacheTTL <= 0 {
		cfg.Registry.CacheTTL = time.Minute
	}
	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}
}

func validate(cfg *Config) error {
	var result *multierror.Error

	if cfg.ProjectID == "" {
		result = multierror.Append(result, errors.New("project_id is required (set via YAML or PROJECT_ID env var)"))
	}
	if cfg.SubscriptionID == "" {
		result = multierror.Append(result, errors.New("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)"))
	}
	if cfg.Fanout.BatchDelay < 0 {
		result = multierror.Append(result, errors.New("fanout.batch_delay must not be negative"))
	}

	switch cfg.IOS.Transport {
	case IOSTransportFCM:
	case IOSTransportAPNS:
		a := cfg.IOS.APNS
		if a.KeyID == "" || a.TeamID == "" || a.BundleID == "" || a.P8Key == "" {
			result = multierror.Append(result, errors.New("ios.transport=apns requires key_id, team_id, bundle_id and p8_key"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown ios.transport %q", cfg.IOS.Transport))
	}

	switch cfg.History.Backend {
	case HistoryFirestore:
	case HistoryBolt:
		if cfg.History.BoltPath == "" {
			result = multierror.Append(result, errors.New("history.backend=bolt requires history.bolt_path"))
		}
	case HistoryMySQL:
		if cfg.History.MySQLDSN == "" {
			result = multierror.Append(result, errors.New("history.backend=mysql requires history.mysql_dsn"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown history.backend %q", cfg.History.Backend))
	}

	return result.ErrorOrNil()
}
