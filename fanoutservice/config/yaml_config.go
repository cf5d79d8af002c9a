// --- File: fanoutservice/config/yaml_config.go ---
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const DefaultBatchDelay = 500 * time.Millisecond

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// Durations are Go duration strings ("500ms", "5s").
type YamlFanoutConfig struct {
	BatchSize     int    `yaml:"batch_size"`
	BatchDelay    string `yaml:"batch_delay"`
	RecordTimeout string `yaml:"record_timeout"`
	SendTimeout   string `yaml:"send_timeout"`
}

type YamlAPNSConfig struct {
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	BundleID   string `yaml:"bundle_id"`
	P8Key      string `yaml:"p8_key"`
	Production bool   `yaml:"production"`
}

type YamlIOSConfig struct {
	Transport string         `yaml:"transport"`
	APNS      YamlAPNSConfig `yaml:"apns"`
}

type YamlHistoryConfig struct {
	Backend  string `yaml:"backend"`
	BoltPath string `yaml:"bolt_path"`
	MySQLDSN string `yaml:"mysql_dsn"`
	Timezone string `yaml:"timezone"`
}

type YamlRegistryConfig struct {
	Collection string `yaml:"collection"`
	CacheTTL   string `yaml:"cache_ttl"`
	LocalCache bool   `yaml:"local_cache"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string             `yaml:"project_id"`
	ListenAddr             string             `yaml:"listen_addr"`
	TopicID                string             `yaml:"topic_id"`
	SubscriptionID         string             `yaml:"subscription_id"`
	SubscriptionDLQTopicID string             `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig     `yaml:"cors"`
	RedisConfig            YamlRedisConfig    `yaml:"redis"`
	Fanout                 YamlFanoutConfig   `yaml:"fanout"`
	IOS                    YamlIOSConfig      `yaml:"ios"`
	History                YamlHistoryConfig  `yaml:"history"`
	Registry               YamlRegistryConfig `yaml:"registry"`
	NumPipelineWorkers     int                `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	var result *multierror.Error
	duration := func(key, raw string, def time.Duration) time.Duration {
		if raw == "" {
			return def
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", key, err))
			return def
		}
		return d
	}

	loc := time.UTC
	if tz := baseCfg.History.Timezone; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("history.timezone: %w", err))
		} else {
			loc = l
		}
	}

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Fanout: FanoutConfig{
			BatchSize:     baseCfg.Fanout.BatchSize,
			BatchDelay:    duration("fanout.batch_delay", baseCfg.Fanout.BatchDelay, DefaultBatchDelay),
			RecordTimeout: duration("fanout.record_timeout", baseCfg.Fanout.RecordTimeout, 0),
			SendTimeout:   duration("fanout.send_timeout", baseCfg.Fanout.SendTimeout, 0),
		},
		IOS: IOSConfig{
			Transport: baseCfg.IOS.Transport,
			APNS: APNSConfig{
				KeyID:      baseCfg.IOS.APNS.KeyID,
				TeamID:     baseCfg.IOS.APNS.TeamID,
				BundleID:   baseCfg.IOS.APNS.BundleID,
				P8Key:      baseCfg.IOS.APNS.P8Key,
				Production: baseCfg.IOS.APNS.Production,
			},
		},
		History: HistoryConfig{
			Backend:  baseCfg.History.Backend,
			BoltPath: baseCfg.History.BoltPath,
			MySQLDSN: baseCfg.History.MySQLDSN,
			Location: loc,
		},
		Registry: RegistryConfig{
			Collection: baseCfg.Registry.Collection,
			CacheTTL:   duration("registry.cache_ttl", baseCfg.Registry.CacheTTL, 0),
			LocalCache: baseCfg.Registry.LocalCache,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"history_backend", cfg.History.Backend,
		"ios_transport", cfg.IOS.Transport,
	)

	return cfg, nil
}
