// --- File: fanoutservice/config/yaml_config_test.go ---
package config_test

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-fanout-service/fanoutservice/config"
)

func TestNewConfigFromYaml(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - maps all fields correctly", func(t *testing.T) {
		raw := `
project_id: yaml-project
listen_addr: ":9000"
topic_id: yaml-topic
subscription_id: yaml-subscription
subscription_dlq_topic_id: yaml-dlq
num_pipeline_workers: 5
cors:
  allowed_origins: ["http://yaml.com"]
  role: editor
fanout:
  batch_size: 25
  batch_delay: 0s
  record_timeout: 2s
ios:
  transport: apns
  apns:
    key_id: KEY
    team_id: TEAM
    bundle_id: com.example.app
    p8_key: secret
    production: true
history:
  backend: bolt
  bolt_path: /var/lib/fanout/history.db
  timezone: Asia/Seoul
registry:
  cache_ttl: 30s
  local_cache: true
`
		var yamlCfg config.YamlConfig
		require.NoError(t, yaml.Unmarshal([]byte(raw), &yamlCfg))

		cfg, err := config.NewConfigFromYaml(&yamlCfg, logger)

		require.NoError(t, err)
		require.NotNil(t, cfg)

		// 1. Direct Field Mapping
		assert.Equal(t, "yaml-project", cfg.ProjectID)
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.Equal(t, "yaml-topic", cfg.TopicID)
		assert.Equal(t, "yaml-subscription", cfg.SubscriptionID)
		assert.Equal(t, "yaml-dlq", cfg.SubscriptionDLQTopicID)
		assert.Equal(t, 5, cfg.NumPipelineWorkers)

		// 2. CORS
		assert.Equal(t, []string{"http://yaml.com"}, cfg.CorsConfig.AllowedOrigins)
		assert.Equal(t, middleware.CorsRoleEditor, cfg.CorsConfig.Role)

		// 3. Fan-out pacing, explicit zero delay kept
		assert.Equal(t, 25, cfg.Fanout.BatchSize)
		assert.Equal(t, time.Duration(0), cfg.Fanout.BatchDelay)
		assert.Equal(t, 2*time.Second, cfg.Fanout.RecordTimeout)

		// 4. Backends
		assert.Equal(t, config.IOSTransportAPNS, cfg.IOS.Transport)
		assert.True(t, cfg.IOS.APNS.Production)
		assert.Equal(t, "com.example.app", cfg.IOS.APNS.BundleID)
		assert.Equal(t, config.HistoryBolt, cfg.History.Backend)
		assert.Equal(t, "Asia/Seoul", cfg.History.Location.String())
		assert.Equal(t, 30*time.Second, cfg.Registry.CacheTTL)
		assert.True(t, cfg.Registry.LocalCache)

		assert.NotNil(t, cfg.PubsubConsumerConfig)
	})

	t.Run("Success - Handles missing optional fields gracefully", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ProjectID:      "minimal-project",
			SubscriptionID: "minimal-sub",
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		assert.Equal(t, "minimal-project", cfg.ProjectID)
		assert.Equal(t, 0, cfg.NumPipelineWorkers)
		assert.Empty(t, cfg.ListenAddr)
		assert.Equal(t, config.DefaultBatchDelay, cfg.Fanout.BatchDelay)
		assert.Equal(t, time.UTC, cfg.History.Location)
	})

	t.Run("Failure - bad durations are collected", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			Fanout:   config.YamlFanoutConfig{BatchDelay: "soon"},
			Registry: config.YamlRegistryConfig{CacheTTL: "forever"},
		}

		_, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "fanout.batch_delay")
		assert.Contains(t, err.Error(), "registry.cache_ttl")
	})
}
