package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/stagehand/internal/config"
)

func TestConfigValues(t *testing.T) {
	cfg := config.Default()

	tests := []struct {
		key, value string
		check      func(t *testing.T, c *config.Config)
	}{
		{"pipeline.confidence_threshold", "0.85", func(t *testing.T, c *config.Config) {
			assert.InDelta(t, 0.85, c.Pipeline.ConfidenceThreshold, 1e-9)
		}},
		{"pipeline.max_retries", "5", func(t *testing.T, c *config.Config) {
			assert.Equal(t, 5, c.Pipeline.MaxRetries)
		}},
		{"pipeline.poll_interval", "10s", func(t *testing.T, c *config.Config) {
			assert.Equal(t, 10*time.Second, c.Pipeline.PollInterval)
		}},
		{"agents.watch", "false", func(t *testing.T, c *config.Config) {
			assert.False(t, c.Agents.Watch)
		}},
		{"RUNNER.BACKEND", "cli", func(t *testing.T, c *config.Config) {
			assert.Equal(t, "cli", c.Runner.Backend)
		}},
		{"runner.max_tokens", "4096", func(t *testing.T, c *config.Config) {
			assert.Equal(t, int64(4096), c.Runner.MaxTokens)
		}},
		{"nats.url", "nats://localhost:4222", func(t *testing.T, c *config.Config) {
			assert.Equal(t, "nats://localhost:4222", c.NATS.URL)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			require.NoError(t, setConfigValue(cfg, tt.key, tt.value))
			tt.check(t, cfg)
			got, err := getConfigValue(cfg, tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestConfigValues_Errors(t *testing.T) {
	cfg := config.Default()

	_, err := getConfigValue(cfg, "nope.key")
	assert.Error(t, err)
	assert.Error(t, setConfigValue(cfg, "nope.key", "x"))
	assert.Error(t, setConfigValue(cfg, "pipeline.max_retries", "many"))
	assert.Error(t, setConfigValue(cfg, "pipeline.poll_interval", "soon"))
	assert.Error(t, setConfigValue(cfg, "agents.watch", "maybe"))
	assert.Error(t, setConfigValue(cfg, "runner.api_key", "not-a-key"))
}

func TestConfigValues_MasksAPIKey(t *testing.T) {
	cfg := config.Default()
	got, err := getConfigValue(cfg, "runner.api_key")
	require.NoError(t, err)
	assert.Equal(t, "(not set)", got)

	require.NoError(t, setConfigValue(cfg, "runner.api_key", "sk-ant-REDACTED"))
	got, err = getConfigValue(cfg, "runner.api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-...mnop", got)
}

func TestConfigKeysSorted(t *testing.T) {
	keys := configKeys()
	assert.Len(t, keys, len(configFields))
	assert.IsNonDecreasing(t, keys)
}
