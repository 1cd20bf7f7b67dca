package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoAPIKey is returned when the api backend has no key and Bedrock is off.
var ErrNoAPIKey = errors.New("no Anthropic API key configured (set ANTHROPIC_API_KEY or runner.api_key)")

// CheckRunnerCredentials verifies the runner backend has what it needs to start.
// The cli backend authenticates itself and Bedrock uses the AWS credential chain.
func (c *Config) CheckRunnerCredentials() error {
	if c.Runner.Backend != "api" || c.Runner.Bedrock {
		return nil
	}
	if strings.HasPrefix(c.Runner.APIKey, "${") || c.Runner.APIKey == "" {
		return ErrNoAPIKey
	}
	return ValidateAPIKey(c.Runner.APIKey)
}

// ValidateAPIKey checks the key format without contacting the API.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}
	if !strings.HasPrefix(key, "sk-ant-") {
		return fmt.Errorf("invalid API key format: expected 'sk-ant-' prefix")
	}
	if len(key) < 20 {
		return fmt.Errorf("invalid API key format: key too short")
	}
	return nil
}

// MaskAPIKey returns the key with everything but its prefix and last 4 characters hidden.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

// RunnerSummary describes the runner backend for display.
func (c *Config) RunnerSummary() string {
	switch {
	case c.Runner.Backend == "cli":
		return fmt.Sprintf("claude cli (%s)", c.Runner.ClaudePath)
	case c.Runner.Bedrock:
		region := c.Runner.AWSRegion
		if region == "" {
			region = "default region"
		}
		return fmt.Sprintf("bedrock %s (%s)", c.Runner.Model, region)
	default:
		return fmt.Sprintf("anthropic api %s, key %s", c.Runner.Model, MaskAPIKey(c.Runner.APIKey))
	}
}
