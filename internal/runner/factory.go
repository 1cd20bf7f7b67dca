package runner

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/ShayCichocki/stagehand/internal/config"
	"github.com/ShayCichocki/stagehand/internal/pipeline"
)

// FromConfig builds the runner selected by cfg.Backend.
func FromConfig(ctx context.Context, cfg config.RunnerConfig, logger *zap.Logger) (pipeline.AgentRunner, error) {
	switch cfg.Backend {
	case "api", "":
		client, err := NewClient(ctx, ClientConfig{
			Model:      anthropic.Model(cfg.Model),
			APIKey:     cfg.APIKey,
			Bedrock:    cfg.Bedrock,
			AWSRegion:  cfg.AWSRegion,
			AWSProfile: cfg.AWSProfile,
		})
		if err != nil {
			return nil, fmt.Errorf("api runner: %w", err)
		}
		return NewAPIRunner(client, cfg.MaxTokens, logger), nil
	case "cli":
		return NewCLIRunner(cfg.ClaudePath, cfg.Model, logger), nil
	default:
		return nil, fmt.Errorf("unknown runner backend %q", cfg.Backend)
	}
}
