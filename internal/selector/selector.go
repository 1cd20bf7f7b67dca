// Package selector picks the agent configuration for a stage, preferring a
// variant whose match rules fit the repository over the stage default.
package selector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/stagehand/internal/detect"
	"github.com/ShayCichocki/stagehand/pkg/models"
)

// ErrNoDefaultConfig is returned when a stage has no default agent config.
var ErrNoDefaultConfig = errors.New("no default agent config for stage")

// ConfigSource provides agent configs by stage.
type ConfigSource interface {
	DefaultFor(stage models.Stage) (*models.AgentConfig, bool)
	VariantsFor(stage models.Stage) []*models.AgentConfig
}

// ContextDetector provides repository signals.
type ContextDetector interface {
	Detect(repoPath string, cached detect.Context) detect.Context
	FilesPresent(repoPath string, patterns []string) bool
}

// Selector resolves agent configs.
type Selector struct {
	configs  ConfigSource
	detector ContextDetector
	logger   *zap.Logger
}

// New creates a selector.
func New(configs ConfigSource, detector ContextDetector, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{configs: configs, detector: detector, logger: logger.Named("selector")}
}

// Select returns the resolved config for stage along with the detected context.
// Only the pieces of cached that are empty are detected. The returned Prompt
// is the unrendered template.
func (s *Selector) Select(ctx context.Context, stage models.Stage, repoPath string, cached detect.Context) (*models.ResolvedAgentConfig, detect.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, cached, err
	}

	def, ok := s.configs.DefaultFor(stage)
	if !ok {
		return nil, cached, fmt.Errorf("%w: %s", ErrNoDefaultConfig, stage)
	}

	detected := s.detector.Detect(repoPath, cached)

	chosen := def
	var reason string
	for _, v := range s.configs.VariantsFor(stage) {
		if r, ok := s.matches(v, repoPath, detected); ok {
			chosen = v
			reason = r
			break
		}
	}

	resolved := &models.ResolvedAgentConfig{
		Config:       chosen,
		Prompt:       chosen.Prompt,
		MaxTurns:     chosen.EffectiveMaxTurns(),
		ArtifactType: chosen.ExpectedArtifactType(),
		Variant:      chosen != def,
	}
	if resolved.Variant {
		resolved.MCPServers = MergeServers(chosen.MCPServers, def.MCPServers)
	} else {
		resolved.MCPServers = append([]string(nil), def.MCPServers...)
	}

	s.logger.Debug("agent selected",
		zap.String("stage", string(stage)),
		zap.String("config", chosen.ID),
		zap.Bool("variant", resolved.Variant),
		zap.String("match", reason),
		zap.String("language", detected.Language),
		zap.String("framework", detected.Framework))

	return resolved, detected, nil
}

// matches applies a variant's rules in precedence order: framework, language, files.
func (s *Selector) matches(v *models.AgentConfig, repoPath string, c detect.Context) (string, bool) {
	if v.Match == nil || v.Match.Empty() {
		return "", false
	}
	m := v.Match
	if m.Framework != "" && c.Framework != "" && strings.EqualFold(m.Framework, c.Framework) {
		return "framework", true
	}
	if m.Language != "" && c.Language != "" && strings.EqualFold(m.Language, c.Language) {
		return "language", true
	}
	if len(m.Files) > 0 && s.detector.FilesPresent(repoPath, m.Files) {
		return "files", true
	}
	return "", false
}

// MergeServers returns primary followed by any fallback entries not already
// present, without duplicates.
func MergeServers(primary, fallback []string) []string {
	seen := make(map[string]bool, len(primary)+len(fallback))
	out := make([]string, 0, len(primary)+len(fallback))
	for _, list := range [][]string{primary, fallback} {
		for _, name := range list {
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
