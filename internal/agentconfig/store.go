// Package agentconfig loads default and variant agent configurations from
// YAML files and serves them from an immutable, atomically swapped snapshot.
package agentconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

// snapshot is one fully loaded view of both directories. Never mutated after build.
type snapshot struct {
	defaults []*models.AgentConfig
	variants []*models.AgentConfig
	byID     map[string]*models.AgentConfig
}

// Store caches agent configurations. Reads are lock-free; Reload swaps the
// snapshot under an exclusive mutex so concurrent reloads serialize.
type Store struct {
	defaultsDir string
	variantsDir string
	logger      *zap.Logger

	current  atomic.Pointer[snapshot]
	reloadMu sync.Mutex
}

// NewStore creates a store reading from the given directories. Nothing is
// loaded until the first read or an explicit Reload.
func NewStore(defaultsDir, variantsDir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		defaultsDir: defaultsDir,
		variantsDir: variantsDir,
		logger:      logger.Named("agentconfig"),
	}
}

// Dirs returns the defaults and variants directories.
func (s *Store) Dirs() (defaultsDir, variantsDir string) {
	return s.defaultsDir, s.variantsDir
}

// Defaults returns all default configs in load order.
func (s *Store) Defaults() []*models.AgentConfig {
	return s.load().defaults
}

// Variants returns all variant configs in load order.
func (s *Store) Variants() []*models.AgentConfig {
	return s.load().variants
}

// DefaultFor returns the first default config whose state matches stage.
func (s *Store) DefaultFor(stage models.Stage) (*models.AgentConfig, bool) {
	for _, cfg := range s.load().defaults {
		if cfg.State == stage {
			return cfg, true
		}
	}
	return nil, false
}

// VariantsFor returns the variants targeting stage, preserving load order.
func (s *Store) VariantsFor(stage models.Stage) []*models.AgentConfig {
	var out []*models.AgentConfig
	for _, cfg := range s.load().variants {
		if cfg.State == stage {
			out = append(out, cfg)
		}
	}
	return out
}

// Get looks up a default or variant by id.
func (s *Store) Get(id string) (*models.AgentConfig, bool) {
	cfg, ok := s.load().byID[id]
	return cfg, ok
}

// HasDefault reports whether stage has a default config.
func (s *Store) HasDefault(stage models.Stage) bool {
	_, ok := s.DefaultFor(stage)
	return ok
}

// Reload re-reads both directories and replaces the cached snapshot.
// Readers keep seeing the previous snapshot until the swap.
func (s *Store) Reload() {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	s.current.Store(s.build())
}

func (s *Store) load() *snapshot {
	if snap := s.current.Load(); snap != nil {
		return snap
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	if snap := s.current.Load(); snap != nil {
		return snap
	}
	snap := s.build()
	s.current.Store(snap)
	return snap
}

func (s *Store) build() *snapshot {
	snap := &snapshot{byID: make(map[string]*models.AgentConfig)}
	for _, cfg := range s.loadDir(s.defaultsDir) {
		if cfg.IsVariant() {
			s.logger.Warn("config in defaults dir extends another, loading it as a variant",
				zap.String("id", cfg.ID),
				zap.String("extends", cfg.Extends),
				zap.String("path", cfg.SourcePath))
			snap.variants = append(snap.variants, cfg)
			continue
		}
		snap.defaults = append(snap.defaults, cfg)
	}
	snap.variants = append(snap.variants, s.loadDir(s.variantsDir)...)

	seenStage := make(map[models.Stage]string)
	for _, cfg := range snap.defaults {
		if first, dup := seenStage[cfg.State]; dup {
			s.logger.Warn("duplicate default config for stage, first loaded wins",
				zap.String("stage", string(cfg.State)),
				zap.String("kept", first),
				zap.String("ignored", cfg.ID))
		} else {
			seenStage[cfg.State] = cfg.ID
		}
	}

	for _, group := range [][]*models.AgentConfig{snap.defaults, snap.variants} {
		for _, cfg := range group {
			if _, exists := snap.byID[cfg.ID]; !exists {
				snap.byID[cfg.ID] = cfg
			}
		}
	}

	s.logger.Debug("agent configs loaded",
		zap.Int("defaults", len(snap.defaults)),
		zap.Int("variants", len(snap.variants)))
	return snap
}

// loadDir parses every YAML file in dir in filename order. Unreadable or
// malformed files are logged and skipped; a missing dir yields nothing.
func (s *Store) loadDir(dir string) []*models.AgentConfig {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("read agent config dir", zap.String("dir", dir), zap.Error(err))
		}
		return nil
	}

	var configs []*models.AgentConfig
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		cfg, err := LoadFile(path)
		if err != nil {
			s.logger.Warn("skipping agent config", zap.String("path", path), zap.Error(err))
			continue
		}
		configs = append(configs, cfg)
	}
	return configs
}

// LoadFile parses and validates a single agent config file.
func LoadFile(path string) (*models.AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := &models.AgentConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	cfg.SourcePath = path
	return cfg, nil
}

func validate(cfg *models.AgentConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("missing id")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("missing name")
	}
	if cfg.State == "" {
		return fmt.Errorf("missing state")
	}
	if stage, ok := models.ParseStage(string(cfg.State)); ok {
		cfg.State = stage
	} else {
		return fmt.Errorf("unknown state %q", cfg.State)
	}
	if strings.TrimSpace(cfg.Prompt) == "" {
		return fmt.Errorf("missing prompt")
	}
	if cfg.Output != nil && cfg.Output.Type != "" && !cfg.Output.Type.Valid() {
		return fmt.Errorf("unknown output type %q", cfg.Output.Type)
	}
	return nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
