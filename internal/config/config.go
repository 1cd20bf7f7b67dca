// Package config handles configuration loading and management for stagehand.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for stagehand.
type Config struct {
	Agents   AgentsConfig   `mapstructure:"agents"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

// AgentsConfig locates the agent configuration directories.
type AgentsConfig struct {
	// Dir contains the defaults/ and variants/ subdirectories.
	Dir string `mapstructure:"dir"`
	// Watch enables reloading when config files change.
	Watch bool `mapstructure:"watch"`
}

// DefaultsDir returns the directory holding default agent configs.
func (a AgentsConfig) DefaultsDir() string { return filepath.Join(a.Dir, "defaults") }

// VariantsDir returns the directory holding variant agent configs.
func (a AgentsConfig) VariantsDir() string { return filepath.Join(a.Dir, "variants") }

// PipelineConfig holds scheduling and gating policy.
type PipelineConfig struct {
	// ConfidenceThreshold gates artifacts scoring below it (0.0-1.0).
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	// MaxRetries is the default retry ceiling for new items.
	MaxRetries int `mapstructure:"max_retries"`
	// PollInterval is how often the scheduler looks for work.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// QuestionTimeout bounds how long an agent question stays pending.
	QuestionTimeout time.Duration `mapstructure:"question_timeout"`
	// RepoPath is the repository agents work in. Empty means the working directory.
	RepoPath string `mapstructure:"repo_path"`
}

// RunnerConfig selects and configures the agent runner backend.
type RunnerConfig struct {
	// Backend is "api" (Anthropic SDK) or "cli" (claude subprocess).
	Backend   string `mapstructure:"backend"`
	Model     string `mapstructure:"model"`
	MaxTokens int64  `mapstructure:"max_tokens"`
	APIKey    string `mapstructure:"api_key"`
	// Bedrock routes API calls through AWS Bedrock.
	Bedrock    bool   `mapstructure:"bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
	// ClaudePath is the claude CLI binary used by the cli backend.
	ClaudePath string `mapstructure:"claude_path"`
}

// DatabaseConfig locates the SQLite state database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig configures event push. An empty URL disables it.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (STAGEHAND_*, ANTHROPIC_API_KEY)
// 2. Project config (.stagehand.yaml in current directory or parent)
// 3. User config (~/.config/stagehand/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

// Save writes cfg to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))

	v.Set("agents.dir", cfg.Agents.Dir)
	v.Set("agents.watch", cfg.Agents.Watch)
	v.Set("pipeline.confidence_threshold", cfg.Pipeline.ConfidenceThreshold)
	v.Set("pipeline.max_retries", cfg.Pipeline.MaxRetries)
	v.Set("pipeline.poll_interval", cfg.Pipeline.PollInterval.String())
	v.Set("pipeline.question_timeout", cfg.Pipeline.QuestionTimeout.String())
	v.Set("pipeline.repo_path", cfg.Pipeline.RepoPath)
	v.Set("runner.backend", cfg.Runner.Backend)
	v.Set("runner.model", cfg.Runner.Model)
	v.Set("runner.max_tokens", cfg.Runner.MaxTokens)
	v.Set("runner.bedrock", cfg.Runner.Bedrock)
	v.Set("runner.aws_region", cfg.Runner.AWSRegion)
	v.Set("runner.aws_profile", cfg.Runner.AWSProfile)
	v.Set("runner.claude_path", cfg.Runner.ClaudePath)
	v.Set("database.path", cfg.Database.Path)
	v.Set("nats.url", cfg.NATS.URL)
	v.Set("nats.subject_prefix", cfg.NATS.SubjectPrefix)
	v.Set("metrics.addr", cfg.Metrics.Addr)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.format", cfg.Log.Format)
	v.Set("log.file", cfg.Log.File)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// Validate checks values the engine depends on.
func (c *Config) Validate() error {
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return fmt.Errorf("pipeline.confidence_threshold must be within [0,1], got %v", c.Pipeline.ConfidenceThreshold)
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must be non-negative, got %d", c.Pipeline.MaxRetries)
	}
	if c.Pipeline.PollInterval <= 0 {
		return fmt.Errorf("pipeline.poll_interval must be positive, got %v", c.Pipeline.PollInterval)
	}
	switch c.Runner.Backend {
	case "api", "cli":
	default:
		return fmt.Errorf("runner.backend must be \"api\" or \"cli\", got %q", c.Runner.Backend)
	}
	return nil
}

// ResolvedRepoPath returns the configured repository path or the working directory.
func (c *Config) ResolvedRepoPath() string {
	if c.Pipeline.RepoPath != "" {
		return c.Pipeline.RepoPath
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STAGEHAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("runner.api_key", "STAGEHAND_RUNNER_API_KEY", "ANTHROPIC_API_KEY")

	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Runner.APIKey = os.ExpandEnv(cfg.Runner.APIKey)
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("agents.dir", d.Agents.Dir)
	v.SetDefault("agents.watch", d.Agents.Watch)

	v.SetDefault("pipeline.confidence_threshold", d.Pipeline.ConfidenceThreshold)
	v.SetDefault("pipeline.max_retries", d.Pipeline.MaxRetries)
	v.SetDefault("pipeline.poll_interval", d.Pipeline.PollInterval.String())
	v.SetDefault("pipeline.question_timeout", d.Pipeline.QuestionTimeout.String())
	v.SetDefault("pipeline.repo_path", "")

	v.SetDefault("runner.backend", d.Runner.Backend)
	v.SetDefault("runner.model", d.Runner.Model)
	v.SetDefault("runner.max_tokens", d.Runner.MaxTokens)
	v.SetDefault("runner.api_key", "")
	v.SetDefault("runner.bedrock", false)
	v.SetDefault("runner.aws_region", "")
	v.SetDefault("runner.aws_profile", "")
	v.SetDefault("runner.claude_path", d.Runner.ClaudePath)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", d.NATS.SubjectPrefix)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", "")
}

// getUserConfigDir returns the XDG config directory for stagehand.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "stagehand")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "stagehand")
	}
	return filepath.Join(home, ".config", "stagehand")
}

// findProjectConfig searches for .stagehand.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".stagehand.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Dir:   filepath.Join(".stagehand", "agents"),
			Watch: true,
		},
		Pipeline: PipelineConfig{
			ConfidenceThreshold: 0.7,
			MaxRetries:          3,
			PollInterval:        5 * time.Second,
			QuestionTimeout:     30 * time.Minute,
		},
		Runner: RunnerConfig{
			Backend:    "api",
			Model:      "claude-sonnet-4-20250514",
			MaxTokens:  8192,
			ClaudePath: "claude",
		},
		Database: DatabaseConfig{
			Path: filepath.Join(".stagehand", "state.db"),
		},
		NATS: NATSConfig{
			SubjectPrefix: "stagehand",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
