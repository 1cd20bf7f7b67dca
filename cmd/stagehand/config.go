package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stagehand/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify stagehand configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/stagehand/config.yaml
Project-specific overrides can be placed in .stagehand.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		out := cmd.OutOrStdout()
		switch len(args) {
		case 0:
			for _, key := range configKeys() {
				value, _ := getConfigValue(cfg, key)
				fmt.Fprintf(out, "%s: %s\n", key, value)
			}
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, value)
		default:
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			fmt.Fprintf(out, "Set %s = %s\n", args[0], args[1])
		}
		return nil
	},
}

// configField reads and writes one dot-notation key.
type configField struct {
	get func(*config.Config) string
	set func(*config.Config, string) error
}

func stringField(ptr func(*config.Config) *string) configField {
	return configField{
		get: func(c *config.Config) string { return *ptr(c) },
		set: func(c *config.Config, v string) error { *ptr(c) = v; return nil },
	}
}

func boolField(ptr func(*config.Config) *bool) configField {
	return configField{
		get: func(c *config.Config) string { return strconv.FormatBool(*ptr(c)) },
		set: func(c *config.Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean %q: %w", v, err)
			}
			*ptr(c) = b
			return nil
		},
	}
}

func durationField(ptr func(*config.Config) *time.Duration) configField {
	return configField{
		get: func(c *config.Config) string { return ptr(c).String() },
		set: func(c *config.Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", v, err)
			}
			*ptr(c) = d
			return nil
		},
	}
}

var configFields = map[string]configField{
	"agents.dir":   stringField(func(c *config.Config) *string { return &c.Agents.Dir }),
	"agents.watch": boolField(func(c *config.Config) *bool { return &c.Agents.Watch }),
	"pipeline.confidence_threshold": {
		get: func(c *config.Config) string {
			return strconv.FormatFloat(c.Pipeline.ConfidenceThreshold, 'f', -1, 64)
		},
		set: func(c *config.Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid number %q: %w", v, err)
			}
			c.Pipeline.ConfidenceThreshold = f
			return nil
		},
	},
	"pipeline.max_retries": {
		get: func(c *config.Config) string { return strconv.Itoa(c.Pipeline.MaxRetries) },
		set: func(c *config.Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid integer %q: %w", v, err)
			}
			c.Pipeline.MaxRetries = n
			return nil
		},
	},
	"pipeline.poll_interval":    durationField(func(c *config.Config) *time.Duration { return &c.Pipeline.PollInterval }),
	"pipeline.question_timeout": durationField(func(c *config.Config) *time.Duration { return &c.Pipeline.QuestionTimeout }),
	"pipeline.repo_path":        stringField(func(c *config.Config) *string { return &c.Pipeline.RepoPath }),
	"runner.backend":            stringField(func(c *config.Config) *string { return &c.Runner.Backend }),
	"runner.model":              stringField(func(c *config.Config) *string { return &c.Runner.Model }),
	"runner.max_tokens": {
		get: func(c *config.Config) string { return strconv.FormatInt(c.Runner.MaxTokens, 10) },
		set: func(c *config.Config, v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer %q: %w", v, err)
			}
			c.Runner.MaxTokens = n
			return nil
		},
	},
	"runner.api_key": {
		get: func(c *config.Config) string {
			if c.Runner.APIKey == "" {
				return "(not set)"
			}
			return config.MaskAPIKey(c.Runner.APIKey)
		},
		set: func(c *config.Config, v string) error {
			if err := config.ValidateAPIKey(v); err != nil {
				return err
			}
			c.Runner.APIKey = v
			return nil
		},
	},
	"runner.bedrock":        boolField(func(c *config.Config) *bool { return &c.Runner.Bedrock }),
	"runner.aws_region":     stringField(func(c *config.Config) *string { return &c.Runner.AWSRegion }),
	"runner.aws_profile":    stringField(func(c *config.Config) *string { return &c.Runner.AWSProfile }),
	"runner.claude_path":    stringField(func(c *config.Config) *string { return &c.Runner.ClaudePath }),
	"database.path":         stringField(func(c *config.Config) *string { return &c.Database.Path }),
	"nats.url":              stringField(func(c *config.Config) *string { return &c.NATS.URL }),
	"nats.subject_prefix":   stringField(func(c *config.Config) *string { return &c.NATS.SubjectPrefix }),
	"metrics.addr":          stringField(func(c *config.Config) *string { return &c.Metrics.Addr }),
	"log.level":             stringField(func(c *config.Config) *string { return &c.Log.Level }),
	"log.format":            stringField(func(c *config.Config) *string { return &c.Log.Format }),
	"log.file":              stringField(func(c *config.Config) *string { return &c.Log.File }),
}

// configKeys returns every known key in sorted order.
func configKeys() []string {
	keys := make([]string, 0, len(configFields))
	for k := range configFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	f, ok := configFields[strings.ToLower(key)]
	if !ok {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
	return f.get(cfg), nil
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	f, ok := configFields[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err := f.set(cfg, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}
