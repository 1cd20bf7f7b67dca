package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath string
	repoFlag   string
	logLevel   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "Pipeline orchestration for AI coding agents",
	Long: `Stagehand moves tasks and backlog items through staged pipelines,
dispatching one AI agent at a time per stage and gating low-confidence
results for human review.

Task pipeline:    backlog → research → planning → implementing →
                  simplifying → verifying → reviewing → pr_ready
Backlog pipeline: new → refining → ready → splitting → executing → done

Run 'stagehand init' to scaffold a repository, then 'stagehand serve'
to start the scheduler.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user config merged with .stagehand.yaml)")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "Repository path (overrides pipeline.repo_path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(backlogCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(questionCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// withApp builds the engine stack, runs fn and tears the stack down.
func withApp(cmd *cobra.Command, opts appOptions, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	return fn(ctx, a)
}
