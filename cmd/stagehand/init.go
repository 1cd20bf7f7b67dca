package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stagehand/internal/config"
	"github.com/ShayCichocki/stagehand/internal/state"
)

var (
	initForce    bool
	initNoConfig bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a repository for stagehand",
	Long: `Initialize a directory for use with stagehand.

This command:
  - Creates the .stagehand directory structure
  - Scaffolds a default agent config for every agent-driven stage
  - Creates the state database
  - Writes a .stagehand.yaml template and updates .gitignore

The directory argument is optional and defaults to the current directory.

Examples:
  stagehand init              # Initialize current directory
  stagehand init ./myproject  # Initialize specific directory
  stagehand init --force      # Overwrite scaffolded agent configs`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing default agent configs")
	initCmd.Flags().BoolVar(&initNoConfig, "no-config", false, "Skip the .stagehand.yaml template")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initializing stagehand in %s...\n\n", absPath)

	defaults := config.Default()
	agents := config.AgentsConfig{Dir: filepath.Join(absPath, defaults.Agents.Dir)}
	for _, dir := range []string{agents.VariantsDir(), filepath.Join(absPath, ".stagehand", "logs")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	printStatus(out, "✓", "Created .stagehand directory structure", color.FgGreen)

	written, err := scaffoldAgents(agents.DefaultsDir(), initForce)
	if err != nil {
		return err
	}
	if len(written) > 0 {
		printStatus(out, "✓", fmt.Sprintf("Wrote %d default agent configs", len(written)), color.FgGreen)
	} else {
		printStatus(out, "✓", "Default agent configs already present", color.FgGreen)
	}

	db, err := state.Open(filepath.Join(absPath, defaults.Database.Path))
	if err != nil {
		return fmt.Errorf("creating state database: %w", err)
	}
	migrateErr := db.Migrate()
	_ = db.Close()
	if migrateErr != nil {
		return fmt.Errorf("migrating state database: %w", migrateErr)
	}
	printStatus(out, "✓", "State database ready", color.FgGreen)

	if !initNoConfig {
		created, err := createProjectConfig(absPath)
		if err != nil {
			return fmt.Errorf("creating project config: %w", err)
		}
		if created {
			printStatus(out, "✓", "Created .stagehand.yaml template", color.FgGreen)
		}
	}

	if _, err := os.Stat(filepath.Join(absPath, ".git")); err == nil {
		updated, err := updateGitignore(absPath)
		if err != nil {
			return fmt.Errorf("updating .gitignore: %w", err)
		}
		if updated {
			printStatus(out, "✓", "Updated .gitignore with stagehand entries", color.FgGreen)
		}
	}

	checkRunner(out)

	fmt.Fprintf(out, "\n%s stagehand initialization complete!\n\n", color.GreenString("✓"))
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Create work:")
	fmt.Fprintln(out, "     stagehand task create \"Add login page\"")
	fmt.Fprintln(out, "  2. Start the scheduler:")
	fmt.Fprintln(out, "     stagehand serve")
	fmt.Fprintln(out, "  3. Review gates and questions as they appear:")
	fmt.Fprintln(out, "     stagehand gate list / stagehand question list")
	return nil
}

// checkRunner reports whether the configured runner backend can start.
func checkRunner(out io.Writer) {
	cfg, err := loadConfig()
	if err != nil {
		printStatus(out, "⚠", fmt.Sprintf("Could not load config: %v", err), color.FgYellow)
		return
	}
	if cfg.Runner.Backend == "cli" {
		if _, err := exec.LookPath(cfg.Runner.ClaudePath); err != nil {
			printStatus(out, "⚠", fmt.Sprintf("%s not found in PATH", cfg.Runner.ClaudePath), color.FgYellow)
			return
		}
		printStatus(out, "✓", "claude CLI found", color.FgGreen)
		return
	}
	if err := cfg.CheckRunnerCredentials(); err != nil {
		printStatus(out, "⚠", err.Error(), color.FgYellow)
		return
	}
	printStatus(out, "✓", "Runner: "+cfg.RunnerSummary(), color.FgGreen)
}

// printStatus prints a status line with colored symbol.
func printStatus(out io.Writer, symbol, message string, c color.Attribute) {
	fmt.Fprintf(out, "%s %s\n", color.New(c).Sprint(symbol), message)
}
