package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stagehand/internal/agentconfig"
	"github.com/ShayCichocki/stagehand/internal/detect"
	"github.com/ShayCichocki/stagehand/pkg/models"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect agent configurations",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded default and variant agent configs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			configs := append(a.agents.Defaults(), a.agents.Variants()...)
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), configs)
			}
			if len(configs) == 0 {
				defaults, variants := a.agents.Dirs()
				fmt.Fprintf(cmd.OutOrStdout(), "No agent configs in %s or %s. Run 'stagehand init'.\n", defaults, variants)
				return nil
			}
			rows := make([][]string, 0, len(configs))
			for _, c := range configs {
				kind := "default"
				if c.IsVariant() {
					kind = "variant of " + c.Extends
				}
				rows = append(rows, []string{
					c.ID, string(c.State), kind, describeMatch(c.Match),
					strings.Join(c.MCPServers, ","), fmt.Sprint(c.EffectiveMaxTurns()),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "STAGE", "KIND", "MATCH", "MCP", "TURNS"}, rows))
			return nil
		})
	},
}

var agentsSelectCmd = &cobra.Command{
	Use:   "select <stage>",
	Short: "Show which agent config would run for a stage in this repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stage, ok := models.ParseStage(args[0])
		if !ok {
			return fmt.Errorf("unknown stage %q", args[0])
		}
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			resolved, detected, err := a.selector.Select(ctx, stage, a.repoPath, detect.Context{})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"resolved":  resolved,
					"language":  detected.Language,
					"framework": detected.Framework,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render(resolved.Config.Name))
			fmt.Fprintf(out, "  Config:    %s (%s)\n", resolved.Config.ID, resolved.Config.SourcePath)
			fmt.Fprintf(out, "  Variant:   %t\n", resolved.Variant)
			fmt.Fprintf(out, "  Language:  %s\n", orUnknown(detected.Language))
			fmt.Fprintf(out, "  Framework: %s\n", orUnknown(detected.Framework))
			fmt.Fprintf(out, "  Artifact:  %s\n", resolved.ArtifactType.Label())
			fmt.Fprintf(out, "  MaxTurns:  %d\n", resolved.MaxTurns)
			if len(resolved.MCPServers) > 0 {
				fmt.Fprintf(out, "  MCP:       %s\n", strings.Join(resolved.MCPServers, ", "))
			}
			return nil
		})
	},
}

var agentsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse every agent config file and report errors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		repo, err := filepath.Abs(cfg.ResolvedRepoPath())
		if err != nil {
			return err
		}
		dirs := cfg.Agents
		dirs.Dir = inRepo(repo, dirs.Dir)

		out := cmd.OutOrStdout()
		failed := 0
		for _, dir := range []string{dirs.DefaultsDir(), dirs.VariantsDir()} {
			entries, err := os.ReadDir(dir)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return err
			}
			for _, e := range entries {
				ext := strings.ToLower(filepath.Ext(e.Name()))
				if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
					continue
				}
				path := filepath.Join(dir, e.Name())
				if _, err := agentconfig.LoadFile(path); err != nil {
					failed++
					fmt.Fprintf(out, "%s %v\n", errStyle.Render("✗"), err)
					continue
				}
				fmt.Fprintf(out, "%s %s\n", okStyle.Render("✓"), path)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d invalid agent config(s)", failed)
		}
		return nil
	},
}

func describeMatch(m *models.MatchRules) string {
	if m == nil || m.Empty() {
		return "-"
	}
	var parts []string
	if m.Language != "" {
		parts = append(parts, "lang="+m.Language)
	}
	if m.Framework != "" {
		parts = append(parts, "fw="+m.Framework)
	}
	if len(m.Files) > 0 {
		parts = append(parts, "files="+strings.Join(m.Files, ","))
	}
	return strings.Join(parts, " ")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func init() {
	agentsCmd.AddCommand(agentsListCmd, agentsSelectCmd, agentsValidateCmd)
}
