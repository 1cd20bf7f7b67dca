package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

var (
	backlogDescription string
	backlogAcceptance  string
	backlogPriority    int
	backlogStage       string
)

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "Create, inspect and drive backlog items",
}

var backlogCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a backlog item in the new stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			b := &models.BacklogItem{
				Title:              args[0],
				Description:        backlogDescription,
				AcceptanceCriteria: backlogAcceptance,
				Priority:           backlogPriority,
			}
			b.MaxRetries = a.cfg.Pipeline.MaxRetries
			if err := a.engine.CreateBacklogItem(ctx, b); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), b)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created backlog item %s (%s)\n", b.ID, b.State)
			return nil
		})
	},
}

var backlogShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a backlog item with its artifacts, gates and rollbacks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			return showItem(ctx, cmd, a, models.BacklogRef(args[0]))
		})
	},
}

var backlogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backlog items by priority",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			var stage models.Stage
			if backlogStage != "" {
				s, err := parseStageArg(backlogStage, models.BacklogPipeline)
				if err != nil {
					return err
				}
				stage = s
			}
			items, err := a.db.ListBacklogItems(stage)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), items)
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backlog items.")
				return nil
			}
			rows := make([][]string, 0, len(items))
			for i := range items {
				b := &items[i]
				rows = append(rows, []string{
					shortID(b.ID), b.Title, string(b.State), fmt.Sprint(b.Priority),
					fmt.Sprintf("%d/%d", b.CompletedTaskCount, b.TaskCount),
					flags(&b.AgentState), formatAge(b.CreatedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "TITLE", "STAGE", "PRI", "TASKS", "STATUS", "AGE"}, rows))
			return nil
		})
	},
}

var backlogTransitionCmd = &cobra.Command{
	Use:   "transition <id> <stage>",
	Short: "Move a backlog item to an adjacent stage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transitionItem(cmd, models.BacklogRef(args[0]), args[1])
	},
}

var backlogPauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Exclude a backlog item from scheduling",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			return a.engine.Pause(ctx, models.BacklogRef(args[0]), pauseReason)
		})
	},
}

var backlogResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a backlog item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			return a.engine.Resume(ctx, models.BacklogRef(args[0]))
		})
	},
}

var backlogRollbackCmd = &cobra.Command{
	Use:   "rollback <id>",
	Short: "Move a backlog item back one stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			rec, err := a.engine.Rollback(ctx, models.BacklogRef(args[0]), models.RollbackManual, rollbackNotes)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rolled back backlog item %s (record %s)\n", args[0], rec.ID)
			return nil
		})
	},
}

var backlogStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Dispatch the stage agent for a backlog item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return startItem(cmd, models.BacklogRef(args[0]))
	},
}

func init() {
	backlogCreateCmd.Flags().StringVarP(&backlogDescription, "description", "d", "", "Item description")
	backlogCreateCmd.Flags().StringVarP(&backlogAcceptance, "acceptance", "a", "", "Acceptance criteria")
	backlogCreateCmd.Flags().IntVarP(&backlogPriority, "priority", "p", 0, "Priority (higher runs first)")

	backlogListCmd.Flags().StringVar(&backlogStage, "stage", "", "Only items in this stage")
	backlogShowCmd.Flags().BoolVar(&showFull, "full", false, "Print artifact contents")
	backlogPauseCmd.Flags().StringVar(&pauseReason, "reason", "paused by operator", "Pause reason")
	backlogRollbackCmd.Flags().StringVar(&rollbackNotes, "notes", "", "Notes recorded with the rollback")
	backlogStartCmd.Flags().BoolVar(&startDetach, "detach", false, "Return once the agent is dispatched")

	backlogCmd.AddCommand(backlogCreateCmd, backlogShowCmd, backlogListCmd, backlogTransitionCmd,
		backlogPauseCmd, backlogResumeCmd, backlogRollbackCmd, backlogStartCmd)
}
