package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stagehand/internal/state"
	"github.com/ShayCichocki/stagehand/pkg/models"
)

var (
	taskDescription string
	taskPriority    int
	taskMaxRetries  int
	taskStage       string
	taskBacklogID   string
	showFull        bool
	pauseReason     string
	rollbackNotes   string
	startDetach     bool
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, inspect and drive tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a task in the backlog stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			t := &models.Task{
				Title:       args[0],
				Description: taskDescription,
				Priority:    taskPriority,
				BacklogID:   taskBacklogID,
			}
			t.MaxRetries = taskMaxRetries
			if t.MaxRetries == 0 {
				t.MaxRetries = a.cfg.Pipeline.MaxRetries
			}
			if taskStage != "" {
				stage, err := parseStageArg(taskStage, models.TaskPipeline)
				if err != nil {
					return err
				}
				t.State = stage
			}
			if err := a.engine.CreateTask(ctx, t); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), t)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created task %s (%s)\n", t.ID, t.State)
			return nil
		})
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task with its artifacts, gates and rollbacks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			return showItem(ctx, cmd, a, models.TaskRef(args[0]))
		})
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks by priority",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			filter := state.TaskFilter{BacklogID: taskBacklogID}
			if taskStage != "" {
				stage, err := parseStageArg(taskStage, models.TaskPipeline)
				if err != nil {
					return err
				}
				filter.State = stage
			}
			tasks, err := a.db.ListTasks(filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), tasks)
			}
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
				return nil
			}
			rows := make([][]string, 0, len(tasks))
			for i := range tasks {
				t := &tasks[i]
				rows = append(rows, []string{
					shortID(t.ID), t.Title, string(t.State), fmt.Sprint(t.Priority),
					flags(&t.AgentState), formatConfidence(t.Confidence), formatAge(t.CreatedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "TITLE", "STAGE", "PRI", "STATUS", "CONF", "AGE"}, rows))
			return nil
		})
	},
}

var taskTransitionCmd = &cobra.Command{
	Use:   "transition <id> <stage>",
	Short: "Move a task to an adjacent stage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transitionItem(cmd, models.TaskRef(args[0]), args[1])
	},
}

var taskPauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Exclude a task from scheduling",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			if err := a.engine.Pause(ctx, models.TaskRef(args[0]), pauseReason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Paused task %s\n", args[0])
			return nil
		})
	},
}

var taskResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a task, clearing its error and retry count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			if err := a.engine.Resume(ctx, models.TaskRef(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resumed task %s\n", args[0])
			return nil
		})
	},
}

var taskRollbackCmd = &cobra.Command{
	Use:   "rollback <id>",
	Short: "Move a task back one stage, recording an audit snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			rec, err := a.engine.Rollback(ctx, models.TaskRef(args[0]), models.RollbackManual, rollbackNotes)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), rec)
			}
			item, err := a.engine.Item(ctx, models.TaskRef(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rolled back task %s to %s (record %s)\n",
				args[0], item.CurrentStage(), rec.ID)
			return nil
		})
	},
}

var taskStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Dispatch the stage agent for a task and wait for it to finish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return startItem(cmd, models.TaskRef(args[0]))
	},
}

var taskAbortCmd = &cobra.Command{
	Use:   "abort <id>",
	Short: "Abort the agent running for a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			if err := a.engine.AbortAgent(ctx, models.TaskRef(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Aborted agent for task %s\n", args[0])
			return nil
		})
	},
}

func init() {
	taskCreateCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "Task description")
	taskCreateCmd.Flags().IntVarP(&taskPriority, "priority", "p", 0, "Priority (higher runs first)")
	taskCreateCmd.Flags().IntVar(&taskMaxRetries, "max-retries", 0, "Retry ceiling before auto-pause (default pipeline.max_retries)")
	taskCreateCmd.Flags().StringVar(&taskStage, "stage", "", "Initial stage (default backlog)")
	taskCreateCmd.Flags().StringVar(&taskBacklogID, "backlog", "", "Parent backlog item ID")

	taskListCmd.Flags().StringVar(&taskStage, "stage", "", "Only tasks in this stage")
	taskListCmd.Flags().StringVar(&taskBacklogID, "backlog", "", "Only tasks split from this backlog item")

	taskShowCmd.Flags().BoolVar(&showFull, "full", false, "Print artifact contents")
	taskPauseCmd.Flags().StringVar(&pauseReason, "reason", "paused by operator", "Pause reason")
	taskRollbackCmd.Flags().StringVar(&rollbackNotes, "notes", "", "Notes recorded with the rollback")
	taskStartCmd.Flags().BoolVar(&startDetach, "detach", false, "Return once the agent is dispatched")

	taskCmd.AddCommand(taskCreateCmd, taskShowCmd, taskListCmd, taskTransitionCmd,
		taskPauseCmd, taskResumeCmd, taskRollbackCmd, taskStartCmd, taskAbortCmd)
}

// transitionItem applies a manual stage transition.
func transitionItem(cmd *cobra.Command, ref models.ItemRef, stageArg string) error {
	target, err := parseStageArg(stageArg, models.PipelineFor(ref.Kind))
	if err != nil {
		return err
	}
	return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
		if err := a.engine.Transition(ctx, ref, target); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Moved %s to %s\n", ref, target)
		return nil
	})
}

// startItem dispatches the agent for ref. Unless detached it waits for the run
// to complete; an interrupt cancels the run.
func startItem(cmd *cobra.Command, ref models.ItemRef) error {
	return withApp(cmd, appOptions{runner: true}, func(ctx context.Context, a *app) error {
		runID, err := a.engine.StartAgent(ctx, ref)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Started run %s for %s\n", runID, ref)
		if startDetach {
			return nil
		}

		done := make(chan struct{})
		go func() {
			a.engine.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.engine.Shutdown()
			return ctx.Err()
		}

		item, err := a.engine.Item(context.Background(), ref)
		if err != nil {
			return err
		}
		writeItemDetail(cmd.OutOrStdout(), item, "")
		return nil
	})
}

// showItem prints an item with its artifacts, pending gates and rollbacks.
func showItem(ctx context.Context, cmd *cobra.Command, a *app, ref models.ItemRef) error {
	item, err := a.engine.Item(ctx, ref)
	if err != nil {
		return err
	}
	artifacts, err := a.db.ListArtifacts(ref)
	if err != nil {
		return err
	}
	gates, err := a.db.PendingGatesFor(ref)
	if err != nil {
		return err
	}
	rollbacks, err := a.db.ListRollbacks(ref)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{
			"item":      item,
			"artifacts": artifacts,
			"gates":     gates,
			"rollbacks": rollbacks,
		})
	}

	var description string
	switch it := item.(type) {
	case *models.Task:
		description = it.Description
	case *models.BacklogItem:
		description = it.Description
		if it.AcceptanceCriteria != "" {
			description += "\n\nAcceptance criteria:\n" + it.AcceptanceCriteria
		}
		description += fmt.Sprintf("\n\nTasks: %d/%d complete, refinement iteration %d",
			it.CompletedTaskCount, it.TaskCount, it.RefinementIteration)
	}
	writeItemDetail(out, item, description)
	writeArtifacts(out, artifacts, showFull)

	if len(gates) > 0 {
		fmt.Fprintf(out, "\n%s\n", headerStyle.Render("Pending gates"))
		for _, g := range gates {
			fmt.Fprintf(out, "  %s  %s  %s\n", g.ID, g.GateType, g.Reason)
		}
	}
	if len(rollbacks) > 0 {
		fmt.Fprintf(out, "\n%s\n", headerStyle.Render("Rollbacks"))
		for _, r := range rollbacks {
			fmt.Fprintf(out, "  %s  %s  %s  %s\n", shortID(r.ID), r.Trigger, formatAge(r.CreatedAt), r.Notes)
		}
	}
	return nil
}
