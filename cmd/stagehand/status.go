package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stagehand/internal/state"
	"github.com/ShayCichocki/stagehand/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline state",
	Long: `Display the current state of both pipelines.

Shows:
  - Item counts per stage
  - The item holding the agent slot, if any
  - Pending gates and questions`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			return runStatus(ctx, cmd.OutOrStdout(), a)
		})
	},
}

// pipelineStatus is the JSON form of the status report.
type pipelineStatus struct {
	Tasks     map[models.Stage]int   `json:"tasks"`
	Backlog   map[models.Stage]int   `json:"backlog"`
	Paused    int                    `json:"paused"`
	Errored   int                    `json:"errored"`
	Lease     models.AgentLease      `json:"lease"`
	Gates     []models.HumanGate     `json:"pending_gates"`
	Questions []models.AgentQuestion `json:"pending_questions"`
	Runner    string                 `json:"runner"`
}

func runStatus(ctx context.Context, out io.Writer, a *app) error {
	st, err := collectStatus(ctx, a)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(out, st)
	}
	writeStatus(out, st)
	return nil
}

func collectStatus(ctx context.Context, a *app) (*pipelineStatus, error) {
	st := &pipelineStatus{
		Tasks:   make(map[models.Stage]int),
		Backlog: make(map[models.Stage]int),
		Runner:  a.cfg.RunnerSummary(),
	}

	tasks, err := a.db.ListTasks(state.TaskFilter{})
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		st.Tasks[tasks[i].State]++
		st.count(&tasks[i].AgentState)
	}
	items, err := a.db.ListBacklogItems("")
	if err != nil {
		return nil, err
	}
	for i := range items {
		st.Backlog[items[i].State]++
		st.count(&items[i].AgentState)
	}

	if st.Lease, err = a.db.GetLease(); err != nil {
		return nil, err
	}
	if st.Gates, err = a.engine.ListGates(ctx, models.GatePending); err != nil {
		return nil, err
	}
	if st.Questions, err = a.engine.ListQuestions(ctx, models.QuestionPending); err != nil {
		return nil, err
	}
	return st, nil
}

func (st *pipelineStatus) count(c *models.AgentState) {
	if c.IsPaused {
		st.Paused++
	}
	if c.HasError {
		st.Errored++
	}
}

func writeStatus(w io.Writer, st *pipelineStatus) {
	fmt.Fprintln(w, titleStyle.Render("Pipelines"))
	writeCounts(w, "Tasks", models.TaskPipeline, st.Tasks)
	writeCounts(w, "Backlog", models.BacklogPipeline, st.Backlog)
	if st.Paused > 0 || st.Errored > 0 {
		fmt.Fprintf(w, "  %s  %s\n",
			warnStyle.Render(fmt.Sprintf("%d paused", st.Paused)),
			errStyle.Render(fmt.Sprintf("%d with errors", st.Errored)))
	}

	fmt.Fprintf(w, "\n%s\n", titleStyle.Render("Agent slot"))
	if st.Lease.Held() {
		since := ""
		if st.Lease.AcquiredAt != nil {
			since = " for " + formatAge(*st.Lease.AcquiredAt)
		}
		fmt.Fprintf(w, "  %s %s (%s %s, pid %d)%s\n", okStyle.Render("busy:"),
			st.Lease.Owner, st.Lease.HolderKind, shortID(st.Lease.HolderID), st.Lease.PID, since)
	} else {
		fmt.Fprintf(w, "  %s\n", dimStyle.Render("free"))
	}
	fmt.Fprintf(w, "  runner: %s\n", st.Runner)

	fmt.Fprintf(w, "\n%s\n", titleStyle.Render("Waiting on you"))
	if len(st.Gates) == 0 && len(st.Questions) == 0 {
		fmt.Fprintf(w, "  %s\n", dimStyle.Render("nothing"))
		return
	}
	for _, g := range st.Gates {
		fmt.Fprintf(w, "  %s %s %s: %s\n", warnStyle.Render("gate"), g.ID, g.Owner, g.Reason)
	}
	for _, q := range st.Questions {
		fmt.Fprintf(w, "  %s %s %s: %d question(s)\n", warnStyle.Render("question"), q.ID, q.Owner, len(q.Questions))
	}
}

func writeCounts(w io.Writer, label string, p models.Pipeline, counts map[models.Stage]int) {
	fmt.Fprintf(w, "  %-8s", label)
	for _, s := range p {
		n := counts[s]
		cell := fmt.Sprintf("%s %d", s.DisplayName(), n)
		if n == 0 {
			cell = dimStyle.Render(cell)
		}
		fmt.Fprintf(w, "  %s", cell)
	}
	fmt.Fprintln(w)
}
