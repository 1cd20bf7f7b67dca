package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	cellStyle   = lipgloss.NewStyle().PaddingRight(1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	titleStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderTable renders rows under headers with a rounded border.
func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}

// shortID abbreviates UUIDs for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// flags renders the control flags of an item as a compact string.
func flags(a *models.AgentState) string {
	var parts []string
	if a.AssignedAgent != "" {
		parts = append(parts, okStyle.Render("running"))
	}
	if a.IsPaused {
		parts = append(parts, warnStyle.Render("paused"))
	}
	if a.PendingGate {
		parts = append(parts, warnStyle.Render("gated"))
	}
	if a.HasError {
		parts = append(parts, errStyle.Render(fmt.Sprintf("error(%d/%d)", a.RetryCount, a.MaxRetries)))
	}
	if len(parts) == 0 {
		return dimStyle.Render("-")
	}
	return strings.Join(parts, " ")
}

func formatConfidence(c *float64) string {
	if c == nil {
		return "-"
	}
	return strconv.FormatFloat(*c, 'f', 2, 64)
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// parseStageArg parses a stage argument and reports the accepted values on failure.
func parseStageArg(s string, p models.Pipeline) (models.Stage, error) {
	stage, ok := models.ParseStage(s)
	if !ok || !p.Contains(stage) {
		names := make([]string, len(p))
		for i, st := range p {
			names[i] = string(st)
		}
		return "", fmt.Errorf("unknown stage %q (expected one of %s)", s, strings.Join(names, ", "))
	}
	return stage, nil
}

// writeItemDetail prints the fields shared by tasks and backlog items.
func writeItemDetail(w io.Writer, item models.Item, description string) {
	a := item.Control()
	fmt.Fprintln(w, titleStyle.Render(item.DisplayTitle()))
	fmt.Fprintf(w, "  ID:         %s\n", item.Ref())
	fmt.Fprintf(w, "  Stage:      %s\n", item.CurrentStage().DisplayName())
	fmt.Fprintf(w, "  Status:     %s\n", flags(a))
	if a.IsPaused && a.PauseReason != "" {
		fmt.Fprintf(w, "  Paused:     %s\n", a.PauseReason)
	}
	if a.HasError {
		fmt.Fprintf(w, "  Error:      %s\n", a.ErrorMessage)
	}
	fmt.Fprintf(w, "  Confidence: %s\n", formatConfidence(a.Confidence))
	if a.RecommendedNextState != "" {
		fmt.Fprintf(w, "  Next hint:  %s\n", a.RecommendedNextState)
	}
	if a.NeedsHumanInput {
		fmt.Fprintf(w, "  Input:      %s\n", a.HumanInputReason)
	}
	if description != "" {
		fmt.Fprintf(w, "\n%s\n", description)
	}
}

// writeArtifacts prints the artifact history of an item, newest last.
func writeArtifacts(w io.Writer, artifacts []models.Artifact, full bool) {
	if len(artifacts) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", headerStyle.Render("Artifacts"))
	for _, art := range artifacts {
		fmt.Fprintf(w, "  %s  %-22s %s  conf=%s\n",
			shortID(art.ID), art.Type.Label(), art.State, formatConfidence(art.Confidence))
		if full {
			for _, line := range strings.Split(strings.TrimRight(art.Content, "\n"), "\n") {
				fmt.Fprintf(w, "      %s\n", line)
			}
		}
	}
}
