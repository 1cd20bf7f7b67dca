package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

var questionStatus string

var questionCmd = &cobra.Command{
	Use:   "question",
	Short: "Answer questions raised by running agents",
}

var questionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List questions (pending by default)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status := models.QuestionStatus(questionStatus)
		if status == "all" {
			status = ""
		}
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			qs, err := a.engine.ListQuestions(ctx, status)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), qs)
			}
			if len(qs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No questions.")
				return nil
			}
			out := cmd.OutOrStdout()
			for _, q := range qs {
				fmt.Fprintf(out, "%s  %s  %s  %s\n", titleStyle.Render(q.ID), q.Owner, q.Status, formatAge(q.RequestedAt))
				for _, item := range q.Questions {
					fmt.Fprintf(out, "  [%s] %s\n", headerStyle.Render(item.Header), item.Prompt)
					for _, opt := range item.Options {
						if opt.Description != "" {
							fmt.Fprintf(out, "      - %s %s\n", opt.Label, dimStyle.Render(opt.Description))
						} else {
							fmt.Fprintf(out, "      - %s\n", opt.Label)
						}
					}
					if answer, ok := q.Answers[item.Header]; ok {
						fmt.Fprintf(out, "      %s %s\n", okStyle.Render("answer:"), answer)
					}
				}
			}
			return nil
		})
	},
}

var questionAnswerCmd = &cobra.Command{
	Use:   "answer <question-id> <header=answer>...",
	Short: "Answer a pending question",
	Long: `Answer a pending question. Each answer is keyed by the header of the
question it responds to:

  stagehand question answer 3f2a... "Database=PostgreSQL" "Auth=OAuth"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		answers, err := parseAnswers(args[1:])
		if err != nil {
			return err
		}
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			if err := a.engine.AnswerQuestion(ctx, args[0], answers); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Answered question %s\n", args[0])
			return nil
		})
	},
}

var questionCancelCmd = &cobra.Command{
	Use:   "cancel <question-id>",
	Short: "Withdraw a pending question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			return a.engine.CancelQuestion(ctx, args[0])
		})
	},
}

// parseAnswers splits header=answer pairs.
func parseAnswers(pairs []string) (map[string]string, error) {
	answers := make(map[string]string, len(pairs))
	for _, p := range pairs {
		header, answer, ok := strings.Cut(p, "=")
		header = strings.TrimSpace(header)
		if !ok || header == "" {
			return nil, fmt.Errorf("answer %q must be header=answer", p)
		}
		answers[header] = strings.TrimSpace(answer)
	}
	return answers, nil
}

func init() {
	questionListCmd.Flags().StringVar(&questionStatus, "status", string(models.QuestionPending), "Filter: pending, answered, timeout, cancelled or all")
	questionCmd.AddCommand(questionListCmd, questionAnswerCmd, questionCancelCmd)
}
