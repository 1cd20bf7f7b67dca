package main

import (
	"context"
	"fmt"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

var (
	gateStatus   string
	gateResolver string
	gateNote     string
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Review human approval gates",
}

var gateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List gates (pending by default)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status := models.GateStatus(gateStatus)
		if status != "" && status != "all" && !status.Valid() {
			return fmt.Errorf("unknown gate status %q", gateStatus)
		}
		if status == "all" {
			status = ""
		}
		return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
			gates, err := a.engine.ListGates(ctx, status)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), gates)
			}
			if len(gates) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No gates.")
				return nil
			}
			rows := make([][]string, 0, len(gates))
			for _, g := range gates {
				rows = append(rows, []string{
					g.ID, g.Owner.String(), string(g.GateType), string(g.Status),
					formatConfidence(g.Confidence), g.Reason, formatAge(g.RequestedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "ITEM", "TYPE", "STATUS", "CONF", "REASON", "AGE"}, rows))
			return nil
		})
	},
}

func resolveGateCmd(use, short string, status models.GateStatus) *cobra.Command {
	c := &cobra.Command{
		Use:   use + " <gate-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
				g, err := a.engine.ResolveGate(ctx, args[0], status, resolverName(), gateNote)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), g)
				}
				item, err := a.engine.Item(ctx, g.Owner)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Gate %s %s; %s is now in %s\n",
					g.ID, g.Status, g.Owner, item.CurrentStage())
				return nil
			})
		},
	}
	c.Flags().StringVar(&gateResolver, "by", "", "Resolver name (default: current user)")
	c.Flags().StringVar(&gateNote, "note", "", "Resolution note")
	return c
}

// resolverName returns --by or the login name of the current user.
func resolverName() string {
	if gateResolver != "" {
		return gateResolver
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "operator"
}

func init() {
	gateListCmd.Flags().StringVar(&gateStatus, "status", string(models.GatePending), "Filter: pending, approved, rejected, skipped or all")

	gateCmd.AddCommand(gateListCmd,
		resolveGateCmd("approve", "Approve a gate and advance its item", models.GateApproved),
		resolveGateCmd("reject", "Reject a gate, leaving its item in stage", models.GateRejected),
		resolveGateCmd("skip", "Skip a gate and advance its item", models.GateSkipped),
	)
}
