package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/headline-goat/callgoat/internal/server"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all experiments",
	Long:  `List all experiments, newest first, with their status and totals.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withDeps(func(d server.Deps) error {
		ctx := cmd.Context()

		exps, err := d.Registry.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list experiments: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(exps) == 0 {
			fmt.Fprintln(out, "No experiments yet.")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Experiments auto-create on the first tracked event:")
			fmt.Fprintln(out, `  POST /track {"experiment":"hero","event":"view"}`)
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATUS\tVARIANTS\tVIEWS\tCONVERSIONS\tWINNER\tCREATED")

		for _, exp := range exps {
			report, err := d.Stats.GetStats(ctx, exp.Name)
			if err != nil {
				return fmt.Errorf("failed to get stats for experiment %s: %w", exp.Name, err)
			}

			totalViews, totalConversions := 0, 0
			for _, v := range report.Variants {
				totalViews += v.Views
				totalConversions += v.Conversions
			}

			winner := "-"
			if exp.WinnerVariant != nil {
				winner = *exp.WinnerVariant
			}

			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
				exp.Name,
				strings.ToUpper(string(exp.Status)),
				len(exp.Variants),
				formatNumber(totalViews),
				formatNumber(totalConversions),
				winner,
				exp.CreatedAt.Format("2006-01-02"),
			)
		}

		return w.Flush()
	})
}

func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}
