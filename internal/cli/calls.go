package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/headline-goat/callgoat/internal/attribution"
	"github.com/headline-goat/callgoat/internal/server"
)

func init() {
	rootCmd.AddCommand(newCallsCmd())
}

func newCallsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "calls",
		Short: "List recent calls and their attribution",
		Long: `List the most recent calls with the experiment and variant each was
attributed to, and how.

Example:
  cg calls --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(func(d server.Deps) error {
				calls, err := d.Store.ListCalls(cmd.Context(), limit)
				if err != nil {
					return fmt.Errorf("failed to list calls: %w", err)
				}

				out := cmd.OutOrStdout()
				if len(calls) == 0 {
					fmt.Fprintln(out, "No calls yet.")
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "CALL SID\tCALLER\tSTATUS\tDURATION\tMETHOD\tSOURCE\tRECEIVED")
				for _, rec := range calls {
					method := "-"
					if rec.AttributionMethod != nil {
						method = *rec.AttributionMethod
					}
					res := attribution.Result{Experiment: rec.ABExperiment, Variant: rec.ABVariant}

					fmt.Fprintf(w, "%s\t%s\t%s\t%ds\t%s\t%s\t%s\n",
						rec.CallSid,
						valueOr(rec.CallerPhone, "unknown"),
						valueOr(rec.CallStatus, "-"),
						rec.Duration,
						method,
						res.Source(),
						rec.CreatedAt.Format("2006-01-02 15:04"),
					)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of calls to show")
	return cmd
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
