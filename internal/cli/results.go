package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/headline-goat/callgoat/internal/server"
	"github.com/headline-goat/callgoat/internal/stats"
)

var resultsCmd = &cobra.Command{
	Use:   "results <name>",
	Short: "Show detailed results for an experiment",
	Long:  `Show conversion rates, 95% Wilson intervals and the confidence that the best challenger beats control.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	return withDeps(func(d server.Deps) error {
		report, err := d.Stats.GetStats(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get results: %w", err)
		}
		printReport(cmd.OutOrStdout(), report, cfg.Stats.ConfidenceThreshold)
		return nil
	})
}

func printReport(out io.Writer, report *stats.Report, threshold float64) {
	fmt.Fprintf(out, "EXPERIMENT: %s\n", report.Experiment)
	fmt.Fprintf(out, "STATUS: %s\n", report.Status)
	if report.DeclaredWinner != nil {
		fmt.Fprintf(out, "DECLARED WINNER: %s\n", *report.DeclaredWinner)
	}
	if report.ResetAt != nil {
		fmt.Fprintf(out, "RESET: %s\n", report.ResetAt.Format("2006-01-02 15:04"))
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "VARIANT           VIEWS    CONVERSIONS  RATE     95% CI")
	fmt.Fprintln(out, strings.Repeat("─", 60))

	for _, v := range report.Variants {
		indicator := ""
		switch {
		case v.IsControl:
			indicator = " (control)"
		case report.Challenger != nil && *report.Challenger == v.Name:
			indicator = " ← CHALLENGER"
		}

		ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower*100, v.CIUpper*100)
		if v.Views == 0 {
			ciStr = "N/A"
		}

		// Truncate name if too long
		name := v.Name
		if len(name) > 16 {
			name = name[:13] + "..."
		}

		fmt.Fprintf(out, "%-16s  %-7d  %-11d  %-7s  %s%s\n",
			name,
			v.Views,
			v.Conversions,
			formatPercent(v.ConversionRate),
			ciStr,
			indicator,
		)
	}

	fmt.Fprintln(out)

	switch {
	case report.Winner != nil:
		fmt.Fprintf(out, "Statistical significance: %.1f%% confident \"%s\" beats control (z = %.2f)\n",
			report.Confidence, *report.Winner, report.ZScore)
	case report.Confidence >= threshold:
		fmt.Fprintf(out, "Statistical significance: %.1f%% confident, but control is ahead\n", report.Confidence)
	case report.Confidence > 0:
		fmt.Fprintf(out, "Statistical significance: %.1f%% (below %.0f%%, not yet significant)\n", report.Confidence, threshold)
	default:
		fmt.Fprintln(out, "Statistical significance: Not enough data to determine a winner")
	}
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
