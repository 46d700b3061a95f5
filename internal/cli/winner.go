package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/headline-goat/callgoat/internal/server"
)

func init() {
	rootCmd.AddCommand(newWinnerCmd())
}

func newWinnerCmd() *cobra.Command {
	var variant string

	cmd := &cobra.Command{
		Use:   "winner <name>",
		Short: "Declare a winner for an experiment",
		Long: `Declare a winning variant for an experiment and complete it.

Completed experiments no longer receive fallback call attribution.

Example:
  cg winner hero --variant B`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(func(d server.Deps) error {
				if err := d.Registry.SetWinner(cmd.Context(), args[0], variant); err != nil {
					return fmt.Errorf("failed to set winner: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Declared winner for experiment '%s': variant \"%s\"\n", args[0], variant)
				fmt.Fprintln(out, "Experiment has been marked as completed.")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variant, "variant", "v", "", "winning variant name (required)")
	cmd.MarkFlagRequired("variant")

	return cmd
}
