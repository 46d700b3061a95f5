package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/headline-goat/callgoat/internal/server"
)

func init() {
	rootCmd.AddCommand(newPruneCmd())
}

func newPruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete click intents too old to attribute a call",
		Long: `Delete click-to-call intents older than --older-than. Intents older
than the attribution window can no longer match a call, so this only
reclaims space.

Example:
  cg prune --older-than 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(func(d server.Deps) error {
				n, err := d.Attributor.Prune(cmd.Context(), olderThan)
				if err != nil {
					return fmt.Errorf("failed to prune click intents: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d click intents older than %s.\n", n, olderThan)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "minimum age of intents to delete")
	return cmd
}
