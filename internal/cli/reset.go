package cli

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/headline-goat/callgoat/internal/server"
)

func init() {
	rootCmd.AddCommand(newResetCmd())
}

func newResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset <name>",
		Short: "Reset an experiment's assignments and counters",
		Long: `Reset an experiment so it starts over.

Visitor assignments and view/conversion counters are deleted, any declared
winner is cleared and the experiment is marked completed. Raw events are
archived, not deleted, and still appear in 'cg export'.

Example:
  cg reset hero
  cg reset hero --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			if !yes {
				ok, err := confirm(fmt.Sprintf("Reset experiment '%s'", name))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}

			return withDeps(func(d server.Deps) error {
				if err := d.Registry.Reset(cmd.Context(), name); err != nil {
					return fmt.Errorf("failed to reset experiment: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Experiment '%s' reset.\n", name)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

// confirm asks a yes/no question. Answering no is not an error.
func confirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}

	_, err := prompt.Run()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, promptui.ErrAbort), errors.Is(err, promptui.ErrInterrupt):
		return false, nil
	default:
		return false, err
	}
}
