package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/headline-goat/callgoat/internal/server"
	"github.com/headline-goat/callgoat/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		variants string
		control  string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an experiment with explicit variants",
		Long: `Create an experiment with the specified variants and weights.

Experiments also auto-create with an A/B 50/50 split the first time a
visitor is tracked, so this is only needed for other splits.

Each variant is name or name:weight (default weight 1). The first variant
is the control unless --control names another.

Examples:
  cg create hero --variants "A,B"
  cg create pricing --variants "control:2,short:1,long:1"
  cg create cta --variants "call_now,book_online" --control book_online`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseVariants(variants, control)
			if err != nil {
				return err
			}

			return withDeps(func(d server.Deps) error {
				exp, err := d.Registry.Create(cmd.Context(), args[0], parsed)
				if err != nil {
					return fmt.Errorf("failed to create experiment: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created experiment '%s' with %d variants:\n", exp.Name, len(exp.Variants))
				for _, v := range exp.Variants {
					marker := ""
					if v.Control {
						marker = " (control)"
					}
					fmt.Fprintf(out, "  %s  weight %g%s\n", v.Name, v.Weight, marker)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated variants, name or name:weight (required)")
	cmd.Flags().StringVar(&control, "control", "", "control variant name (default: first variant)")
	cmd.MarkFlagRequired("variants")

	return cmd
}

// parseVariants turns "a:2,b" into variants. Validation beyond syntax is
// left to the registry.
func parseVariants(spec, control string) ([]store.Variant, error) {
	var out []store.Variant
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v := store.Variant{Name: part, Weight: 1}
		if name, weight, ok := strings.Cut(part, ":"); ok {
			w, err := strconv.ParseFloat(strings.TrimSpace(weight), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid weight for variant %q: %s", name, weight)
			}
			v = store.Variant{Name: strings.TrimSpace(name), Weight: w}
		}
		out = append(out, v)
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("need at least 2 variants. Example: --variants \"A,B\"")
	}

	if control == "" {
		control = out[0].Name
	}
	found := false
	for i := range out {
		if out[i].Name == control {
			out[i].Control = true
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("control variant %q is not in --variants", control)
	}
	return out, nil
}
