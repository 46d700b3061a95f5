package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show the admin API URL with access token",
	Long: `Show the admin API URL with your access token.

Use this when you've scrolled past the startup message or need to
share the admin link.

Example:
  cg token`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	token := cfg.AdminToken
	if token == "" {
		data, err := os.ReadFile(tokenFilePath(cfg))
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("no server running. Start with: cg serve")
			}
			return fmt.Errorf("failed to read token file: %w", err)
		}
		token = strings.TrimSpace(string(data))
	}
	if token == "" {
		return fmt.Errorf("token file is empty. Restart the server with: cg serve")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Admin API: http://localhost:%d/api/experiments?token=%s\n", cfg.Port, token)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Or send the header: Authorization: Bearer %s\n", token)
	return nil
}
