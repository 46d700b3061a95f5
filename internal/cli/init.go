package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/headline-goat/callgoat/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Long: `Ask a few questions, write a starter callgoat.yaml and show how to
wire the tracking endpoints and the telephony webhook.

Example:
  cg init
  cg init --config /etc/callgoat.yaml`,
	RunE: runInit,
}

var initForce bool

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	out := config.Default()
	out.DBPath = cfg.DBPath

	p, err := promptInt("Port", out.Port)
	if err != nil {
		return err
	}
	out.Port = p

	window, err := promptInt("Call attribution window (minutes)", out.Attribution.WindowMinutes)
	if err != nil {
		return err
	}
	out.Attribution.WindowMinutes = window

	provider, err := promptProvider()
	if err != nil {
		return err
	}

	if err := out.Validate(); err != nil {
		return err
	}
	data, err := renderConfig(out)
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", configPath, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
	printIntegrationSteps(cmd.OutOrStdout(), provider, out.Port)
	return nil
}

// renderConfig marshals c as YAML, leaving the admin token out so it is
// generated at startup rather than committed.
func renderConfig(c *config.Config) ([]byte, error) {
	copied := *c
	copied.AdminToken = ""
	data, err := yaml.Marshal(&copied)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return append([]byte("# callgoat configuration. CG_* environment variables override these values.\n"), data...), nil
}

func promptInt(label string, def int) (int, error) {
	prompt := promptui.Prompt{
		Label:   label,
		Default: strconv.Itoa(def),
		Validate: func(s string) error {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil || n <= 0 {
				return errors.New("enter a positive number")
			}
			return nil
		},
	}

	result, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			os.Exit(0)
		}
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(result))
}

func promptProvider() (string, error) {
	providers := []string{
		"Form-encoded webhook (CallSid, From, To, ...)",
		"JSON webhook (call_sid, caller_phone, ...)",
	}

	prompt := promptui.Select{
		Label: "Telephony webhook format",
		Items: providers,
	}

	idx, _, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			os.Exit(0)
		}
		return "", err
	}

	if idx == 0 {
		return "form", nil
	}
	return "json", nil
}

func printIntegrationSteps(out io.Writer, provider string, port int) {
	base := fmt.Sprintf("http://localhost:%d", port)

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 60))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "1. Track experiment pages and conversions from your site")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "   fetch(\"%s/track\", {method: \"POST\", credentials: \"include\",\n", base)
	fmt.Fprintln(out, `     body: JSON.stringify({experiment: "hero", event: "view"})})`)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "2. Record call-to-action taps")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "   navigator.sendBeacon(\"%s/call-track?action=intent\",\n", base)
	fmt.Fprintln(out, `     JSON.stringify({phone: "+19045551234", page: location.pathname}))`)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "3. Point your telephony provider's call status webhook at")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "   POST %s/webhooks/call\n", base)
	if provider == "json" {
		fmt.Fprintln(out, `   {"call_sid": "...", "caller_phone": "...", "call_status": "...", "duration": 0}`)
	} else {
		fmt.Fprintln(out, "   Content-Type: application/x-www-form-urlencoded")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, strings.Repeat("-", 60))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  serve            Start the server")
	fmt.Fprintln(out, "  results <name>   Show experiment statistics")
	fmt.Fprintln(out, "  calls            Show attributed calls")
	fmt.Fprintln(out, "  token            Show admin API URL")
}
