package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/headline-goat/callgoat/internal/server"
	"github.com/headline-goat/callgoat/internal/store"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <name>",
	Short: "Export raw event data",
	Long: `Export raw event data in CSV or JSON format, including events
archived by a reset.

Examples:
  cg export hero --format csv > hero-data.csv
  cg export hero --format json > hero-data.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv or json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withDeps(func(d server.Deps) error {
		ctx := cmd.Context()

		// Verify experiment exists
		exp, err := d.Registry.Get(ctx, args[0])
		if err != nil {
			return err
		}

		events, err := d.Store.GetEvents(ctx, exp.Name)
		if err != nil {
			return fmt.Errorf("failed to get events: %w", err)
		}

		if exportFormat == "csv" {
			return exportCSV(cmd.OutOrStdout(), events)
		}
		return exportJSON(cmd.OutOrStdout(), exp.Name, events)
	})
}

func exportCSV(out io.Writer, events []*store.Event) error {
	w := csv.NewWriter(out)

	// Write header
	if err := w.Write([]string{"timestamp", "variant", "event_type", "visitor_id", "archived", "metadata"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, e := range events {
		meta := ""
		if len(e.Metadata) > 0 {
			b, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode metadata: %w", err)
			}
			meta = string(b)
		}
		row := []string{
			strconv.FormatInt(e.CreatedAt.Unix(), 10),
			e.Variant,
			e.EventType,
			e.VisitorID,
			strconv.FormatBool(e.Archived),
			meta,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

type jsonExport struct {
	Experiment string         `json:"experiment"`
	Events     []*store.Event `json:"events"`
}

func exportJSON(out io.Writer, name string, events []*store.Event) error {
	if events == nil {
		events = []*store.Event{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(jsonExport{Experiment: name, Events: events})
}
