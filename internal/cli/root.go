package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/headline-goat/callgoat/internal/config"
	"github.com/headline-goat/callgoat/internal/logging"
)

var (
	configPath string
	dbPath     string

	cfg *config.Config
	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cg",
	Short: "callgoat - A/B experiments with phone call attribution",
	Long: `callgoat runs A/B experiments for a lead-generation site and ties
inbound phone calls back to the experiment variant that produced them.
Single Go binary, embedded SQLite.

Running without a subcommand starts the server (same as 'cg serve').`,
	PersistentPreRunE: loadConfig,
	RunE:              runServe, // Default action is to start server
	SilenceUsage:      true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./callgoat.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		loaded.DBPath = dbPath
	}
	cfg = loaded
	log = logging.New(cfg.Log)
	return nil
}
