package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/headline-goat/callgoat/internal/metrics"
	"github.com/headline-goat/callgoat/internal/server"
)

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the callgoat HTTP server.

The server provides:
  - /track and /variant for browser experiment events
  - /call-track?action=intent for click-to-call intents
  - /webhooks/call for telephony call lifecycle webhooks
  - /api/... admin endpoints (token protected)
  - /health and /metrics

Example:
  cg serve --port 8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if port != 0 {
		cfg.Port = port
	}

	m := metrics.New()
	s, err := openStore(cfg, m)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, server.NewDeps(cfg, s, m, log), tokenFilePath(cfg))
	log.WithField("db", s.Path()).WithField("port", cfg.Port).Info("server starting")
	return srv.Start(ctx)
}
