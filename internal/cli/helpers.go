package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/headline-goat/callgoat/internal/config"
	"github.com/headline-goat/callgoat/internal/metrics"
	"github.com/headline-goat/callgoat/internal/server"
	"github.com/headline-goat/callgoat/internal/store"
)

func openStore(c *config.Config, m *metrics.Metrics) (*store.SQLiteStore, error) {
	s, err := store.OpenWithOptions(c.DBPath, store.Options{
		BusyTimeout:     time.Duration(c.Store.BusyTimeoutMs) * time.Millisecond,
		RetryMaxElapsed: time.Duration(c.Store.RetryMaxElapsedMs) * time.Millisecond,
		MaxOpenConns:    c.Store.MaxOpenConnections,
		Metrics:         m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return s, nil
}

// withDeps opens the database, wires the services, executes the function,
// and handles cleanup.
func withDeps(fn func(server.Deps) error) error {
	m := metrics.New()
	s, err := openStore(cfg, m)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(server.NewDeps(cfg, s, m, log))
}

// tokenFilePath returns the token file kept alongside the database.
func tokenFilePath(c *config.Config) string {
	return filepath.Join(filepath.Dir(c.DBPath), ".callgoat-token")
}
