package server

import (
	"github.com/sirupsen/logrus"

	"github.com/headline-goat/callgoat/internal/attribution"
	"github.com/headline-goat/callgoat/internal/config"
	"github.com/headline-goat/callgoat/internal/experiment"
	"github.com/headline-goat/callgoat/internal/metrics"
	"github.com/headline-goat/callgoat/internal/stats"
	"github.com/headline-goat/callgoat/internal/store"
)

// NewDeps wires the services around one store using cfg.
func NewDeps(cfg *config.Config, st *store.SQLiteStore, m *metrics.Metrics, log logrus.FieldLogger) Deps {
	registry := experiment.NewRegistry(st, m, log)
	assigner := experiment.NewAssigner(st, registry, m)

	return Deps{
		Store:      st,
		Registry:   registry,
		Assigner:   assigner,
		Recorder:   experiment.NewRecorder(st, assigner, m, log),
		Stats:      stats.NewEngine(st, cfg.Stats.ConfidenceThreshold, cfg.Stats.MinSampleSize),
		Attributor: attribution.NewAttributor(st, registry, cfg.Attribution.Window(), log, attribution.WithMetrics(m)),
		Metrics:    m,
		Log:        log,
	}
}
