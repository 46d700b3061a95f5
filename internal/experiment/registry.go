// Package experiment implements experiment bookkeeping: the registry of
// named experiments, sticky variant assignment and event recording.
package experiment

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	apperrors "github.com/headline-goat/callgoat/internal/errors"
	"github.com/headline-goat/callgoat/internal/metrics"
	"github.com/headline-goat/callgoat/internal/store"
)

// Store is the persistence the experiment services need.
type Store interface {
	CreateExperiment(ctx context.Context, name string, variants []store.Variant) (*store.Experiment, error)
	GetOrCreateExperiment(ctx context.Context, name string, variants []store.Variant) (*store.Experiment, bool, error)
	GetExperiment(ctx context.Context, name string) (*store.Experiment, error)
	ListExperiments(ctx context.Context) ([]*store.Experiment, error)
	ListActiveExperiments(ctx context.Context) ([]*store.Experiment, error)
	SetWinner(ctx context.Context, name, variant string) error
	ResetExperiment(ctx context.Context, name string) error

	AssignIfAbsent(ctx context.Context, experiment, visitorID, variant string) (*store.Assignment, bool, error)
	GetAssignment(ctx context.Context, experiment, visitorID string) (*store.Assignment, error)
	RecordEvent(ctx context.Context, e *store.Event) (bool, error)
}

// DefaultVariants is the split given to lazily created experiments.
func DefaultVariants() []store.Variant {
	return []store.Variant{
		{Name: "A", Control: true, Weight: 50},
		{Name: "B", Weight: 50},
	}
}

// Registry stores experiment metadata.
type Registry struct {
	store   Store
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

func NewRegistry(s Store, m *metrics.Metrics, log logrus.FieldLogger) *Registry {
	return &Registry{store: s, metrics: m, log: log}
}

// GetOrCreate returns the named experiment, creating it with the default
// 50/50 A/B split on first reference. Unknown names are never an error, so a
// typo produces a new low-traffic experiment rather than dropped data.
func (r *Registry) GetOrCreate(ctx context.Context, name string) (*store.Experiment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Validation("experiment", "name is required")
	}

	exp, err := r.store.GetExperiment(ctx, name)
	if err == nil {
		return exp, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, fmt.Errorf("get experiment: %w", err)
	}

	exp, created, err := r.store.GetOrCreateExperiment(ctx, name, DefaultVariants())
	if err != nil {
		return nil, fmt.Errorf("get or create experiment: %w", err)
	}
	if created {
		r.metrics.ExperimentCreated()
		r.log.WithField("experiment", name).Info("experiment auto-created")
	}
	return exp, nil
}

// Create registers an experiment with explicit variants.
func (r *Registry) Create(ctx context.Context, name string, variants []store.Variant) (*store.Experiment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Validation("experiment", "name is required")
	}
	if err := ValidateVariants(variants); err != nil {
		return nil, err
	}

	exp, err := r.store.CreateExperiment(ctx, name, variants)
	if err != nil {
		return nil, fmt.Errorf("create experiment: %w", err)
	}
	r.metrics.ExperimentCreated()
	return exp, nil
}

// ValidateVariants requires at least two uniquely named variants with
// positive weights and exactly one control.
func ValidateVariants(variants []store.Variant) error {
	if len(variants) < 2 {
		return apperrors.Validation("variants", "at least 2 variants are required")
	}
	seen := make(map[string]bool, len(variants))
	controls := 0
	for _, v := range variants {
		if strings.TrimSpace(v.Name) == "" {
			return apperrors.Validation("variants", "variant names must not be empty")
		}
		if seen[v.Name] {
			return apperrors.Validation("variants", fmt.Sprintf("duplicate variant %q", v.Name))
		}
		seen[v.Name] = true
		if v.Weight <= 0 {
			return apperrors.Validation("variants", fmt.Sprintf("variant %q needs a positive weight", v.Name))
		}
		if v.Control {
			controls++
		}
	}
	if controls != 1 {
		return apperrors.Validation("variants", "exactly one control variant is required")
	}
	return nil
}

func (r *Registry) Get(ctx context.Context, name string) (*store.Experiment, error) {
	exp, err := r.store.GetExperiment(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get experiment: %w", err)
	}
	return exp, nil
}

// List returns all experiments, newest first.
func (r *Registry) List(ctx context.Context) ([]*store.Experiment, error) {
	exps, err := r.store.ListExperiments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return exps, nil
}

// ListActive returns active experiments ordered by creation time, newest
// first. Attribution falls back to the head of this list.
func (r *Registry) ListActive(ctx context.Context) ([]*store.Experiment, error) {
	exps, err := r.store.ListActiveExperiments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active experiments: %w", err)
	}
	return exps, nil
}

// SetWinner declares variant the winner and completes the experiment.
func (r *Registry) SetWinner(ctx context.Context, name, variant string) error {
	exp, err := r.store.GetExperiment(ctx, name)
	if err != nil {
		return fmt.Errorf("set winner: %w", err)
	}
	if !exp.HasVariant(variant) {
		return apperrors.Validation("variant", fmt.Sprintf("experiment %q has no variant %q", name, variant))
	}
	if err := r.store.SetWinner(ctx, name, variant); err != nil {
		return fmt.Errorf("set winner: %w", err)
	}
	r.log.WithFields(logrus.Fields{"experiment": name, "variant": variant}).Info("winner declared")
	return nil
}

// Reset clears assignments and counters and marks the experiment completed.
// The raw event history is archived, not deleted.
func (r *Registry) Reset(ctx context.Context, name string) error {
	if err := r.store.ResetExperiment(ctx, name); err != nil {
		return fmt.Errorf("reset experiment: %w", err)
	}
	r.log.WithField("experiment", name).Info("experiment reset")
	return nil
}
