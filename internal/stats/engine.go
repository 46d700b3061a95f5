// Package stats computes per-variant conversion statistics and the
// significance of the best challenger against the control.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/headline-goat/callgoat/internal/store"
)

// Store is the read access the engine needs.
type Store interface {
	GetExperiment(ctx context.Context, name string) (*store.Experiment, error)
	GetVariantCounters(ctx context.Context, experiment string) ([]store.VariantCounter, error)
}

// VariantStats is one row of a report.
type VariantStats struct {
	Name           string  `json:"name"`
	Views          int     `json:"views"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	IsControl      bool    `json:"is_control"`
	CILower        float64 `json:"ci_lower"`
	CIUpper        float64 `json:"ci_upper"`
}

// Report is the computed view of an experiment. Confidence 0 and a nil
// Winner both mean "insufficient data", never an error.
type Report struct {
	Experiment     string                 `json:"experiment"`
	Status         store.ExperimentStatus `json:"status"`
	Variants       []VariantStats         `json:"variants"`
	Confidence     float64                `json:"confidence"`
	ZScore         float64                `json:"z_score"`
	Challenger     *string                `json:"challenger"`
	Winner         *string                `json:"winner"`
	DeclaredWinner *string                `json:"declared_winner"`
	ResetAt        *time.Time             `json:"reset_at,omitempty"`
}

// Control returns the control row, or nil if the report has none.
func (r *Report) Control() *VariantStats {
	for i := range r.Variants {
		if r.Variants[i].IsControl {
			return &r.Variants[i]
		}
	}
	return nil
}

// Engine computes reports on read. It holds no state between calls.
type Engine struct {
	store     Store
	threshold float64
	minSample int
}

// NewEngine returns an engine that declares a winner at threshold percent
// confidence and reports zero confidence while either compared variant
// has fewer than minSample views.
func NewEngine(s Store, threshold float64, minSample int) *Engine {
	return &Engine{store: s, threshold: threshold, minSample: minSample}
}

// GetStats builds the report for experiment.
func (e *Engine) GetStats(ctx context.Context, experiment string) (*Report, error) {
	exp, err := e.store.GetExperiment(ctx, experiment)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	counters, err := e.store.GetVariantCounters(ctx, exp.Name)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return e.Analyze(exp, counters), nil
}

// Analyze turns raw counters into a report. Variants keep the
// experiment's declaration order; counters for variants no longer
// declared are appended so no recorded traffic is hidden.
func (e *Engine) Analyze(exp *store.Experiment, counters []store.VariantCounter) *Report {
	byName := make(map[string]store.VariantCounter, len(counters))
	for _, c := range counters {
		byName[c.Variant] = c
	}

	control := exp.Control().Name
	report := &Report{
		Experiment:     exp.Name,
		Status:         exp.Status,
		DeclaredWinner: exp.WinnerVariant,
		ResetAt:        exp.ResetAt,
		Variants:       make([]VariantStats, 0, len(exp.Variants)),
	}

	for _, v := range exp.Variants {
		report.Variants = append(report.Variants, newVariantStats(v.Name, v.Name == control, byName[v.Name]))
		delete(byName, v.Name)
	}
	for _, c := range counters {
		if _, orphan := byName[c.Variant]; orphan {
			report.Variants = append(report.Variants, newVariantStats(c.Variant, false, c))
		}
	}

	ctrl := report.Control()
	best := bestChallenger(report.Variants)
	if ctrl == nil || best == nil {
		return report
	}
	name := best.Name
	report.Challenger = &name

	if ctrl.Views < e.minSample || best.Views < e.minSample {
		return report
	}
	z, ok := TwoProportionZ(ctrl.Conversions, ctrl.Views, best.Conversions, best.Views)
	if !ok {
		return report
	}
	report.ZScore = z
	report.Confidence = Confidence(z)

	if report.Confidence >= e.threshold && best.ConversionRate > ctrl.ConversionRate {
		report.Winner = &name
	}
	return report
}

func newVariantStats(name string, control bool, c store.VariantCounter) VariantStats {
	vs := VariantStats{
		Name:        name,
		Views:       c.Views,
		Conversions: c.Conversions,
		IsControl:   control,
	}
	if c.Views > 0 {
		vs.ConversionRate = float64(c.Conversions) / float64(c.Views)
	}
	vs.CILower, vs.CIUpper = WilsonInterval(c.Conversions, c.Views, z95)
	return vs
}

// bestChallenger picks the non-control variant with the highest rate.
// Ties go to the earlier variant.
func bestChallenger(variants []VariantStats) *VariantStats {
	var best *VariantStats
	for i := range variants {
		v := &variants[i]
		if v.IsControl {
			continue
		}
		if best == nil || v.ConversionRate > best.ConversionRate {
			best = v
		}
	}
	return best
}
