package experiment

import (
	"context"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	apperrors "github.com/headline-goat/callgoat/internal/errors"
	"github.com/headline-goat/callgoat/internal/metrics"
	"github.com/headline-goat/callgoat/internal/store"
)

// Assignment is the sticky variant a visitor sees.
type Assignment struct {
	Experiment string
	Variant    string
	IsNew      bool
}

// Assigner buckets visitors into variants.
type Assigner struct {
	store    Store
	registry *Registry
	metrics  *metrics.Metrics
}

func NewAssigner(s Store, registry *Registry, m *metrics.Metrics) *Assigner {
	return &Assigner{store: s, registry: registry, metrics: m}
}

// GetVariant returns the visitor's variant, drawing and persisting one on
// first contact. Concurrent first contacts converge on whichever insert
// landed first; losers return the stored variant, not their own draw.
func (a *Assigner) GetVariant(ctx context.Context, experiment, visitorID string) (*Assignment, error) {
	if strings.TrimSpace(visitorID) == "" {
		return nil, apperrors.Validation("visitor_id", "visitor id is required")
	}

	exp, err := a.registry.GetOrCreate(ctx, experiment)
	if err != nil {
		return nil, err
	}

	existing, err := a.store.GetAssignment(ctx, exp.Name, visitorID)
	if err == nil {
		return &Assignment{Experiment: exp.Name, Variant: existing.Variant}, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, fmt.Errorf("get assignment: %w", err)
	}

	draw := Pick(exp.Variants, visitorID, exp.Name)
	stored, created, err := a.store.AssignIfAbsent(ctx, exp.Name, visitorID, draw)
	if err != nil {
		return nil, fmt.Errorf("assign variant: %w", err)
	}
	if created {
		a.metrics.AssignmentCreated(stored.Variant)
	}

	return &Assignment{Experiment: exp.Name, Variant: stored.Variant, IsNew: created}, nil
}

const bucketResolution = 1_000_000

// Pick maps visitorID deterministically onto the weighted variants. The
// same visitor and experiment always land in the same bucket, and distinct
// visitors spread in proportion to the weights.
func Pick(variants []store.Variant, visitorID, experiment string) string {
	if len(variants) == 0 {
		return ""
	}

	var total float64
	for _, v := range variants {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	if total <= 0 {
		return variants[0].Name
	}

	h := xxhash.Sum64String(visitorID + ":" + experiment)
	point := float64(h%bucketResolution) / bucketResolution * total

	last := variants[0].Name
	for _, v := range variants {
		if v.Weight <= 0 {
			continue
		}
		last = v.Name
		point -= v.Weight
		if point < 0 {
			return v.Name
		}
	}
	return last
}
