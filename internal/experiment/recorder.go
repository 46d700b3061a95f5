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

// TrackResult reports what a tracked event did.
type TrackResult struct {
	Experiment    string
	Variant       string
	EventType     string
	NewAssignment bool
	Counted       bool
}

// Recorder records view, conversion and custom events.
type Recorder struct {
	store    Store
	assigner *Assigner
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
}

func NewRecorder(s Store, assigner *Assigner, m *metrics.Metrics, log logrus.FieldLogger) *Recorder {
	return &Recorder{store: s, assigner: assigner, metrics: m, log: log}
}

// Track records eventType for the visitor against their assigned variant,
// enrolling the visitor (and creating the experiment) if needed. Views
// always increment the counter; only the visitor's first conversion does.
// Other event types are stored without touching counters. "convert" is
// accepted as a synonym for "conversion".
func (r *Recorder) Track(ctx context.Context, experiment, eventType, visitorID string, metadata map[string]any) (*TrackResult, error) {
	experiment = strings.TrimSpace(experiment)
	eventType = strings.ToLower(strings.TrimSpace(eventType))
	if eventType == "convert" {
		eventType = store.EventConversion
	}

	if experiment == "" {
		return nil, apperrors.Validation("experiment", "experiment is required")
	}
	if eventType == "" {
		return nil, apperrors.Validation("event", "event type is required")
	}
	if strings.TrimSpace(visitorID) == "" {
		return nil, apperrors.Validation("visitor_id", "visitor id is required")
	}

	assignment, err := r.assigner.GetVariant(ctx, experiment, visitorID)
	if err != nil {
		return nil, fmt.Errorf("track event: %w", err)
	}

	counted, err := r.store.RecordEvent(ctx, &store.Event{
		Experiment: assignment.Experiment,
		Variant:    assignment.Variant,
		EventType:  eventType,
		VisitorID:  visitorID,
		Metadata:   metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("track event: %w", err)
	}

	r.metrics.EventTracked(eventType, counted)
	if eventType == store.EventConversion && !counted {
		r.log.WithFields(logrus.Fields{
			"experiment": assignment.Experiment,
			"visitor_id": visitorID,
		}).Debug("repeat conversion ignored")
	}

	return &TrackResult{
		Experiment:    assignment.Experiment,
		Variant:       assignment.Variant,
		EventType:     eventType,
		NewAssignment: assignment.IsNew,
		Counted:       counted,
	}, nil
}
