// Package attribution ties inbound phone calls back to the web experiment
// that most plausibly produced them.
//
// The chain is a best-effort heuristic. A recent click on a phone link
// wins; failing that, the call is credited to the newest active experiment
// with no variant; failing that, it is left unattributed. The second step
// credits every otherwise unexplained call made while an experiment runs,
// including calls from existing customers, so experiment-level call counts
// overstate the experiment's effect.
package attribution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/headline-goat/callgoat/internal/errors"
	"github.com/headline-goat/callgoat/internal/metrics"
	"github.com/headline-goat/callgoat/internal/store"
)

// DefaultWindow is how far before a call a click intent may be.
const DefaultWindow = 5 * time.Minute

// Store is the persistence the attributor needs.
type Store interface {
	RecordClickIntent(ctx context.Context, ci *store.ClickIntent) error
	FindClickIntentsNear(ctx context.Context, phone string, callTime time.Time, window time.Duration) ([]*store.ClickIntent, error)
	PruneClickIntents(ctx context.Context, before time.Time) (int64, error)
	RecordOrUpdateCall(ctx context.Context, u store.CallUpdate) (*store.CallRecord, bool, error)
	SetCallAttribution(ctx context.Context, callSid string, experiment, variant *string, method string) (bool, error)
	GetCall(ctx context.Context, callSid string) (*store.CallRecord, error)
}

// Experiments lists active experiments, newest first.
type Experiments interface {
	ListActive(ctx context.Context) ([]*store.Experiment, error)
}

// CallEvent is one telephony webhook delivery.
type CallEvent struct {
	CallSid      string
	CallerPhone  string
	CalledNumber string
	CallStatus   string
	Duration     *int
	LeadID       string
	RecordingURL string
	ReceivedAt   time.Time
}

// Result is the attribution of one call.
type Result struct {
	CallSid    string  `json:"call_sid,omitempty"`
	Experiment *string `json:"ab_experiment"`
	Variant    *string `json:"ab_variant"`
	Method     string  `json:"attribution_method"`
	// Duplicate is set when the call was already attributed by an
	// earlier delivery and the stored result was returned.
	Duplicate bool `json:"duplicate"`
}

// Source renders the result as a lead source string.
func (r *Result) Source() string {
	switch {
	case r.Experiment != nil && r.Variant != nil:
		return "ab:" + *r.Experiment + ":" + *r.Variant
	case r.Experiment != nil:
		return "ab:" + *r.Experiment
	default:
		return "direct"
	}
}

// Attributor runs the attribution chain for calls.
type Attributor struct {
	store       Store
	experiments Experiments
	window      time.Duration
	metrics     *metrics.Metrics
	log         logrus.FieldLogger
	now         func() time.Time
}

type Option func(*Attributor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Attributor) { a.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Attributor) { a.metrics = m }
}

func NewAttributor(s Store, experiments Experiments, window time.Duration, log logrus.FieldLogger, opts ...Option) *Attributor {
	if window <= 0 {
		window = DefaultWindow
	}
	a := &Attributor{
		store:       s,
		experiments: experiments,
		window:      window,
		log:         log,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Window returns the click-intent lookback.
func (a *Attributor) Window() time.Duration {
	return a.window
}

// RecordClickIntent stores a click on a phone link. The phone is
// normalised so it can match the caller number of a later call.
func (a *Attributor) RecordClickIntent(ctx context.Context, ci *store.ClickIntent) error {
	ci.Phone = NormalizePhone(ci.Phone)
	ci.Experiment = strings.TrimSpace(ci.Experiment)
	ci.Variant = strings.TrimSpace(ci.Variant)
	if ci.Experiment == "" {
		return apperrors.Validation("experiment", "experiment is required")
	}
	if ci.CreatedAt.IsZero() {
		ci.CreatedAt = a.now()
	}
	if err := a.store.RecordClickIntent(ctx, ci); err != nil {
		return fmt.Errorf("record click intent: %w", err)
	}
	a.metrics.ClickIntentTracked()
	return nil
}

// Attribute records the call and attributes it. A call that already
// carries an attribution keeps it; repeated deliveries of the same call
// only refresh its mutable fields.
func (a *Attributor) Attribute(ctx context.Context, ev CallEvent) (*Result, error) {
	ev.CallSid = strings.TrimSpace(ev.CallSid)
	if ev.CallSid == "" {
		return nil, apperrors.Validation("call_sid", "call_sid is required")
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = a.now()
	}
	log := a.log.WithField("call_sid", ev.CallSid)

	rec, created, err := a.store.RecordOrUpdateCall(ctx, store.CallUpdate{
		CallSid:      ev.CallSid,
		CallerPhone:  NormalizePhone(ev.CallerPhone),
		CalledNumber: NormalizePhone(ev.CalledNumber),
		CallStatus:   ev.CallStatus,
		Duration:     ev.Duration,
		LeadID:       ev.LeadID,
		RecordingURL: ev.RecordingURL,
		ReceivedAt:   ev.ReceivedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("attribute call: %w", err)
	}

	if rec.Attributed() {
		a.metrics.WebhookDuplicate()
		log.Debug("call already attributed")
		return storedResult(rec, true), nil
	}

	// Re-deliveries that arrive before the first one finished still
	// attribute against the original receipt time.
	at := ev.ReceivedAt
	if !created {
		at = rec.CreatedAt
	}

	res, err := a.Resolve(ctx, rec.CallerPhone, at)
	if err != nil {
		return nil, fmt.Errorf("attribute call: %w", err)
	}
	res.CallSid = rec.CallSid

	applied, err := a.store.SetCallAttribution(ctx, rec.CallSid, res.Experiment, res.Variant, res.Method)
	if err != nil {
		return nil, fmt.Errorf("attribute call: %w", err)
	}
	if !applied {
		// A concurrent delivery won; report what it stored.
		a.metrics.WebhookDuplicate()
		rec, err = a.store.GetCall(ctx, rec.CallSid)
		if err != nil {
			return nil, fmt.Errorf("attribute call: %w", err)
		}
		return storedResult(rec, true), nil
	}

	a.metrics.CallAttributed(res.Method)
	log.WithFields(logrus.Fields{
		"method": res.Method,
		"source": res.Source(),
	}).Info("call attributed")
	return res, nil
}

// Resolve runs the attribution chain for a call from phone at the given
// time without recording anything.
func (a *Attributor) Resolve(ctx context.Context, phone string, at time.Time) (*Result, error) {
	intents, err := a.store.FindClickIntentsNear(ctx, NormalizePhone(phone), at, a.window)
	if err != nil {
		return nil, err
	}
	if len(intents) > 0 {
		ci := intents[0]
		res := &Result{Experiment: strPtr(ci.Experiment), Method: store.MethodClickTracking}
		if ci.Variant != "" {
			res.Variant = strPtr(ci.Variant)
		}
		return res, nil
	}

	active, err := a.experiments.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return &Result{Experiment: strPtr(active[0].Name), Method: store.MethodRecentExperiment}, nil
	}

	return &Result{Method: store.MethodNone}, nil
}

// Prune removes click intents older than age. Intents past the window can
// no longer attribute anything.
func (a *Attributor) Prune(ctx context.Context, age time.Duration) (int64, error) {
	if age < a.window {
		return 0, apperrors.Validation("older_than", fmt.Sprintf("must be at least the attribution window (%s)", a.window))
	}
	n, err := a.store.PruneClickIntents(ctx, a.now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("prune click intents: %w", err)
	}
	return n, nil
}

func storedResult(rec *store.CallRecord, duplicate bool) *Result {
	res := &Result{
		CallSid:    rec.CallSid,
		Experiment: rec.ABExperiment,
		Variant:    rec.ABVariant,
		Method:     store.MethodNone,
		Duplicate:  duplicate,
	}
	if rec.AttributionMethod != nil {
		res.Method = *rec.AttributionMethod
	}
	return res
}

func strPtr(s string) *string {
	return &s
}
