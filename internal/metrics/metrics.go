// Package metrics holds the prometheus collectors for tracking and
// attribution. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	EventsTracked       *prometheus.CounterVec
	AssignmentsCreated  *prometheus.CounterVec
	ExperimentsCreated  prometheus.Counter
	CallsAttributed     *prometheus.CounterVec
	WebhookDuplicates   prometheus.Counter
	ClickIntentsTracked prometheus.Counter
	StoreRetries        *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EventsTracked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callgoat_events_tracked_total",
				Help: "Tracked experiment events by type and whether they changed a counter",
			},
			[]string{"event", "counted"},
		),
		AssignmentsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callgoat_assignments_created_total",
				Help: "New sticky visitor assignments per variant",
			},
			[]string{"variant"},
		),
		ExperimentsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callgoat_experiments_created_total",
				Help: "Experiments created, lazily or explicitly",
			},
		),
		CallsAttributed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callgoat_calls_attributed_total",
				Help: "Calls attributed, by attribution method",
			},
			[]string{"method"},
		),
		WebhookDuplicates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callgoat_webhook_duplicates_total",
				Help: "Call webhooks whose call_sid was already attributed",
			},
		),
		ClickIntentsTracked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callgoat_click_intents_total",
				Help: "Click-to-call intents recorded",
			},
		),
		StoreRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callgoat_store_retries_total",
				Help: "Store operations retried after a busy or locked database",
			},
			[]string{"op"},
		),
	}

	m.registry.MustRegister(
		m.EventsTracked,
		m.AssignmentsCreated,
		m.ExperimentsCreated,
		m.CallsAttributed,
		m.WebhookDuplicates,
		m.ClickIntentsTracked,
		m.StoreRetries,
		collectors.NewGoCollector(),
	)

	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// EventTracked counts a tracked event. Custom event names come from
// browsers, so they share the "other" label.
func (m *Metrics) EventTracked(event string, counted bool) {
	if m == nil {
		return
	}
	c := "false"
	if counted {
		c = "true"
	}
	m.EventsTracked.WithLabelValues(eventLabel(event), c).Inc()
}

func eventLabel(event string) string {
	switch event {
	case "view", "conversion":
		return event
	default:
		return "other"
	}
}

func (m *Metrics) AssignmentCreated(variant string) {
	if m == nil {
		return
	}
	m.AssignmentsCreated.WithLabelValues(variant).Inc()
}

func (m *Metrics) ExperimentCreated() {
	if m == nil {
		return
	}
	m.ExperimentsCreated.Inc()
}

func (m *Metrics) CallAttributed(method string) {
	if m == nil {
		return
	}
	m.CallsAttributed.WithLabelValues(method).Inc()
}

func (m *Metrics) WebhookDuplicate() {
	if m == nil {
		return
	}
	m.WebhookDuplicates.Inc()
}

func (m *Metrics) ClickIntentTracked() {
	if m == nil {
		return
	}
	m.ClickIntentsTracked.Inc()
}

func (m *Metrics) StoreRetried(op string) {
	if m == nil {
		return
	}
	m.StoreRetries.WithLabelValues(op).Inc()
}
