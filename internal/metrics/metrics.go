// ABOUTME: Prometheus collectors for room workers, intents and proposals
// ABOUTME: A nil *Metrics is valid and records nothing

// Package metrics holds the bot's Prometheus collectors on a private
// registry served by the ops endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "toolbot"

// Metrics groups the collectors. Methods on a nil receiver are no-ops so
// tests and replay can run without a registry.
type Metrics struct {
	registry *prometheus.Registry

	events       *prometheus.CounterVec
	intents      *prometheus.CounterVec
	proposals    *prometheus.CounterVec
	collaborator *prometheus.HistogramVec
	rooms        prometheus.Gauge
	queueDepth   prometheus.Gauge
}

// New registers all collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events ingested by room workers, by kind and result.",
		}, []string{"kind", "result"}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_total",
			Help:      "Outbound intents dispatched, by type and outcome.",
		}, []string{"type", "outcome"}),
		proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposal_transitions_total",
			Help:      "Proposal state transitions, by kind and new status.",
		}, []string{"kind", "status"}),
		collaborator: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_seconds",
			Help:      "Latency of language model and executor calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"collaborator", "outcome"}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Rooms with a running worker.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_events",
			Help:      "Events waiting in room worker queues.",
		}),
	}

	m.registry.MustRegister(
		m.events,
		m.intents,
		m.proposals,
		m.collaborator,
		m.rooms,
		m.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Event counts one ingested event.
func (m *Metrics) Event(kind, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, result).Inc()
}

// Intent counts one dispatched intent.
func (m *Metrics) Intent(typ string, err error) {
	if m == nil {
		return
	}
	m.intents.WithLabelValues(typ, outcome(err)).Inc()
}

// Proposal counts one proposal transition.
func (m *Metrics) Proposal(kind, status string) {
	if m == nil {
		return
	}
	m.proposals.WithLabelValues(kind, status).Inc()
}

// Collaborator observes the latency of an external call.
func (m *Metrics) Collaborator(name string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.collaborator.WithLabelValues(name, outcome(err)).Observe(time.Since(started).Seconds())
}

// RoomStarted increments the active room gauge.
func (m *Metrics) RoomStarted() {
	if m == nil {
		return
	}
	m.rooms.Inc()
}

// RoomStopped decrements the active room gauge.
func (m *Metrics) RoomStopped() {
	if m == nil {
		return
	}
	m.rooms.Dec()
}

// Queued adjusts the queued event gauge by delta.
func (m *Metrics) Queued(delta int) {
	if m == nil {
		return
	}
	m.queueDepth.Add(float64(delta))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
