// Package metrics provides the Prometheus collectors of the meetings server.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Broadcast kinds
const (
	KindText   = "text"
	KindBinary = "binary"
)

// Metrics contains all Prometheus metrics related to meetings and live votings.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	LiveConnections   prometheus.Gauge
	VotesCast         prometheus.Counter
	Broadcasts        *prometheus.CounterVec
	BroadcastFailures prometheus.Counter
	Transitions       *prometheus.CounterVec
}

// New creates the metrics and registers them on the given registry.
// It returns an error if metric registration fails.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		LiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meetings_live_connections",
			Help: "Number of live-status connections currently registered",
		}),
		VotesCast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meetings_votes_cast_total",
			Help: "Total number of committed votes",
		}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetings_broadcasts_total",
			Help: "Total number of messages pushed to live connections",
		}, []string{"kind"}),
		BroadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meetings_broadcast_failures_total",
			Help: "Total number of failed sends to live connections",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetings_transitions_total",
			Help: "Total number of meeting and voting lifecycle transitions",
		}, []string{"transition"}),
	}

	collectors := []prometheus.Collector{
		m.LiveConnections, m.VotesCast, m.Broadcasts, m.BroadcastFailures, m.Transitions,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register meetings metrics: %w", err)
		}
	}

	return m, nil
}

// ConnectionOpened increments the live connection gauge
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.LiveConnections.Inc()
}

// ConnectionClosed decrements the live connection gauge
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.LiveConnections.Dec()
}

// VoteCast counts a committed vote
func (m *Metrics) VoteCast() {
	if m == nil {
		return
	}
	m.VotesCast.Inc()
}

// BroadcastSent counts one delivered push of the given kind
func (m *Metrics) BroadcastSent(kind string) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(kind).Inc()
}

// BroadcastFailed counts one failed push
func (m *Metrics) BroadcastFailed() {
	if m == nil {
		return
	}
	m.BroadcastFailures.Inc()
}

// Transition counts a lifecycle transition such as "meeting_begin" or "voting_close"
func (m *Metrics) Transition(name string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(name).Inc()
}
