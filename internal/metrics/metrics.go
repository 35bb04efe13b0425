// Package metrics exposes Prometheus metrics for the authoring server.
package metrics

import (
	"time"

	"github.com/ashureev/unfolding/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's collectors.
//
// Metrics:
//   - unfolding_chat_turns_total{stage,outcome} - chat turns by outcome
//   - unfolding_chat_turn_duration_seconds{stage} - wall time of a turn
//   - unfolding_tool_dispatches_total{tool,outcome} - tool calls by outcome
//   - unfolding_tool_duration_seconds{tool} - handler latency
//   - unfolding_compression_dropped_messages_total - history messages dropped
//   - unfolding_session_transitions_total{op,to} - lifecycle changes
//   - unfolding_active_connections - open chat sockets
type Metrics struct {
	TurnsTotal        *prometheus.CounterVec
	TurnDuration      *prometheus.HistogramVec
	ToolDispatches    *prometheus.CounterVec
	ToolDuration      *prometheus.HistogramVec
	CompressedDropped prometheus.Counter
	Transitions       *prometheus.CounterVec
	ActiveConnections prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TurnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unfolding_chat_turns_total",
				Help: "Total number of chat turns by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		TurnDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unfolding_chat_turn_duration_seconds",
				Help:    "Duration of chat turns in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
			},
			[]string{"stage"},
		),
		ToolDispatches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unfolding_tool_dispatches_total",
				Help: "Total number of tool calls dispatched by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		ToolDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unfolding_tool_duration_seconds",
				Help:    "Duration of tool handlers in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
			},
			[]string{"tool"},
		),
		CompressedDropped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "unfolding_compression_dropped_messages_total",
				Help: "Total number of history messages dropped by the compressor",
			},
		),
		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unfolding_session_transitions_total",
				Help: "Total number of session lifecycle changes",
			},
			[]string{"op", "to"},
		),
		ActiveConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "unfolding_active_connections",
				Help: "Current number of open chat connections",
			},
		),
	}
}

// ToolDispatched implements tools.DispatchObserver.
func (m *Metrics) ToolDispatched(tool, outcome string, elapsed time.Duration) {
	m.ToolDispatches.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// SessionTransition implements session.TransitionObserver.
func (m *Metrics) SessionTransition(op string, _, to domain.Stage) {
	m.Transitions.WithLabelValues(op, string(to)).Inc()
}

// TurnFinished records a completed or failed turn.
func (m *Metrics) TurnFinished(stage domain.Stage, outcome string, elapsed time.Duration) {
	m.TurnsTotal.WithLabelValues(string(stage), outcome).Inc()
	m.TurnDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}

// HistoryCompressed records messages dropped from a turn's context.
func (m *Metrics) HistoryCompressed(dropped int) {
	if dropped > 0 {
		m.CompressedDropped.Add(float64(dropped))
	}
}

// ConnectionOpened and ConnectionClosed track open chat sockets.
func (m *Metrics) ConnectionOpened() { m.ActiveConnections.Inc() }
func (m *Metrics) ConnectionClosed() { m.ActiveConnections.Dec() }
