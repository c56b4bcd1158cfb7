package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's Prometheus collectors. Each Server owns
// its own registry so tests can run many servers in one process.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	sessionsDropped prometheus.Counter
	messagesTotal   *prometheus.CounterVec
	broadcastFanout prometheus.Histogram
	wsErrors        *prometheus.CounterVec
}

// NewMetrics builds the collector set under the given namespace.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live WebSocket sessions",
		}),

		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of WebSocket sessions accepted",
		}),

		sessionsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_dropped_total",
			Help:      "Sessions closed by the hub because their send buffer was full",
		}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages by type and dispatch status",
		}, []string{"type", "status"}),

		broadcastFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_fanout",
			Help:      "Number of sessions each broadcast was delivered to",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),

		wsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_errors_total",
			Help:      "WebSocket errors by kind",
		}, []string{"kind"}),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordSessionOpen counts an accepted connection.
func (m *Metrics) RecordSessionOpen() {
	m.activeSessions.Inc()
	m.sessionsTotal.Inc()
}

// RecordSessionClose counts a finished connection.
func (m *Metrics) RecordSessionClose() {
	m.activeSessions.Dec()
}

// RecordSessionDropped counts a session dropped for falling behind.
func (m *Metrics) RecordSessionDropped() {
	m.sessionsDropped.Inc()
}

// RecordMessage counts one inbound dispatch.
func (m *Metrics) RecordMessage(msgType, status string) {
	m.messagesTotal.WithLabelValues(msgType, status).Inc()
}

// RecordBroadcast observes one fan-out.
func (m *Metrics) RecordBroadcast(delivered int) {
	m.broadcastFanout.Observe(float64(delivered))
}

// RecordWebSocketError counts a transport error.
func (m *Metrics) RecordWebSocketError(kind string) {
	m.wsErrors.WithLabelValues(kind).Inc()
}
