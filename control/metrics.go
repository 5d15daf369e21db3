// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics for the WebSocket engine, exported through Prometheus.
// Metrics implements protocol.Stats so connections report frames directly.

package control

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	core "github.com/momentics/sheets-ws/core/protocol"
)

const namespace = "sheets_ws"

// Metrics holds the engine collectors.
type Metrics struct {
	ConnectionsActive  prometheus.Gauge
	ConnectionsTotal   prometheus.Counter
	FramesReceived     *prometheus.CounterVec
	FramesSent         *prometheus.CounterVec
	Closes             *prometheus.CounterVec
	HandshakeFailures  prometheus.Counter
	PlainHTTPResponses prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is handy in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of upgraded connections currently open.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Number of completed opening handshakes.",
		}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Decoded inbound frames by opcode.",
		}, []string{"opcode"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Outbound frames queued by opcode.",
		}, []string{"opcode"}),
		Closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "closes_total",
			Help:      "Connection closures by status code.",
		}, []string{"code"}),
		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "Upgrade requests rejected before the 101 response.",
		}),
		PlainHTTPResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plain_http_responses_total",
			Help:      "Non-upgrade requests answered with the static page.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ConnectionsActive,
			m.ConnectionsTotal,
			m.FramesReceived,
			m.FramesSent,
			m.Closes,
			m.HandshakeFailures,
			m.PlainHTTPResponses,
		)
	}
	return m
}

// Opened records a completed handshake.
func (m *Metrics) Opened() {
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

// FrameReceived implements protocol.Stats.
func (m *Metrics) FrameReceived(op core.Opcode) {
	m.FramesReceived.WithLabelValues(op.String()).Inc()
}

// FrameSent implements protocol.Stats.
func (m *Metrics) FrameSent(op core.Opcode) {
	m.FramesSent.WithLabelValues(op.String()).Inc()
}

// Closed implements protocol.Stats.
func (m *Metrics) Closed(code uint16) {
	m.ConnectionsActive.Dec()
	m.Closes.WithLabelValues(strconv.Itoa(int(code))).Inc()
}
