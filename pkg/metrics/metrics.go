// Package metrics instruments the client with Prometheus meters.
// Every method is safe on a nil *Metrics, which disables instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the client registry and meters.
type Metrics struct {
	Registry *prometheus.Registry

	received        *prometheus.CounterVec
	sent            *prometheus.CounterVec
	malformed       prometheus.Counter
	pending         prometheus.Gauge
	connectionState prometheus.Gauge
	requestDuration *prometheus.HistogramVec
	handlerPanics   prometheus.Counter
}

// New creates a dedicated registry with the leap meters registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leap_messages_received_total",
			Help: "Inbound messages by dispatch outcome.",
		}, []string{"outcome"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leap_messages_sent_total",
			Help: "Outbound messages by communique type.",
		}, []string{"communique_type"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leap_malformed_messages_total",
			Help: "Inbound lines that could not be parsed.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leap_pending_entries",
			Help: "Pending one-shot and subscription entries.",
		}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leap_connection_state",
			Help: "Connection state (0 disconnected, 1 connecting, 2 handshake, 3 connected, 4 closing).",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leap_request_duration_seconds",
			Help:    "Time from request write to response.",
			Buckets: prometheus.DefBuckets,
		}, []string{"communique_type", "status"}),
		handlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leap_handler_panics_total",
			Help: "Recovered subscription handler panics.",
		}),
	}

	reg.MustRegister(m.received, m.sent, m.malformed, m.pending, m.connectionState, m.requestDuration, m.handlerPanics)
	return m
}

// Received counts an inbound message by dispatch outcome.
func (m *Metrics) Received(outcome string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(outcome).Inc()
}

// Sent counts an outbound message.
func (m *Metrics) Sent(communiqueType string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(communiqueType).Inc()
}

// Malformed counts an unparseable inbound line.
func (m *Metrics) Malformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

// SetPending records the pending entry count.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// SetConnectionState records the numeric connection state.
func (m *Metrics) SetConnectionState(state int) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
}

// ObserveRequest records a completed request. status is the response status
// code, "timeout" or "error".
func (m *Metrics) ObserveRequest(communiqueType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(communiqueType, status).Observe(d.Seconds())
}

// HandlerPanic counts a recovered handler panic.
func (m *Metrics) HandlerPanic() {
	if m == nil {
		return
	}
	m.handlerPanics.Inc()
}
