// Package server implements the TCP listener and per-client sessions of
// the streaming head-end.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the instrumentation of the listener and its sessions.
type Metrics struct {
	SessionsActive  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	BytesSent       prometheus.Counter
	PacketsDropped  prometheus.Counter
	RequestsHandled prometheus.Counter
	LoginsRejected  prometheus.Counter
}

// NewMetrics registers the server metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "robotv_sessions_active",
			Help: "Number of connected client sessions.",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "robotv_sessions_total",
			Help: "Total number of accepted client sessions.",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "robotv_bytes_sent_total",
			Help: "Total bytes written to client sockets.",
		}),
		PacketsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "robotv_packets_dropped_total",
			Help: "Packets dropped by queue bounds and ring overruns.",
		}),
		RequestsHandled: factory.NewCounter(prometheus.CounterOpts{
			Name: "robotv_requests_handled_total",
			Help: "Total number of processed client requests.",
		}),
		LoginsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "robotv_logins_rejected_total",
			Help: "Logins rejected for protocol mismatch.",
		}),
	}
}
