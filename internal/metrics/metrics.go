/**
 * @description
 * Prometheus collectors for the yield-service: HTTP traffic, monitor activity
 * and notification fan-out. Exposed on /metrics.
 */

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yield_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "yield_http_request_latency_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Operations
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yield_operations_total",
			Help: "Total initiated operations by type and outcome",
		},
		[]string{"type", "outcome"}, // outcome: accepted|rejected
	)

	// Monitor
	ActiveMonitors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "yield_active_monitors",
			Help: "Transactions currently being polled",
		},
	)
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yield_polls_total",
			Help: "Total status polls by result",
		},
		[]string{"result"}, // pending|completed|failed|timeout|error
	)

	// Hub
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yield_notifications_total",
			Help: "Total events delivered to WebSocket sessions",
		},
		[]string{"event"},
	)
)

// Handler serves the /metrics endpoint.
var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestLatency)
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(ActiveMonitors)
	prometheus.MustRegister(PollsTotal)
	prometheus.MustRegister(NotificationsTotal)
}
