// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Monitoring metrics
	PositionsTracked    prometheus.Gauge
	ChangeEventsEmitted *prometheus.CounterVec
	ChangeEventsDropped prometheus.Counter
	DecodeErrors        *prometheus.CounterVec
	WSReconnects        prometheus.Counter

	// Risk metrics
	CyclesRun        prometheus.Counter
	PositionsScored  prometheus.Counter
	PositionsSkipped prometheus.Counter
	CycleDuration    prometheus.Histogram

	// Alerting metrics
	AlertsFired      *prometheus.CounterVec
	AlertsSuppressed *prometheus.CounterVec
	SinkDeliveries   *prometheus.CounterVec
	SinkRateLimited  *prometheus.CounterVec

	// Transport metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
	TransportConnected  prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "solana_liq_monitor"
	}

	return &Metrics{
		PositionsTracked: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "positions_tracked",
			Help:      "Current number of tracked positions",
		}),
		ChangeEventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "change_events_total",
			Help:      "Total number of position change events by kind",
		}, []string{"kind"}),
		ChangeEventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "change_events_dropped_total",
			Help:      "Total number of change events dropped on a full channel",
		}),
		DecodeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decode",
			Name:      "errors_total",
			Help:      "Total number of account decode errors by protocol and kind",
		}, []string{"protocol", "kind"}),
		WSReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "ws_reconnects_total",
			Help:      "Total number of WebSocket reconnect attempts",
		}),

		CyclesRun: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "cycles_total",
			Help:      "Total number of evaluation cycles run",
		}),
		PositionsScored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "positions_scored_total",
			Help:      "Total number of positions scored",
		}),
		PositionsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "positions_skipped_total",
			Help:      "Total number of positions left NotComputed after a failure",
		}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "cycle_duration_seconds",
			Help:      "Evaluation cycle duration",
			Buckets:   prometheus.DefBuckets,
		}),

		AlertsFired: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_fired_total",
			Help:      "Total number of alerts fired by type",
		}, []string{"type"}),
		AlertsSuppressed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_suppressed_total",
			Help:      "Total number of alerts suppressed by reason",
		}, []string{"reason"}),
		SinkDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "sink_deliveries_total",
			Help:      "Total number of sink delivery outcomes",
		}, []string{"sink", "outcome"}),
		SinkRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "sink_rate_limited_total",
			Help:      "Total number of alerts skipped by a sink rate limit",
		}, []string{"sink"}),

		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Solana RPC call latency by method",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		RPCCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_errors_total",
			Help:      "Total number of Solana RPC call errors by method",
		}, []string{"method"}),

		LastSuccessfulCycle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of the last successful evaluation cycle",
		}),
		TransportConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "transport_connected",
			Help:      "1 when the WebSocket transport is connected",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
