// Package metrics defines the prometheus collectors of the rill server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Keys for rill metrics.
const (
	Fail = "fail"
	Ok   = "ok"
)

// Collectors of the Hrana server.
var (
	ConnectionsAcceptedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rill_connections_accepted_total",
		Help: "Cumulative number of accepted Hrana connections.",
	})
	ConnectionsLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rill_connections_live",
		Help: "Number of Hrana connections currently being served.",
	})
	StreamsLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rill_streams_live",
		Help: "Number of SQL streams currently holding a backend session.",
	})
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rill_requests_total",
		Help: "Cumulative number of resolved Hrana requests.",
	}, []string{"type", "status"})
	ProtocolViolationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rill_protocol_violations_total",
		Help: "Cumulative number of connections closed due to a protocol violation.",
	})
	ExecuteDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rill_execute_duration_seconds",
		Help:    "Duration of backend statement executions.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsAcceptedTotal,
		ConnectionsLive,
		StreamsLive,
		RequestsTotal,
		ProtocolViolationsTotal,
		ExecuteDurationSeconds,
	)
}
