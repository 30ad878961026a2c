package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rumor",
			Name:      "messages_received_total",
			Help:      "Total number of inbound messages, by body type.",
		},
		[]string{"type"},
	)

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rumor",
			Name:      "messages_sent_total",
			Help:      "Total number of outbound messages, by body type.",
		},
		[]string{"type"},
	)

	RPCCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rumor",
			Name:      "rpc_calls_total",
			Help:      "Total number of completed RPCs, by outcome (ok, error, timeout, cancelled).",
		},
		[]string{"outcome"},
	)

	RPCDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rumor",
			Name:      "rpc_duration_seconds",
			Help:      "Latency of RPCs that received a reply.",
			// 1ms .. ~4s
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		},
	)

	PendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rumor",
			Name:      "pending_requests",
			Help:      "Current number of RPCs awaiting a reply.",
		},
	)

	UnmatchedReplies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rumor",
			Name:      "unmatched_replies_total",
			Help:      "Replies that matched no pending request.",
		},
	)

	GossipRounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rumor",
			Name:      "gossip_rounds_total",
			Help:      "Gossip messages sent to neighbours, by mode (delta, full).",
		},
		[]string{"mode"},
	)

	StoreValues = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rumor",
			Name:      "store_values",
			Help:      "Number of distinct values known to the node.",
		},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rumor",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version).",
		},
		[]string{"version"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "rumor",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		MessagesReceived,
		MessagesSent,
		RPCCalls,
		RPCDuration,
		PendingRequests,
		UnmatchedReplies,
		GossipRounds,
		StoreValues,
		buildInfo,
		uptime,
	)
}

// MetricsHandler exposes /metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}
