package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PollsIssued counts status checks issued against the remote gateway by flow
// (verification/payment)
var PollsIssued = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vecino_status_polls_total",
		Help: "Total number of status checks issued against the remote gateway",
	},
	[]string{"flow"},
)

// TerminalObservations counts terminal statuses observed, by flow and status
var TerminalObservations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vecino_terminal_observations_total",
		Help: "Terminal statuses observed by the polling controllers",
	},
	[]string{"flow", "status"},
)

// ContinuationsFired counts post-payment continuations executed, by purpose
var ContinuationsFired = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vecino_continuations_fired_total",
		Help: "Post-payment continuation actions executed",
	},
	[]string{"purpose"},
)

// GatewayLatency records latency distribution for gateway calls
var GatewayLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "vecino_gateway_request_latency_seconds",
		Help:    "Latency in seconds of remote status gateway requests",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"endpoint"},
)

func init() {
	prometheus.MustRegister(PollsIssued, TerminalObservations)
	prometheus.MustRegister(ContinuationsFired, GatewayLatency)
}
