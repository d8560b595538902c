// Package metrics exposes the Prometheus collectors an operator can scrape
// to watch the health of a running stack (queue depth, retransmits,
// allocation count, channel state). None of these are consulted by core
// logic; they exist purely for observability, matching how the examples'
// runZeroInc-sockstats exports kernel socket stats via
// prometheus/client_golang.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WorkerPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "goice",
		Subsystem: "transport",
		Name:      "worker_panics_total",
		Help:      "Number of worker goroutines restarted after a panic.",
	})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "goice",
		Subsystem: "transport",
		Name:      "queue_depth",
		Help:      "Current number of messages waiting in the shared receive queue.",
	})

	ClientRetransmits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "goice",
		Subsystem: "stun",
		Name:      "client_retransmits_total",
		Help:      "Number of STUN client transaction retransmissions sent.",
	})

	ServerTransactionHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "goice",
		Subsystem: "stun",
		Name:      "server_retransmit_cache_hits_total",
		Help:      "Number of inbound requests answered from the server transaction cache.",
	})

	AllocationsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "goice",
		Subsystem: "turn",
		Name:      "allocations_active",
		Help:      "Current number of live TURN allocations held by this agent.",
	})

	ChannelsBound = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "goice",
		Subsystem: "turn",
		Name:      "channels_bound",
		Help:      "Current number of TURN peer channels in the BOUND state.",
	})

	CandidatesGathered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goice",
		Subsystem: "ice",
		Name:      "candidates_gathered_total",
		Help:      "Number of local candidates produced, by type.",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(
		WorkerPanics,
		QueueDepth,
		ClientRetransmits,
		ServerTransactionHits,
		AllocationsActive,
		ChannelsBound,
		CandidatesGathered,
	)
}
