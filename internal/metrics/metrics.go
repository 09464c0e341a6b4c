// Package metrics holds the Prometheus collectors shared across the
// engine's packages, registered once at process start and passed down by
// reference rather than looked up by name.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector the engine exposes. One instance is
// constructed in cmd/indexer and threaded through historical, realtime,
// and omnichain. The RPC collectors are registered, but the rpcclient
// router takes no Registry and records nothing into them.
type Registry struct {
	RPCRequests       *prometheus.CounterVec
	RPCErrors         *prometheus.CounterVec
	RPCLatencySeconds *prometheus.HistogramVec

	BlocksIndexed   *prometheus.CounterVec
	EventsDispatched *prometheus.CounterVec
	DispatchErrors  *prometheus.CounterVec

	ReorgsDetected  *prometheus.CounterVec
	ReorgDepth      *prometheus.HistogramVec

	ChainLagBlocks *prometheus.GaugeVec
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		RPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "evmweave",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "JSON-RPC requests issued, by chain and method.",
		}, []string{"chain", "method"}),
		RPCErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "evmweave",
			Subsystem: "rpc",
			Name:      "errors_total",
			Help:      "JSON-RPC requests that failed, by chain, method, and class.",
		}, []string{"chain", "method", "class"}),
		RPCLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "evmweave",
			Subsystem: "rpc",
			Name:      "latency_seconds",
			Help:      "JSON-RPC round-trip latency, by chain and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain", "method"}),
		BlocksIndexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "evmweave",
			Subsystem: "sync",
			Name:      "blocks_indexed_total",
			Help:      "Blocks fully processed, by chain and phase (historical/realtime).",
		}, []string{"chain", "phase"}),
		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "evmweave",
			Subsystem: "dispatch",
			Name:      "events_total",
			Help:      "Events handed to a registered handler, by chain and filter.",
		}, []string{"chain", "filter"}),
		DispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "evmweave",
			Subsystem: "dispatch",
			Name:      "errors_total",
			Help:      "Handler invocations that returned an error, by chain and filter.",
		}, []string{"chain", "filter"}),
		ReorgsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "evmweave",
			Subsystem: "realtime",
			Name:      "reorgs_total",
			Help:      "Reorgs detected, by chain and kind (shallow/deep).",
		}, []string{"chain", "kind"}),
		ReorgDepth: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "evmweave",
			Subsystem: "realtime",
			Name:      "reorg_depth_blocks",
			Help:      "Depth of detected reorgs in blocks.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}, []string{"chain"}),
		ChainLagBlocks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "evmweave",
			Subsystem: "sync",
			Name:      "chain_lag_blocks",
			Help:      "Blocks between the chain head and the last block dispatched.",
		}, []string{"chain"}),
	}

	reg.MustRegister(
		m.RPCRequests, m.RPCErrors, m.RPCLatencySeconds,
		m.BlocksIndexed, m.EventsDispatched, m.DispatchErrors,
		m.ReorgsDetected, m.ReorgDepth, m.ChainLagBlocks,
	)
	return m
}
