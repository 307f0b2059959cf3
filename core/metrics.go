package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics, wired the way the rest of the pack exposes them: module-level
// collectors registered once via init and updated inline by the block
// engine and swap engine, scraped by whatever binary embeds this package
// (§9's ambient metrics surface — block connect latency, swap state
// transition counters, RPC poll counters).
var (
	blockConnectSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sidechain",
		Subsystem: "block_engine",
		Name:      "connect_seconds",
		Help:      "Time taken by ConnectPrevalidated to apply one block's effects.",
		Buckets:   prometheus.DefBuckets,
	})

	swapStateTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sidechain",
		Subsystem: "swap",
		Name:      "state_transitions_total",
		Help:      "Swap state machine transitions, labeled by the resulting state.",
	}, []string{"state"})

	rpcPollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sidechain",
		Subsystem: "swap",
		Name:      "rpc_polls_total",
		Help:      "Target-chain RPC probe calls, labeled by parent chain and outcome.",
	}, []string{"parent_chain", "outcome"})
)

func init() {
	prometheus.MustRegister(blockConnectSeconds, swapStateTransitionsTotal, rpcPollsTotal)
}

func recordSwapTransition(kind SwapStateKind) {
	swapStateTransitionsTotal.WithLabelValues(kind.String()).Inc()
}

func recordRPCPoll(chain ParentChain, outcome string) {
	rpcPollsTotal.WithLabelValues(chain.String(), outcome).Inc()
}
