// Package obsmetrics samples engine health into Prometheus gauges and
// counters. It never feeds back into control flow; it only observes.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksBehind reports the per-chain gap between the last processed
	// height and the chain's actual tip.
	BlocksBehind = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arbitragemonitor_blocks_behind",
		Help: "Blocks behind chain tip, per chain.",
	}, []string{"chain"})

	// EndpointCircuitState is 0=closed, 1=half-open, 2=open, sampled per endpoint.
	EndpointCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arbitragemonitor_endpoint_circuit_state",
		Help: "Circuit breaker state per RPC endpoint (0=closed,1=half-open,2=open).",
	}, []string{"chain", "endpoint"})

	TransactionsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbitragemonitor_transactions_detected_total",
		Help: "Arbitrage transactions detected, per chain.",
	}, []string{"chain"})

	OpportunitiesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbitragemonitor_opportunities_emitted_total",
		Help: "Pool-imbalance opportunities emitted, per chain.",
	}, []string{"chain"})

	BroadcastMailboxDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbitragemonitor_broadcast_mailbox_drops_total",
		Help: "Messages dropped from subscriber mailboxes due to backpressure.",
	}, []string{"channel"})

	PersistenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbitragemonitor_persistence_failures_total",
		Help: "Persistence operations that exhausted retries.",
	}, []string{"operation"})

	BlockProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arbitragemonitor_block_process_seconds",
		Help:    "Time to fully process one block, per chain.",
		Buckets: prometheus.DefBuckets,
	}, []string{"chain"})
)
