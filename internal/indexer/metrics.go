package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Throughput metrics.
var (
	eventsProjected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otcindex_events_projected_total",
			Help: "Ledger events processed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	orderingViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otcindex_ordering_violations_total",
		Help: "Fill or cancel events referencing an order the read model has never seen",
	})

	backfillBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otcindex_backfill_batches_total",
			Help: "Backfill batches by result",
		},
		[]string{"result"},
	)
)

// Performance metrics.
var (
	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "otcindex_backfill_batch_duration_seconds",
		Help:    "Time taken to query and project one backfill batch",
		Buckets: prometheus.DefBuckets,
	})
)

// State metrics.
var (
	listenerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "otcindex_listener_state",
		Help: "Listener state machine position (0 stopped, 1 starting, 2 running, 3 reconnecting)",
	})

	reconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otcindex_listener_reconnects_total",
		Help: "Listener reconnect attempts",
	})

	checkpointHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "otcindex_checkpoint_height",
			Help: "Last processed block height per source",
		},
		[]string{"source"},
	)

	reconcileDivergences = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otcindex_reconcile_divergences_total",
		Help: "Orders whose read-model state diverged from the on-chain state",
	})
)
