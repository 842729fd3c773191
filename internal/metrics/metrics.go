package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage counters and histograms for the ingestion pipeline.

var (
	// Range fetcher
	FetcherBatchesServed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "fetcher",
		Name:      "batches_served_total",
		Help:      "Total log batches served by the range fetcher",
	})

	FetcherLogsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "fetcher",
		Name:      "logs_fetched_total",
		Help:      "Total raw logs fetched from the RPC endpoint",
	})

	FetcherErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "fetcher",
		Name:      "errors_total",
		Help:      "Total fetch errors by classification",
	}, []string{"class"})

	FetcherSpan = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "fetcher",
		Name:      "span_blocks",
		Help:      "Current adaptive block span",
	})

	FetcherSkippedBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "fetcher",
		Name:      "skipped_blocks_total",
		Help:      "Blocks sacrificed after unclassified fetch errors",
	})

	// Block timestamp resolver
	BlockTimeCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "blocktime",
		Name:      "cache_hits_total",
		Help:      "Block timestamp cache hits",
	})

	BlockTimeCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "blocktime",
		Name:      "cache_misses_total",
		Help:      "Block timestamp cache misses",
	})

	BlockTimeRPCCalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "blocktime",
		Name:      "rpc_calls_total",
		Help:      "Underlying eth_getBlockByNumber calls issued",
	})

	BlockTimeRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "blocktime",
		Name:      "retries_total",
		Help:      "Rate-limited block timestamp retries",
	})

	// Decoder
	DecoderEventsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "decoder",
		Name:      "events_decoded_total",
		Help:      "Decoded domain events by kind",
	}, []string{"event"})

	DecoderLogsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "decoder",
		Name:      "logs_skipped_total",
		Help:      "Logs dropped as unknown or undecodable",
	})

	// Mutator
	MutatorEventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "mutator",
		Name:      "events_applied_total",
		Help:      "Domain events applied to the store by kind",
	}, []string{"event"})

	MutatorIntegrityDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "mutator",
		Name:      "integrity_drops_total",
		Help:      "Events dropped because their market is not in the store",
	})

	// Replay ledger
	LedgerRecordsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "ledger",
		Name:      "records_processed_total",
		Help:      "Ledger records decoded and applied",
	})

	LedgerRecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "ledger",
		Name:      "records_skipped_total",
		Help:      "Ledger records skipped by reason",
	}, []string{"reason"})

	LedgerOffsetBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "ledger",
		Name:      "offset_bytes",
		Help:      "Durable byte offset into the ledger file",
	})

	LedgerRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "indexer",
		Subsystem: "ledger",
		Name:      "run_duration_seconds",
		Help:      "Replay run duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	})

	// Sync loop
	SyncPasses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "sync",
		Name:      "passes_total",
		Help:      "Completed network sync passes",
	})

	SyncLagBlocks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "sync",
		Name:      "lag_blocks",
		Help:      "Blocks between chain head and the synced cursor",
	})

	// Rewards
	RewardsPassesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "rewards",
		Name:      "passes_total",
		Help:      "Completed reward reconciliation passes",
	})

	RewardsClaimsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "rewards",
		Name:      "claims_recorded_total",
		Help:      "Reward claims recorded by observation path",
	}, []string{"path"})

	RewardsSkippedTransfers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "rewards",
		Name:      "transfers_skipped_total",
		Help:      "Distributor transfers skipped as already claimed",
	})

	// Price impact
	ImpactRecomputes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "impact",
		Name:      "recomputes_total",
		Help:      "Full per-market price impact recomputations",
	})

	ImpactDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "indexer",
		Subsystem: "impact",
		Name:      "recompute_duration_seconds",
		Help:      "Per-market price impact recomputation duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// RPC transport
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total RPC calls by method and status",
	}, []string{"method", "status"})

	RPCRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "RPC calls delayed by the local token bucket",
	})

	// Profile enrichment queue
	ProfileQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "profiles",
		Name:      "queue_depth",
		Help:      "Addresses awaiting profile enrichment",
	})

	ProfileFlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "profiles",
		Name:      "flush_failures_total",
		Help:      "Profile enrichment flush failures (requeued)",
	})

	// Alerting
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Alerts delivered by type",
	}, []string{"type"})
)
