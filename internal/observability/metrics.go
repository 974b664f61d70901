package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Orion.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreSequence       prometheus.Gauge

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Errors      prometheus.Counter
	IntentNonceStale      prometheus.Counter
	IntentNonceGap        prometheus.Counter

	// --- Orchestration ---
	UpkeepApplied     *prometheus.CounterVec
	UpkeepRejected    *prometheus.CounterVec
	UpkeepDuration    *prometheus.HistogramVec
	OrchestratorEpoch *prometheus.GaugeVec
	ProtocolBuffer    prometheus.Gauge
	ProtocolFeeRate   prometheus.Gauge
	SettlementOrders  *prometheus.CounterVec
	OracleFailures    *prometheus.CounterVec
	DeferredRedeems   prometheus.Counter

	// --- Vaults ---
	VaultTotalAssets *prometheus.GaugeVec
	VaultSharePrice  *prometheus.GaugeVec
	VaultQueueLength *prometheus.GaugeVec

	// --- Ingestion ---
	IngestMessages  *prometheus.CounterVec
	NATSPullLatency *prometheus.HistogramVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Projections ---
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	// upkeep ticks call oracles, so they run orders of magnitude slower
	// than plain commands
	tickBuckets := []float64{
		0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_core_events_applied_total",
			Help: "Events successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_core_events_rejected_total",
			Help: "Events rejected (dedup, stale, validation)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orion_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "orion_core_sequence",
			Help: "Next global sequence to be assigned",
		}),

		// Channels
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orion_channel_size",
			Help: "Buffered items in an internal channel",
		}, []string{"channel"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orion_channel_capacity",
			Help: "Capacity of an internal channel",
		}, []string{"channel"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_projection_drops_total",
			Help: "Outputs dropped because a projection channel was full",
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orion_publish_drops_total",
			Help: "Outbound events dropped by the publisher",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orion_persist_backpressure_total",
			Help: "Times the core blocked on a full persist channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_idempotency_duplicates_total",
			Help: "Duplicate events detected",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "orion_dedup_lru_size",
			Help: "Entries in the idempotency LRU",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orion_dedup_lru_evictions_total",
			Help: "Keys evicted from the idempotency LRU",
		}),

		DedupTier2Errors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orion_dedup_tier2_errors_total",
			Help: "Postgres idempotency lookups that failed",
		}),

		IntentNonceStale: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orion_intent_nonce_stale_total",
			Help: "Intent submissions ignored because a newer nonce was applied",
		}),

		IntentNonceGap: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orion_intent_nonce_gap_total",
			Help: "Intent submissions that skipped nonces",
		}),

		// Orchestration
		UpkeepApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_upkeep_applied_total",
			Help: "Orchestrator ticks applied",
		}, []string{"target", "phase"}),

		UpkeepRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_upkeep_rejected_total",
			Help: "Orchestrator ticks rolled back",
		}, []string{"target", "phase", "reason"}),

		UpkeepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orion_upkeep_duration_seconds",
			Help:    "Time to perform one orchestrator tick",
			Buckets: tickBuckets,
		}, []string{"target"}),

		OrchestratorEpoch: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orion_orchestrator_epoch",
			Help: "Current epoch of each orchestrator",
		}, []string{"target"}),

		ProtocolBuffer: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "orion_protocol_buffer",
			Help: "Protocol buffer in base asset units",
		}),

		ProtocolFeeRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "orion_protocol_fee_rate",
			Help: "Buffer fee rate applied in the last Buffering phase",
		}),

		SettlementOrders: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_settlement_orders_total",
			Help: "Rebalancing orders published to the liquidity orchestrator",
		}, []string{"side"}),

		OracleFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_oracle_failures_total",
			Help: "Price reads that aborted a tick",
		}, []string{"reason"}),

		DeferredRedeems: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orion_redemptions_deferred_total",
			Help: "Synced redemptions the sell leg could not fund, carried to the next epoch",
		}),

		// Vaults
		VaultTotalAssets: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orion_vault_total_assets",
			Help: "Vault total assets in base asset units",
		}, []string{"vault"}),

		VaultSharePrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orion_vault_share_price",
			Help: "Vault share price as a decimal ratio",
		}, []string{"vault"}),

		VaultQueueLength: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orion_vault_queue_length",
			Help: "Pending requests per vault queue",
		}, []string{"vault", "queue"}),

		// Ingestion
		IngestMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_ingest_messages_total",
			Help: "Inbound NATS messages by outcome",
		}, []string{"subject", "result"}),

		NATSPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orion_nats_pull_latency_seconds",
			Help:    "Latency of JetStream fetches",
			Buckets: tickBuckets,
		}, []string{"stream"}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orion_persist_events_written_total",
			Help: "Events written to the event log",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orion_persist_journals_written_total",
			Help: "Journal entries written",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "orion_persist_batch_size",
			Help:    "Events per persisted batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "orion_persist_batch_duration_seconds",
			Help:    "Time to write one batch",
			Buckets: tickBuckets,
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_persist_errors_total",
			Help: "Persistence failures",
		}, []string{"operation"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orion_persist_retry_total",
			Help: "Batch write retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "orion_persist_last_sequence",
			Help: "Highest sequence durably written",
		}),

		// Snapshot
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orion_snapshot_taken_total",
			Help: "Protocol snapshots written",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "orion_snapshot_duration_seconds",
			Help:    "Time to capture and write a snapshot",
			Buckets: tickBuckets,
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "orion_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "orion_snapshot_last_sequence",
			Help: "Sequence covered by the last snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orion_replay_events_total",
			Help: "Events seen while recovering from the event log",
		}),

		// Projections
		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orion_projection_update_duration_seconds",
			Help:    "Time to apply one output to a projection",
			Buckets: tickBuckets,
		}, []string{"projection"}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_query_requests_total",
			Help: "Query API requests",
		}, []string{"method"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orion_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: tickBuckets,
		}, []string{"method"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orion_query_errors_total",
			Help: "Query API errors",
		}, []string{"method", "code"}),
	}
}
