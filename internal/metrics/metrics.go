// Package metrics defines the Prometheus instruments for the fan-out service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Broadcaster metrics
var (
	// BroadcasterConnectedClients tracks currently connected clients per domain
	BroadcasterConnectedClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broadcaster_connected_clients",
			Help: "Currently connected WebSocket clients by domain",
		},
		[]string{"domain"},
	)

	// BroadcasterFilterGroups tracks distinct filter groups seen in the last drain
	BroadcasterFilterGroups = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broadcaster_filter_groups",
			Help: "Distinct filter groups in the most recent broadcast pass",
		},
		[]string{"domain"},
	)

	// BroadcastPassesTotal counts completed broadcast passes
	BroadcastPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_passes_total",
			Help: "Completed broadcast passes by domain",
		},
		[]string{"domain"},
	)

	// BroadcastGroupFailuresTotal counts per-group evaluation/push failures
	BroadcastGroupFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_group_failures_total",
			Help: "Filter group processing failures by domain",
		},
		[]string{"domain"},
	)

	// BroadcastDuration tracks how long a full broadcast pass takes
	BroadcastDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broadcast_pass_duration_seconds",
			Help:    "Broadcast pass duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"domain"},
	)

	// BroadcasterSlowClientsEvicted counts clients dropped for full send buffers
	BroadcasterSlowClientsEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcaster_slow_clients_evicted_total",
			Help: "Clients evicted because their send buffer stayed full",
		},
		[]string{"domain"},
	)

	// BroadcasterProbeTerminations counts clients pruned by the liveness sweep
	BroadcasterProbeTerminations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcaster_probe_terminations_total",
			Help: "Clients terminated after an unanswered liveness probe",
		},
		[]string{"domain"},
	)
)

// Upstream feed metrics
var (
	// FeedMessagesTotal counts upstream messages by feed and parse status
	FeedMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_messages_total",
			Help: "Upstream messages by feed and status (ok/malformed/skipped)",
		},
		[]string{"feed", "status"},
	)

	// FeedReconnectsTotal counts upstream reconnect attempts
	FeedReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_reconnects_total",
			Help: "Upstream reconnect attempts by feed",
		},
		[]string{"feed"},
	)

	// FeedDrainBatchSize tracks how many coalesced updates each drain commits
	FeedDrainBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_drain_batch_size",
			Help:    "Coalesced updates committed per drain",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"feed"},
	)

	// QuoteLookupFailures counts failed previous-close lookups
	QuoteLookupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quote_lookup_failures_total",
			Help: "Failed previous-close quote lookups",
		},
	)

	// FeedStaleReconnects counts reconnects forced by the stale-data watchdog
	FeedStaleReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_stale_reconnects_total",
			Help: "Reconnects forced because no data arrived within the stale threshold",
		},
		[]string{"feed"},
	)
)

// Cache metrics
var (
	// SnapshotCacheResults counts snapshot cache lookups by domain and outcome
	SnapshotCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_cache_results_total",
			Help: "Snapshot cache lookups by domain and result (hit/miss)",
		},
		[]string{"domain", "result"},
	)

	// ResultCacheResults counts filter-result cache lookups by outcome
	ResultCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "result_cache_results_total",
			Help: "Filter result cache lookups by result (hit/miss)",
		},
		[]string{"result"},
	)
)

// Store metrics
var (
	// StoreOpsTotal counts store operations by entity, operation and status
	StoreOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operations_total",
			Help: "Store operations by entity, operation and status",
		},
		[]string{"entity", "operation", "status"},
	)

	// StoreOpDuration tracks store operation latency in seconds
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"entity", "operation"},
	)
)
