// Package observability exposes the process metrics of the chat core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Write path
	MessagesAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_messages_appended_total",
			Help: "Total messages durably appended",
		},
	)

	AppendReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_append_replays_total",
			Help: "Appends answered from an idempotency key instead of writing",
		},
	)

	TxnConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_txn_conflicts_total",
			Help: "Store transactions retried after a write conflict",
		},
		[]string{"operation"},
	)

	AggregateDrift = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_aggregate_drift_total",
			Help: "Rooms whose message count was repaired by reconciliation",
		},
	)

	// Feed and subscriptions
	FeedChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_feed_changes_total",
			Help: "Document changes received from the store change feed",
		},
	)

	FeedRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_feed_restarts_total",
			Help: "Times the change feed was lost and re-established",
		},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomsync_active_subscriptions",
			Help: "Subscriptions currently materialized",
		},
	)

	DeliveredBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomsync_delivered_batches_total",
			Help: "Batches handed to observers",
		},
		[]string{"kind"}, // "initial" or "live"
	)

	DuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_duplicates_dropped_total",
			Help: "Changes dropped by the per-subscription high-water mark",
		},
	)

	SnapshotDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roomsync_snapshot_duration_seconds",
			Help:    "Time to read a subscription snapshot",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
	)

	NotificationsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomsync_notifications_sent_total",
			Help: "External alerts emitted",
		},
	)

	// Process
	ProcessRSSBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomsync_process_rss_bytes",
			Help: "Resident memory of the daemon",
		},
	)

	ProcessCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomsync_process_cpu_percent",
			Help: "CPU usage of the daemon since start",
		},
	)
)
