// Package metrics exposes Prometheus collectors for the anchoring engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsAnchored counts jobs marked done after a successful anchor call.
	JobsAnchored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "keeper",
		Name:      "jobs_anchored_total",
		Help:      "Number of evidence jobs anchored successfully.",
	})

	// JobsFailed counts permanent job failures.
	JobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "keeper",
		Name:      "jobs_failed_total",
		Help:      "Number of evidence jobs failed permanently.",
	})

	// JobsRequeued counts temporary failures sent back to the queue.
	JobsRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "keeper",
		Name:      "jobs_requeued_total",
		Help:      "Number of evidence jobs requeued with backoff.",
	})

	// BatchesAnchored counts batches whose Merkle root anchored successfully.
	BatchesAnchored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "keeper",
		Name:      "batches_anchored_total",
		Help:      "Number of Merkle batches anchored successfully.",
	})

	// BatchAnchorFailures counts batches left unanchored by a failed anchor call.
	BatchAnchorFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "keeper",
		Name:      "batch_anchor_failures_total",
		Help:      "Number of Merkle batches whose anchor call failed.",
	})

	// TxConfirmed counts chain transaction references observed as confirmed.
	TxConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "keeper",
		Name:      "tx_confirmed_total",
		Help:      "Number of chain transaction references confirmed.",
	})

	// PendingBatchItems tracks the size of the in-memory pending batch.
	PendingBatchItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "keeper",
		Name:      "pending_batch_items",
		Help:      "Evidence items accumulated in the pending batch.",
	})
)
