// Package metrics registers the grabber's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

var (
	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagrab_downloads_total",
			Help: "Downloads attempted, by locator kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	downloadBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagrab_download_bytes_total",
			Help: "Bytes written by successful downloads",
		},
		[]string{"kind"},
	)

	downloadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediagrab_download_duration_seconds",
			Help:    "Wall time of download attempts",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	segmentFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediagrab_hls_segment_failures_total",
			Help: "HLS segments that failed and were skipped",
		},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagrab_deliveries_total",
			Help: "Artifact deliveries, by outcome",
		},
		[]string{"outcome"},
	)

	deliveryRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediagrab_delivery_retries_total",
			Help: "Delivery attempts beyond the first",
		},
	)

	deliveryRetrySuccesses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediagrab_delivery_retry_successes_total",
			Help: "Deliveries that succeeded after at least one retry",
		},
	)

	batchItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagrab_batch_items_total",
			Help: "Batch items processed, by outcome",
		},
		[]string{"outcome"},
	)

	gateRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediagrab_gate_rejections_total",
			Help: "Requests refused by the safety gate",
		},
	)

	ledgerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagrab_ledger_errors_total",
			Help: "Ledger store failures, by operation",
		},
		[]string{"op"},
	)
)

// RecordDownload records one download attempt
func RecordDownload(kind, outcome string, bytes int64, started time.Time) {
	downloadsTotal.WithLabelValues(kind, outcome).Inc()
	downloadDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	if outcome == OutcomeSuccess && bytes > 0 {
		downloadBytes.WithLabelValues(kind).Add(float64(bytes))
	}
}

// RecordSegmentFailure counts a skipped HLS segment
func RecordSegmentFailure() {
	segmentFailures.Inc()
}

// RecordDelivery records a finished delivery and how many retries it took
func RecordDelivery(success bool, retries int) {
	if retries > 0 {
		deliveryRetries.Add(float64(retries))
	}
	if success {
		deliveriesTotal.WithLabelValues(OutcomeSuccess).Inc()
		if retries > 0 {
			deliveryRetrySuccesses.Inc()
		}
		return
	}
	deliveriesTotal.WithLabelValues(OutcomeFailed).Inc()
}

// RecordBatchItem counts one batch item by outcome
func RecordBatchItem(outcome string) {
	batchItems.WithLabelValues(outcome).Inc()
}

// RecordGateRejection counts a refused URL
func RecordGateRejection() {
	gateRejections.Inc()
}

// RecordLedgerError counts a ledger store failure
func RecordLedgerError(op string) {
	ledgerErrors.WithLabelValues(op).Inc()
}
