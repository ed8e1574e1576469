package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Write-path metrics
	DocumentsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_documents_written_total",
			Help: "Total number of document versions written by resource type and operation",
		},
		[]string{"resource_type", "operation"},
	)

	BundlesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_bundles_total",
			Help: "Total number of bundles by outcome",
		},
		[]string{"outcome"},
	)

	BundleRollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_bundle_rollbacks_total",
			Help: "Total number of bundle rollbacks",
		},
	)

	// Hybrid store metrics
	BulkObjectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_bulk_objects_total",
			Help: "Total number of blob-store operations for offloaded payloads",
		},
		[]string{"operation"},
	)

	// Change propagation metrics
	PropagatorRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_propagator_records_total",
			Help: "Total number of change-feed records by action taken",
		},
		[]string{"action"},
	)

	PropagatorBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_propagator_batch_duration_seconds",
			Help:    "Time taken to apply one change-feed batch to the search index",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Export metrics
	ExportAdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_export_admissions_total",
			Help: "Total number of export admission decisions",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(DocumentsWrittenTotal)
	prometheus.MustRegister(BundlesTotal)
	prometheus.MustRegister(BundleRollbacksTotal)
	prometheus.MustRegister(BulkObjectsTotal)
	prometheus.MustRegister(PropagatorRecordsTotal)
	prometheus.MustRegister(PropagatorBatchDuration)
	prometheus.MustRegister(ExportAdmissionsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
