// Package observability provides Prometheus metrics and structured logging.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Allocation metrics
	AllocationsEmitted prometheus.Counter
	ResidueQuantity    prometheus.Gauge
	VersionsPromoted   prometheus.Counter
	VersionsInvalid    prometheus.Counter

	// Reconciliation metrics
	Discrepancies     *prometheus.CounterVec // by kind
	SourceUnavailable prometheus.Counter

	// Backfill metrics
	BackfillInserted   prometheus.Counter
	BackfillDuplicates prometheus.Counter
	BackfillFailures   prometheus.Counter

	// External source metrics
	SourceCallLatency *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AllocationsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pnl_allocations_emitted_total",
			Help: "Matched FIFO allocation rows emitted",
		}),
		ResidueQuantity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pnl_residue_quantity",
			Help: "Unmatched sell residue quantity of the latest allocation run",
		}),
		VersionsPromoted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pnl_versions_promoted_total",
			Help: "Allocation versions promoted to current",
		}),
		VersionsInvalid: factory.NewCounter(prometheus.CounterOpts{
			Name: "pnl_versions_invalid_total",
			Help: "Allocation versions rejected by validation",
		}),
		Discrepancies: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pnl_reconciliation_discrepancies_total",
			Help: "Reconciliation discrepancies found",
		}, []string{"kind"}),
		SourceUnavailable: factory.NewCounter(prometheus.CounterOpts{
			Name: "pnl_source_unavailable_total",
			Help: "Reconciliation runs aborted because the external source was unreachable",
		}),
		BackfillInserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pnl_backfill_inserted_total",
			Help: "Trade records inserted by backfill",
		}),
		BackfillDuplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: "pnl_backfill_duplicates_total",
			Help: "Backfill inserts skipped as already present",
		}),
		BackfillFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "pnl_backfill_failures_total",
			Help: "Missing fills that could not be backfilled",
		}),
		SourceCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pnl_source_call_duration_seconds",
			Help:    "External fill source call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// Handler returns an HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
