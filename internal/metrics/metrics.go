// Package metrics exposes Prometheus instrumentation for the batch engine
// and the spatial query layer. All collectors are registered at init and
// served by Handler from /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geobatch_jobs_created_total",
		Help: "Jobs submitted, by type",
	}, []string{"type"})

	JobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geobatch_jobs_finished_total",
		Help: "Jobs reaching a terminal state, by type and status",
	}, []string{"type", "status"})

	RowsImported = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geobatch_rows_imported_total",
		Help: "Rows successfully written to the spatial store",
	})

	RowsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geobatch_rows_failed_total",
		Help: "Rows skipped due to per-row import errors",
	})

	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geobatch_spatial_cache_hits_total",
		Help: "Proximity cache hits",
	})

	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geobatch_spatial_cache_misses_total",
		Help: "Proximity cache misses",
	})

	QueryDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geobatch_spatial_query_duration_ms",
		Help:    "Spatial query duration in milliseconds, by kind",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 2000},
	}, []string{"kind"})

	TilesServed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geobatch_tiles_served_total",
		Help: "Vector tiles generated and served",
	})
)

func init() {
	prometheus.MustRegister(
		JobsCreated,
		JobsFinished,
		RowsImported,
		RowsFailed,
		CacheHits,
		CacheMisses,
		QueryDurationMs,
		TilesServed,
	)
}

// Handler returns the HTTP handler serving the registered collectors.
func Handler() http.Handler { return promhttp.Handler() }
