package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	PagesFetched     *prometheus.CounterVec
	FetchErrors      *prometheus.CounterVec
	SoftBlocks       *prometheus.CounterVec
	ListingsUpserted *prometheus.CounterVec
	TargetsCrawled   *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec

	SessionsCreated  prometheus.Counter
	SessionsRecycled prometheus.Counter
	SessionsLive     prometheus.Gauge

	ResolutionRuns          *prometheus.CounterVec
	ResolutionPhaseDuration *prometheus.HistogramVec
	ResolutionActive        prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		PagesFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_pages_fetched_total",
			Help: "The total number of listing pages fetched",
		}, []string{"source"}),
		FetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_fetch_errors_total",
			Help: "The total number of page fetch/parse errors",
		}, []string{"source", "type"}), // e.g. 'fetch_failed', 'parse_failed', 'db_save_failed'
		SoftBlocks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_soft_blocks_total",
			Help: "The total number of anti-bot challenge pages encountered",
		}, []string{"source"}),
		ListingsUpserted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_listings_upserted_total",
			Help: "The total number of raw listings written",
		}, []string{"source", "outcome"}), // 'new' or 'updated'
		TargetsCrawled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_targets_crawled_total",
			Help: "The total number of crawl targets finished",
		}, []string{"source", "status"}),
		FetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aggregator_fetch_duration_seconds",
			Help:    "Duration of single page fetches",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 45},
		}, []string{"source"}),

		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_browser_sessions_created_total",
			Help: "The total number of browser sessions created",
		}),
		SessionsRecycled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_browser_sessions_recycled_total",
			Help: "The total number of browser sessions torn down after reaching their page budget",
		}),
		SessionsLive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aggregator_browser_sessions_live",
			Help: "Current number of live browser sessions",
		}),

		ResolutionRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_resolution_runs_total",
			Help: "The total number of entity resolution runs",
		}, []string{"mode", "status"}),
		ResolutionPhaseDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aggregator_resolution_phase_duration_seconds",
			Help:    "Duration of entity resolution phases",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"phase"}),
		ResolutionActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aggregator_resolution_active",
			Help: "1 while a resolution job is running",
		}),
	}
}
