// Package metrics 分类流程的 Prometheus 指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IngestionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoclassify_ingestions_total",
		Help: "Processed import files by outcome status",
	}, []string{"status"})
	MatchDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geoclassify_match_duration_ms",
		Help:    "Geometry match duration in milliseconds",
		Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000},
	}, []string{"geom_type"})
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geoclassify_pending_matches",
		Help: "Unresolved match records awaiting review",
	})
	ProviderRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoclassify_provider_retries_total",
		Help: "Retries of transient provider errors",
	}, []string{"step"})
	ChangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoclassify_attribute_changes_total",
		Help: "Attribute snapshots written by change kind",
	}, []string{"kind"})
	PreviewCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoclassify_preview_cache_hits_total",
		Help: "Match preview cache hits",
	})
	PreviewCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoclassify_preview_cache_misses_total",
		Help: "Match preview cache misses",
	})
)

func init() {
	prometheus.MustRegister(IngestionsTotal)
	prometheus.MustRegister(MatchDurationMs)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(ProviderRetriesTotal)
	prometheus.MustRegister(ChangesTotal)
	prometheus.MustRegister(PreviewCacheHitsTotal)
	prometheus.MustRegister(PreviewCacheMissesTotal)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
