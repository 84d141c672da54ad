// Package metrics is an optional bonus component (SPEC_FULL.md): a small
// /metrics endpoint tracking request counts, pack bytes streamed, and
// cache hit/miss rate. Shape directly grounded on
// yoshihikoueno-smart-git-proxy's internal/metrics/metrics.go.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters/histograms this server exposes.
type Metrics struct {
	RequestsTotal *prometheus.CounterVec
	PackBytes     *prometheus.CounterVec
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitserve_requests_total",
			Help: "requests received by route",
		}, []string{"route"}),
		PackBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitserve_pack_bytes_total",
			Help: "packfile bytes streamed by direction",
		}, []string{"direction"}), // "in" | "out"
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitserve_cache_hits_total",
			Help: "ResultCache hits by operation",
		}, []string{"operation"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitserve_cache_misses_total",
			Help: "ResultCache misses by operation",
		}, []string{"operation"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gitserve_request_seconds",
			Help:    "request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	prometheus.MustRegister(
		m.RequestsTotal,
		m.PackBytes,
		m.CacheHits,
		m.CacheMisses,
		m.RequestLatency,
	)
	return m
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
