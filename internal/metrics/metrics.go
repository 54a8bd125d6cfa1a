// Package metrics exposes Prometheus counters for cache and publish activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cloudio"

// Metrics 持有一个独立的 Registry，便于多个 Client 或测试并存而不重复注册。
// nil *Metrics 上的所有方法均为空操作。
type Metrics struct {
	registry *prometheus.Registry

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	bytesFetched   *prometheus.CounterVec
	fetchFailures  *prometheus.CounterVec
	publishResults *prometheus.CounterVec
}

// New creates and registers the cloudio collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Remote reads served from an existing cache entry.",
		}, []string{"backend"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Remote reads that required a fetch.",
		}, []string{"backend"}),
		bytesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_bytes_total",
			Help:      "Bytes streamed from remote backends into the cache.",
		}, []string{"backend"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Fetches that ended without promoting an entry.",
		}, []string{"backend"}),
		publishResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Staged writes by terminal state.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(
		m.cacheHits,
		m.cacheMisses,
		m.bytesFetched,
		m.fetchFailures,
		m.publishResults,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) CacheHit(backend string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(backend).Inc()
}

func (m *Metrics) CacheMiss(backend string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(backend).Inc()
}

// Fetched 记录一次成功拉取的字节数。
func (m *Metrics) Fetched(backend string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesFetched.WithLabelValues(backend).Add(float64(n))
}

func (m *Metrics) FetchFailed(backend string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(backend).Inc()
}

// Published 按终态统计一次暂存结果（published/publish_failed/aborted）。
func (m *Metrics) Published(state string) {
	if m == nil {
		return
	}
	m.publishResults.WithLabelValues(state).Inc()
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
