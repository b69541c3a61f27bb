// Package metrics defines the Prometheus collectors exported by projectkb.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "projectkb"

// Registry holds every projectkb collector. It is separate from the default
// registry so tests and embedders see only these series.
var Registry = prometheus.NewRegistry()

var (
	// EmbedRequests counts embedding calls by provider and result (ok, error).
	EmbedRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embeddings",
		Name:      "requests_total",
		Help:      "Embedding requests by provider and result.",
	}, []string{"provider", "result"})

	// EmbedDuration observes embedding latency by provider.
	EmbedDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "embeddings",
		Name:      "request_duration_seconds",
		Help:      "Embedding request latency.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"provider"})

	// EmbedFallbacks counts texts served by the fallback backend.
	EmbedFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embeddings",
		Name:      "fallbacks_total",
		Help:      "Texts embedded by the fallback backend after the primary failed.",
	})

	// CacheFiles counts per-file cache decisions (hit, miss).
	CacheFiles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "files_total",
		Help:      "Per-file embedding cache lookups by result.",
	}, []string{"result"})

	// Builds counts build attempts by result (ok, error, canceled, rejected).
	Builds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "indexer",
		Name:      "builds_total",
		Help:      "Knowledge base builds by result.",
	}, []string{"result"})

	// BuildDuration observes completed build latency.
	BuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "indexer",
		Name:      "build_duration_seconds",
		Help:      "Duration of successful knowledge base builds.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// Records reports the record count of the last persisted store.
	Records = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "records",
		Help:      "Records in the most recently saved knowledge base.",
	})

	// Searches counts queries by result (ok, invalid, error).
	Searches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "search",
		Name:      "queries_total",
		Help:      "Search queries by result.",
	}, []string{"result"})

	// SearchDuration observes query latency including the query embedding.
	SearchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "search",
		Name:      "duration_seconds",
		Help:      "Search latency.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	Registry.MustRegister(
		EmbedRequests,
		EmbedDuration,
		EmbedFallbacks,
		CacheFiles,
		Builds,
		BuildDuration,
		Records,
		Searches,
		SearchDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
