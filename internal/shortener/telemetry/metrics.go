// Package telemetry holds the process-wide Prometheus metrics for the
// shortener. Counters are package globals registered in init() so hot paths
// pay one atomic add and no lookups; when no /metrics endpoint is exposed the
// registration is harmless.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Edge.
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortly_cache_hits_total",
		Help: "Redirect lookups served from the cache",
	})
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortly_cache_misses_total",
		Help: "Redirect lookups that fell through to Postgres",
	})
	Redirects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortly_redirects_total",
		Help: "Successful redirect resolutions",
	})
	Shortens = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortly_shortens_total",
		Help: "Successfully created short URLs",
	})
	ClicksPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortly_clicks_published_total",
		Help: "Click events acknowledged by the broker",
	})
	ClickPublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortly_click_publish_failures_total",
		Help: "Click events the broker did not accept",
	})
	StreamFallback = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortly_stream_fallback_total",
		Help: "Click events diverted to the Redis fallback stream",
	})

	// Allocator.
	Allocations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortly_allocations_total",
		Help: "Ranges vended by the id allocator",
	})
	AllocatorFailovers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortly_allocator_failovers_total",
		Help: "Allocations served by the secondary KV after a primary failure",
	})

	// Ingestion.
	IngestEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortly_ingest_events_total",
		Help: "Click events consumed from the broker",
	})
	IngestInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortly_ingest_invalid_total",
		Help: "Broker records skipped for failing click event validation",
	})
	FallbackDrained = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortly_fallback_drained_total",
		Help: "Click events recovered from the fallback stream",
	})
	FlushRows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortly_flush_rows_total",
		Help: "Short codes written to Postgres across all flushes",
	})
	FlushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shortly_flush_duration_seconds",
		Help:    "End-to-end duration of one aggregation flush",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	// Warmer.
	WarmedKeys = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortly_warmed_keys_total",
		Help: "Cache entries refreshed by the warmer",
	})
)

func init() {
	prometheus.MustRegister(
		CacheHits, CacheMisses, Redirects, Shortens,
		ClicksPublished, ClickPublishFailures, StreamFallback,
		Allocations, AllocatorFailovers,
		IngestEvents, IngestInvalid, FallbackDrained, FlushRows, FlushDuration,
		WarmedKeys,
	)
}

// ServeMetrics exposes /metrics on addr in a background goroutine. Empty addr
// disables it.
func ServeMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
