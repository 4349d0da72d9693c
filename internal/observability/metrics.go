package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "codeprobe"

var (
	registerOnce sync.Once

	apiRequestsTotal  *prometheus.CounterVec
	apiLatencySeconds *prometheus.HistogramVec
	apiErrorsTotal    *prometheus.CounterVec

	indexRunsTotal      *prometheus.CounterVec
	indexDurationSecs   *prometheus.HistogramVec
	indexChunksTotal    prometheus.Counter
	indexQueueDepth     prometheus.Gauge
	anchorsRejected     *prometheus.CounterVec
	searchCacheLookups  *prometheus.CounterVec
	retrievalChunkCount prometheus.Histogram
)

// RegisterMetrics initialises the Prometheus collectors used by the API and the pipelines.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_latency_seconds",
			Help:      "Latency distribution for API requests.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 15.0, 60.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_errors_total",
			Help:      "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		indexRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexing",
			Name:      "runs_total",
			Help:      "Indexing runs by outcome and failing stage.",
		}, []string{"outcome", "stage"})

		indexDurationSecs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "indexing",
			Name:      "run_duration_seconds",
			Help:      "Wall time of indexing runs.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"outcome"})

		indexChunksTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexing",
			Name:      "chunks_upserted_total",
			Help:      "Chunks written to the vector store.",
		})

		indexQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexing",
			Name:      "jobs_in_flight",
			Help:      "Indexing jobs accepted by the queue and not yet finished.",
		})

		anchorsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "questions",
			Name:      "anchors_rejected_total",
			Help:      "Model anchors dropped because they did not match a supplied chunk.",
		}, []string{"kind"})

		searchCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "cache_lookups_total",
			Help:      "Search cache lookups by result.",
		}, []string{"result"})

		retrievalChunkCount = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "returned_chunks",
			Help:      "Chunks returned per search after dedup and budgets.",
			Buckets:   []float64{0, 1, 2, 4, 6, 8, 12, 16, 32, 50},
		})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			indexRunsTotal, indexDurationSecs, indexChunksTotal, indexQueueDepth,
			anchorsRejected, searchCacheLookups, retrievalChunkCount,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// IndexRuns counts indexing runs by outcome ("ready", "failed") and stage.
func IndexRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return indexRunsTotal
}

// IndexDuration observes indexing run wall time.
func IndexDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return indexDurationSecs
}

// IndexChunks counts upserted chunks.
func IndexChunks() prometheus.Counter {
	RegisterMetrics()
	return indexChunksTotal
}

// IndexJobsInFlight tracks queued and running indexing jobs.
func IndexJobsInFlight() prometheus.Gauge {
	RegisterMetrics()
	return indexQueueDepth
}

// AnchorsRejected counts anchors stripped from model output.
func AnchorsRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return anchorsRejected
}

// SearchCacheLookups counts search cache hits and misses.
func SearchCacheLookups() *prometheus.CounterVec {
	RegisterMetrics()
	return searchCacheLookups
}

// RetrievalChunks observes the size of each search result.
func RetrievalChunks() prometheus.Histogram {
	RegisterMetrics()
	return retrievalChunkCount
}
