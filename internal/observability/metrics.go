package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PhotosProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knot",
		Name:      "photos_processed_total",
		Help:      "Total number of photos run through face extraction",
	}, []string{"path"}) // "ondemand" or "batch"

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knot",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected in processed photos",
	}, []string{"path"})

	DescriptorsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "knot",
		Name:      "descriptors_inserted_total",
		Help:      "Total number of descriptor rows written",
	})

	BatchFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "knot",
		Name:      "batch_flush_duration_seconds",
		Help:      "Duration of transactional batch flushes",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	BatchFlushRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "knot",
		Name:      "batch_flush_retries_total",
		Help:      "Number of batch flush attempts beyond the first",
	})

	MatchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knot",
		Name:      "match_requests_total",
		Help:      "Total face match requests served",
	}, []string{"outcome"}) // "matched", "empty", "error"

	MatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "knot",
		Name:      "match_duration_seconds",
		Help:      "End-to-end duration of match requests",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "knot",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "knot",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "knot",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
