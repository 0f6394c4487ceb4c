package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics covers the REST API
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	UploadBytes     *prometheus.HistogramVec
	RateLimited     *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers the HTTP collectors
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepfake_http_requests_total",
			Help: "HTTP requests partitioned by method, route and status code.",
		},
		[]string{"method", "route", "code"},
	)
	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepfake_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10+4),
		},
		[]string{"method", "route"},
	)
	m.UploadBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepfake_http_upload_bytes",
			Help:    "Size of uploaded media files.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"route"},
	)
	m.RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepfake_http_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		},
		[]string{"route"},
	)
}

// RecordRequest records one completed request
func (m *HTTPMetrics) RecordRequest(method, route string, code int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordUpload records the size of an uploaded file
func (m *HTTPMetrics) RecordUpload(route string, size int64) {
	m.UploadBytes.WithLabelValues(route).Observe(float64(size))
}

// RecordRateLimited counts a rate limited request
func (m *HTTPMetrics) RecordRateLimited(route string) {
	m.RateLimited.WithLabelValues(route).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.RequestsTotal.Describe(ch)
	m.RequestDuration.Describe(ch)
	m.UploadBytes.Describe(ch)
	m.RateLimited.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	m.RequestsTotal.Collect(ch)
	m.RequestDuration.Collect(ch)
	m.UploadBytes.Collect(ch)
	m.RateLimited.Collect(ch)
}
