package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cybershakti/deepfake-go/internal/errors"
)

// DetectorMetrics covers detection, feedback and the training sample set
type DetectorMetrics struct {
	DetectionsTotal     *prometheus.CounterVec
	DetectionErrors     *prometheus.CounterVec
	DetectionDuration   prometheus.Histogram
	FeedbackTotal       *prometheus.CounterVec
	SampleCount         prometheus.Gauge
	PendingPersistence  prometheus.Gauge
	ExtractionCacheHits *prometheus.CounterVec
}

// NewDetectorMetrics creates and registers the detector collectors
func NewDetectorMetrics(registry *prometheus.Registry) (*DetectorMetrics, error) {
	m := &DetectorMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register detector metrics: %w", err)
	}
	return m, nil
}

func (m *DetectorMetrics) initMetrics() {
	m.DetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepfake_detections_total",
			Help: "Total number of completed detections partitioned by predicted label.",
		},
		[]string{"label"},
	)
	m.DetectionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepfake_detection_errors_total",
			Help: "Total number of failed detections partitioned by error category.",
		},
		[]string{"category"},
	)
	m.DetectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepfake_detection_duration_seconds",
			Help:    "Time taken to extract features and classify one upload.",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
		},
	)
	m.FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepfake_feedback_total",
			Help: "Total number of feedback submissions partitioned by label and outcome.",
		},
		[]string{"label", "status"},
	)
	m.SampleCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepfake_training_samples",
			Help: "Number of labeled samples available for training.",
		},
	)
	m.PendingPersistence = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepfake_samples_pending_persistence",
			Help: "Samples accepted in memory that are not yet durable.",
		},
	)
	m.ExtractionCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepfake_feature_cache_lookups_total",
			Help: "Feature cache lookups partitioned by result.",
		},
		[]string{"result"},
	)
}

// RecordDetection records one detect call
func (m *DetectorMetrics) RecordDetection(deepfake bool, duration time.Duration, err error) {
	if err != nil {
		m.DetectionErrors.WithLabelValues(string(errors.CategoryOf(err))).Inc()
		return
	}
	m.DetectionsTotal.WithLabelValues(labelName(deepfake)).Inc()
	m.DetectionDuration.Observe(duration.Seconds())
}

// RecordFeedback records one feedback submission. A degraded-persistence acceptance is
// counted separately from a failure.
func (m *DetectorMetrics) RecordFeedback(deepfake bool, degraded bool, err error) {
	status := statusOf(err)
	if err == nil && degraded {
		status = StatusDegraded
	}
	m.FeedbackTotal.WithLabelValues(labelName(deepfake), status).Inc()
}

// SetSampleState publishes the sample count and the persistence backlog
func (m *DetectorMetrics) SetSampleState(count, pending int) {
	m.SampleCount.Set(float64(count))
	m.PendingPersistence.Set(float64(pending))
}

// RecordCacheLookup records a feature cache hit or miss
func (m *DetectorMetrics) RecordCacheLookup(hit bool) {
	if hit {
		m.ExtractionCacheHits.WithLabelValues("hit").Inc()
		return
	}
	m.ExtractionCacheHits.WithLabelValues("miss").Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *DetectorMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.DetectionsTotal.Describe(ch)
	m.DetectionErrors.Describe(ch)
	ch <- m.DetectionDuration.Desc()
	m.FeedbackTotal.Describe(ch)
	ch <- m.SampleCount.Desc()
	ch <- m.PendingPersistence.Desc()
	m.ExtractionCacheHits.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *DetectorMetrics) Collect(ch chan<- prometheus.Metric) {
	m.DetectionsTotal.Collect(ch)
	m.DetectionErrors.Collect(ch)
	ch <- m.DetectionDuration
	m.FeedbackTotal.Collect(ch)
	ch <- m.SampleCount
	ch <- m.PendingPersistence
	m.ExtractionCacheHits.Collect(ch)
}
