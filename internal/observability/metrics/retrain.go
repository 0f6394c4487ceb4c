package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cybershakti/deepfake-go/internal/errors"
)

// RetrainMetrics covers the retrain controller and the active model
type RetrainMetrics struct {
	RetrainTotal      *prometheus.CounterVec
	RetrainDuration   prometheus.Histogram
	RetrainInProgress prometheus.Gauge
	ActiveVersion     prometheus.Gauge
	ModelLoaded       prometheus.Gauge
	TrainedOnSamples  prometheus.Gauge
}

// NewRetrainMetrics creates and registers the retrain collectors
func NewRetrainMetrics(registry *prometheus.Registry) (*RetrainMetrics, error) {
	m := &RetrainMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register retrain metrics: %w", err)
	}
	return m, nil
}

func (m *RetrainMetrics) initMetrics() {
	m.RetrainTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepfake_retrain_total",
			Help: "Retrain attempts partitioned by trigger and outcome.",
		},
		[]string{"trigger", "status"},
	)
	m.RetrainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepfake_retrain_duration_seconds",
			Help:    "Time taken by successful retrains, swap included.",
			Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount10),
		},
	)
	m.RetrainInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepfake_retrain_in_progress",
			Help: "Whether a retrain is currently running (1) or not (0).",
		},
	)
	m.ActiveVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepfake_model_active_version",
			Help: "Version of the active classifier snapshot.",
		},
	)
	m.ModelLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepfake_model_loaded",
			Help: "Whether a trained model is active (1) or the baseline is in use (0).",
		},
	)
	m.TrainedOnSamples = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepfake_model_trained_on_samples",
			Help: "Number of samples the active model was trained on.",
		},
	)
}

// RecordRetrain records the outcome of one retrain attempt. Rejections (busy controller or
// too few samples) are counted apart from failures.
func (m *RetrainMetrics) RecordRetrain(trigger string, duration time.Duration, err error) {
	status := statusOf(err)
	if errors.IsCategory(err, errors.CategoryRetrainConflict) || errors.IsCategory(err, errors.CategoryInsufficientData) {
		status = StatusRejected
	}
	m.RetrainTotal.WithLabelValues(trigger, status).Inc()
	if err == nil {
		m.RetrainDuration.Observe(duration.Seconds())
	}
}

// SetRetrainInProgress flips the in-progress gauge
func (m *RetrainMetrics) SetRetrainInProgress(running bool) {
	if running {
		m.RetrainInProgress.Set(1)
		return
	}
	m.RetrainInProgress.Set(0)
}

// SetActiveModel publishes the active snapshot
func (m *RetrainMetrics) SetActiveModel(version uint64, trained bool, samples int) {
	m.ActiveVersion.Set(float64(version))
	m.TrainedOnSamples.Set(float64(samples))
	if trained {
		m.ModelLoaded.Set(1)
	} else {
		m.ModelLoaded.Set(0)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *RetrainMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.RetrainTotal.Describe(ch)
	ch <- m.RetrainDuration.Desc()
	ch <- m.RetrainInProgress.Desc()
	ch <- m.ActiveVersion.Desc()
	ch <- m.ModelLoaded.Desc()
	ch <- m.TrainedOnSamples.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *RetrainMetrics) Collect(ch chan<- prometheus.Metric) {
	m.RetrainTotal.Collect(ch)
	ch <- m.RetrainDuration
	ch <- m.RetrainInProgress
	ch <- m.ActiveVersion
	ch <- m.ModelLoaded
	ch <- m.TrainedOnSamples
}
