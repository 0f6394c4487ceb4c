// Package observability wires the Prometheus collectors and serves them over HTTP
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cybershakti/deepfake-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application
type Metrics struct {
	registry *prometheus.Registry
	Detector *metrics.DetectorMetrics
	Retrain  *metrics.RetrainMetrics
	HTTP     *metrics.HTTPMetrics
}

// NewMetrics creates a registry with every collector registered. Each call gets its own
// registry, so tests can create as many as they like.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	detectorMetrics, err := metrics.NewDetectorMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector metrics: %w", err)
	}

	retrainMetrics, err := metrics.NewRetrainMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrain metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Detector: detectorMetrics,
		Retrain:  retrainMetrics,
		HTTP:     httpMetrics,
	}, nil
}

// Registry exposes the underlying registry, used by tests to gather values
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promLogger{},
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// RegisterHandlers registers the metrics endpoint with mux
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", m.Handler())
}

// promLogger routes promhttp errors to the module logger
type promLogger struct{}

func (promLogger) Println(v ...any) {
	GetLogger().Error(fmt.Sprint(v...))
}
