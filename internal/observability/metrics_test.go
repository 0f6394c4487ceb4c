package observability

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/errors"
)

func gather(t *testing.T, m *Metrics) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()
	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			m, err := NewMetrics()
			assert.NoError(t, err)
			if assert.NotNil(t, m) {
				assert.NotNil(t, m.Detector)
				assert.NotNil(t, m.Retrain)
				assert.NotNil(t, m.HTTP)
			}
		})
	}
	wg.Wait()
}

func TestDetectorMetrics(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Detector.RecordDetection(true, 20*time.Millisecond, nil)
	m.Detector.RecordDetection(false, 10*time.Millisecond, nil)
	m.Detector.RecordDetection(false, 0, errors.Newf("bad upload").Category(errors.CategoryMediaInput).Build())
	m.Detector.RecordFeedback(true, true, nil)
	m.Detector.SetSampleState(12, 1)

	families := gather(t, m)

	detections := families["deepfake_detections_total"]
	require.NotNil(t, detections)
	assert.Len(t, detections.GetMetric(), 2)

	errs := families["deepfake_detection_errors_total"]
	require.NotNil(t, errs)
	require.Len(t, errs.GetMetric(), 1)
	assert.Equal(t, "media-input", labelValue(errs.GetMetric()[0], "category"))

	feedback := families["deepfake_feedback_total"].GetMetric()[0]
	assert.Equal(t, "deepfake", labelValue(feedback, "label"))
	assert.Equal(t, "degraded", labelValue(feedback, "status"))

	assert.InDelta(t, 12, families["deepfake_training_samples"].GetMetric()[0].GetGauge().GetValue(), 0)
	assert.InDelta(t, 1, families["deepfake_samples_pending_persistence"].GetMetric()[0].GetGauge().GetValue(), 0)
	assert.Equal(t, uint64(2), families["deepfake_detection_duration_seconds"].GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestRetrainMetrics(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Retrain.RecordRetrain("manual", time.Second, nil)
	m.Retrain.RecordRetrain("auto", 0, errors.Newf("busy").Category(errors.CategoryRetrainConflict).Build())
	m.Retrain.RecordRetrain("auto", 0, fmt.Errorf("diverged"))
	m.Retrain.SetActiveModel(3, true, 40)
	m.Retrain.SetRetrainInProgress(true)

	families := gather(t, m)
	statuses := map[string]float64{}
	for _, metric := range families["deepfake_retrain_total"].GetMetric() {
		statuses[labelValue(metric, "trigger")+"/"+labelValue(metric, "status")] = metric.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{"manual/success": 1, "auto/rejected": 1, "auto/error": 1}, statuses)

	assert.InDelta(t, 3, families["deepfake_model_active_version"].GetMetric()[0].GetGauge().GetValue(), 0)
	assert.InDelta(t, 1, families["deepfake_model_loaded"].GetMetric()[0].GetGauge().GetValue(), 0)
	assert.InDelta(t, 1, families["deepfake_retrain_in_progress"].GetMetric()[0].GetGauge().GetValue(), 0)
}

func TestHandlerServesExposition(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics()
	require.NoError(t, err)
	m.HTTP.RecordRequest(http.MethodPost, "/api/deepfake/analyze", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `deepfake_http_requests_total{code="200",method="POST",route="/api/deepfake/analyze"} 1`)
}

func TestNewEndpointRequiresTelemetry(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics()
	require.NoError(t, err)

	_, err = NewEndpoint(&conf.Settings{}, m)
	require.Error(t, err)

	settings := &conf.Settings{}
	settings.Telemetry.Enabled = true
	settings.Telemetry.Listen = "127.0.0.1:0"
	e, err := NewEndpoint(settings, m)
	require.NoError(t, err)
	assert.NotNil(t, e)
}
