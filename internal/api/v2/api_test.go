package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	mw "github.com/cybershakti/deepfake-go/internal/api/middleware"
	"github.com/cybershakti/deepfake-go/internal/archive"
	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/detector"
	"github.com/cybershakti/deepfake-go/internal/features"
	"github.com/cybershakti/deepfake-go/internal/logger"
	"github.com/cybershakti/deepfake-go/internal/observability"
	"github.com/cybershakti/deepfake-go/internal/retrain"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Detect(ctx context.Context, data []byte) (*detector.Result, error) {
	args := m.Called(ctx, data)
	res, _ := args.Get(0).(*detector.Result)
	return res, args.Error(1)
}

func (m *mockEngine) SubmitFeedback(ctx context.Context, fb detector.Feedback) (*detector.FeedbackResult, error) {
	args := m.Called(ctx, fb)
	res, _ := args.Get(0).(*detector.FeedbackResult)
	return res, args.Error(1)
}

func (m *mockEngine) Stats() detector.Stats {
	return m.Called().Get(0).(detector.Stats)
}

func (m *mockEngine) ManualRetrain(ctx context.Context) (*detector.RetrainResult, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*detector.RetrainResult)
	return res, args.Error(1)
}

func (m *mockEngine) Rollback(ctx context.Context, version uint64) (*detector.RetrainResult, error) {
	args := m.Called(ctx, version)
	res, _ := args.Get(0).(*detector.RetrainResult)
	return res, args.Error(1)
}

func testSettings() *conf.Settings {
	settings := &conf.Settings{}
	settings.Detector.MinSamples = 10
	settings.Detector.AutoRetrain = true
	return settings
}

func setupTestEnvironment(t *testing.T, settings *conf.Settings, opts ...Option) (*echo.Echo, *mockEngine) {
	t.Helper()
	if settings == nil {
		settings = testSettings()
	}
	e := echo.New()
	e.Use(mw.NewRequestID())
	engine := new(mockEngine)
	opts = append(opts, WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)))
	_, err := New(e, engine, settings, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { engine.AssertExpectations(t) })
	return e, engine
}

// multipartRequest builds a POST with an optional file part and form fields
func multipartRequest(t *testing.T, path string, file []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if file != nil {
		part, err := w.CreateFormFile("file", "upload.png")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAnalyze(t *testing.T) {
	t.Parallel()

	t.Run("returns result with metadata", func(t *testing.T) {
		t.Parallel()
		e, engine := setupTestEnvironment(t, nil)
		engine.On("Detect", mock.Anything, []byte("image-bytes")).
			Return(&detector.Result{Label: true, Confidence: 0.83, ModelVersion: 4}, nil).Once()

		rec := serve(e, multipartRequest(t, "/api/deepfake/analyze", []byte("image-bytes"), nil))
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[map[string]any](t, rec)
		assert.Equal(t, true, resp["is_deepfake"])
		assert.InDelta(t, 0.83, resp["confidence"], 1e-9)
		assert.InDelta(t, 4, resp["model_version"], 0)

		meta, ok := resp["metadata"].(map[string]any)
		require.True(t, ok, "metadata should be an object")
		assert.Equal(t, "upload.png", meta["filename"])
		assert.InDelta(t, len("image-bytes"), meta["file_size"], 0)
		assert.NotEmpty(t, meta["timestamp"])
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		e, _ := setupTestEnvironment(t, nil)

		rec := serve(e, multipartRequest(t, "/api/deepfake/analyze", nil, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)

		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "No file uploaded", resp.Message)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), resp.CorrelationID)
	})

	t.Run("unsupported media is a client error", func(t *testing.T) {
		t.Parallel()
		e, engine := setupTestEnvironment(t, nil)
		engine.On("Detect", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("%w: text/plain", features.ErrUnsupportedMedia)).Once()

		rec := serve(e, multipartRequest(t, "/api/deepfake/analyze", []byte("hello"), nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("internal failure", func(t *testing.T) {
		t.Parallel()
		e, engine := setupTestEnvironment(t, nil)
		engine.On("Detect", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("ffmpeg crashed")).Once()

		rec := serve(e, multipartRequest(t, "/api/deepfake/analyze", []byte("video"), nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Analysis failed", decode[ErrorResponse](t, rec).Message)
	})
}

func TestParseLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    bool
		wantErr bool
	}{
		{raw: "", want: false},
		{raw: "true", want: true},
		{raw: "false", want: false},
		{raw: "1", want: true},
		{raw: "0", want: false},
		{raw: "2", want: true},
		{raw: "TRUE", want: true},
		{raw: "False", want: false},
		{raw: `"true"`, want: true},
		{raw: "null", want: false},
		{raw: "yes", wantErr: true},
		{raw: "[true]", wantErr: true},
		{raw: `"maybe"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLabel(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, detector.ErrMissingLabel)
				assert.True(t, detector.IsInputError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFeedback(t *testing.T) {
	t.Parallel()

	t.Run("multipart form", func(t *testing.T) {
		t.Parallel()
		e, engine := setupTestEnvironment(t, nil)
		engine.On("SubmitFeedback", mock.Anything, mock.MatchedBy(func(fb detector.Feedback) bool {
			return fb.Label && fb.AutoRetrain && string(fb.Data) == "fake" && fb.Source == ""
		})).Return(&detector.FeedbackResult{Accepted: true, SampleID: 7, RetrainTriggered: true}, nil).Once()

		rec := serve(e, multipartRequest(t, "/api/deepfake/feedback", []byte("fake"),
			map[string]string{"is_deepfake": "true"}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decode[map[string]any](t, rec)
		assert.Equal(t, true, resp["accepted"])
		assert.InDelta(t, 7, resp["sample_id"], 0)
		assert.Equal(t, true, resp["retrain_triggered"])
		assert.Contains(t, resp["message"], "retraining started")
		assert.NotContains(t, resp, "warning")
	})

	t.Run("auto retrain can be disabled per request", func(t *testing.T) {
		t.Parallel()
		e, engine := setupTestEnvironment(t, nil)
		engine.On("SubmitFeedback", mock.Anything, mock.MatchedBy(func(fb detector.Feedback) bool {
			return !fb.Label && !fb.AutoRetrain
		})).Return(&detector.FeedbackResult{Accepted: true, SampleID: 1}, nil).Once()

		rec := serve(e, multipartRequest(t, "/api/deepfake/feedback", []byte("real"),
			map[string]string{"is_deepfake": "0", "auto_retrain": "false"}))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("json body", func(t *testing.T) {
		t.Parallel()
		e, engine := setupTestEnvironment(t, nil)
		engine.On("SubmitFeedback", mock.Anything, mock.MatchedBy(func(fb detector.Feedback) bool {
			return fb.Label && !fb.AutoRetrain && string(fb.Data) == "json-bytes" && fb.Source == "cam-3"
		})).Return(&detector.FeedbackResult{Accepted: true, SampleID: 2, Warning: "disk full"}, nil).Once()

		body, err := json.Marshal(map[string]any{
			"is_deepfake":  true,
			"file":         []byte("json-bytes"),
			"source":       "cam-3",
			"auto_retrain": false,
		})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/deepfake/feedback", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

		rec := serve(e, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[map[string]any](t, rec)
		assert.Equal(t, "disk full", resp["warning"])
		assert.Contains(t, resp["message"], "persistence pending")
	})

	t.Run("invalid label", func(t *testing.T) {
		t.Parallel()
		e, _ := setupTestEnvironment(t, nil)

		rec := serve(e, multipartRequest(t, "/api/deepfake/feedback", []byte("x"),
			map[string]string{"is_deepfake": "perhaps"}))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode[ErrorResponse](t, rec).Error, "perhaps")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		e, _ := setupTestEnvironment(t, nil)

		rec := serve(e, multipartRequest(t, "/api/deepfake/feedback", nil,
			map[string]string{"is_deepfake": "true"}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("corrupt media", func(t *testing.T) {
		t.Parallel()
		e, engine := setupTestEnvironment(t, nil)
		engine.On("SubmitFeedback", mock.Anything, mock.Anything).
			Return(nil, features.ErrCorruptMedia).Once()

		rec := serve(e, multipartRequest(t, "/api/deepfake/feedback", []byte("x"), nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetStats(t *testing.T) {
	t.Parallel()
	e, engine := setupTestEnvironment(t, nil)
	engine.On("Stats").Return(detector.Stats{
		SampleCount:   12,
		ModelLoaded:   true,
		ActiveVersion: 3,
		RetrainState:  "idle",
	}).Once()

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/deepfake/stats", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[map[string]any](t, rec)
	assert.InDelta(t, 12, resp["training_samples"], 0)
	assert.Equal(t, true, resp["model_loaded"])
	assert.InDelta(t, 3, resp["active_version"], 0)
	assert.Equal(t, "idle", resp["retrain_state"])
}

func TestRetrain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"insufficient data", fmt.Errorf("%w (minimum 10 samples, have 3)", retrain.ErrInsufficientData), http.StatusBadRequest},
		{"already running", retrain.ErrRetrainInProgress, http.StatusConflict},
		{"training failed", fmt.Errorf("%w: diverged", retrain.ErrTrainingFailed), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, engine := setupTestEnvironment(t, nil)
			engine.On("ManualRetrain", mock.Anything).Return(nil, tt.err).Once()

			rec := serve(e, httptest.NewRequest(http.MethodPost, "/api/deepfake/retrain", http.NoBody))
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}

	t.Run("insufficient data names the minimum", func(t *testing.T) {
		t.Parallel()
		e, engine := setupTestEnvironment(t, nil)
		engine.On("ManualRetrain", mock.Anything).Return(nil, retrain.ErrInsufficientData).Once()

		rec := serve(e, httptest.NewRequest(http.MethodPost, "/api/deepfake/retrain", http.NoBody))
		assert.Contains(t, decode[ErrorResponse](t, rec).Message, "at least 10")
	})

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		e, engine := setupTestEnvironment(t, nil)
		engine.On("ManualRetrain", mock.Anything).
			Return(&detector.RetrainResult{Version: 5, PreviousVersion: 4, TrainedOnSampleCount: 20}, nil).Once()

		rec := serve(e, httptest.NewRequest(http.MethodPost, "/api/deepfake/retrain", http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[map[string]any](t, rec)
		assert.InDelta(t, 5, resp["version"], 0)
		assert.InDelta(t, 4, resp["previous_version"], 0)
		assert.Equal(t, "Model retrained on 20 samples", resp["message"])
	})
}

func TestRollback(t *testing.T) {
	t.Parallel()

	jsonRequest := func(body string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/deepfake/rollback", bytes.NewBufferString(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		return req
	}

	t.Run("version required", func(t *testing.T) {
		t.Parallel()
		e, _ := setupTestEnvironment(t, nil)
		assert.Equal(t, http.StatusBadRequest, serve(e, jsonRequest(`{}`)).Code)
		assert.Equal(t, http.StatusBadRequest, serve(e, jsonRequest(`{"version":"two"}`)).Code)
	})

	t.Run("unknown version", func(t *testing.T) {
		t.Parallel()
		e, engine := setupTestEnvironment(t, nil)
		engine.On("Rollback", mock.Anything, uint64(9)).
			Return(nil, fmt.Errorf("%w: version 9", archive.ErrSnapshotNotFound)).Once()

		assert.Equal(t, http.StatusNotFound, serve(e, jsonRequest(`{"version":9}`)).Code)
	})

	t.Run("conflict", func(t *testing.T) {
		t.Parallel()
		e, engine := setupTestEnvironment(t, nil)
		engine.On("Rollback", mock.Anything, uint64(1)).Return(nil, retrain.ErrRetrainInProgress).Once()

		assert.Equal(t, http.StatusConflict, serve(e, jsonRequest(`{"version":1}`)).Code)
	})

	t.Run("restores", func(t *testing.T) {
		t.Parallel()
		e, engine := setupTestEnvironment(t, nil)
		from := uint64(2)
		engine.On("Rollback", mock.Anything, uint64(2)).
			Return(&detector.RetrainResult{Version: 6, PreviousVersion: 5, RestoredFrom: &from}, nil).Once()

		rec := serve(e, jsonRequest(`{"version":2}`))
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[map[string]any](t, rec)
		assert.InDelta(t, 6, resp["version"], 0)
		assert.InDelta(t, 2, resp["restored_from"], 0)
	})
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()
	metrics, err := observability.NewMetrics()
	require.NoError(t, err)
	e, _ := setupTestEnvironment(t, nil, WithMetrics(metrics))

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/deepfake/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestUploadRateLimit(t *testing.T) {
	t.Parallel()
	settings := testSettings()
	settings.WebServer.RateLimit = conf.RateLimitSettings{Enabled: true, Rate: 0.001, Burst: 1}
	e, engine := setupTestEnvironment(t, settings)
	engine.On("Detect", mock.Anything, mock.Anything).Return(&detector.Result{}, nil).Once()
	engine.On("Stats").Return(detector.Stats{}).Once()

	first := serve(e, multipartRequest(t, "/api/deepfake/analyze", []byte("a"), nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := serve(e, multipartRequest(t, "/api/deepfake/analyze", []byte("a"), nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// reads are not limited
	stats := serve(e, httptest.NewRequest(http.MethodGet, "/api/deepfake/stats", http.NoBody))
	assert.Equal(t, http.StatusOK, stats.Code)
}

func TestIPExtractor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"cloudflare header wins", map[string]string{"CF-Connecting-IP": "203.0.113.7", echo.HeaderXForwardedFor: "198.51.100.1"}, "10.0.0.1:5000", "203.0.113.7"},
		{"first valid forwarded entry", map[string]string{echo.HeaderXForwardedFor: "junk, 198.51.100.1, 198.51.100.2"}, "10.0.0.1:5000", "198.51.100.1"},
		{"real ip header", map[string]string{echo.HeaderXRealIP: "198.51.100.9"}, "10.0.0.1:5000", "198.51.100.9"},
		{"remote address", nil, "10.0.0.1:5000", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, IPExtractor(req))
		})
	}
}

func TestNewRequiresEngine(t *testing.T) {
	t.Parallel()
	_, err := New(echo.New(), nil, testSettings())
	require.Error(t, err)
}
