package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybershakti/deepfake-go/internal/logger"
)

type observation struct {
	method, route string
	code          int
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []observation
}

func (f *fakeRecorder) RecordRequest(method, route string, code int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, observation{method, route, code})
}

func TestMetricsRecordsRouteAndStatus(t *testing.T) {
	t.Parallel()
	rec := &fakeRecorder{}
	e := echo.New()
	e.Use(NewMetrics(rec))
	e.GET("/items/:id", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.GET("/broken", func(c echo.Context) error { return echo.NewHTTPError(http.StatusTeapot) })

	for _, path := range []string{"/items/42", "/broken", "/missing"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	require.Len(t, rec.seen, 3)
	assert.Equal(t, observation{http.MethodGet, "/items/:id", http.StatusNoContent}, rec.seen[0])
	assert.Equal(t, http.StatusTeapot, rec.seen[1].code)
	assert.Equal(t, http.StatusNotFound, rec.seen[2].code)
}

func TestRequestIDReachesContext(t *testing.T) {
	t.Parallel()
	e := echo.New()
	e.Use(NewRequestID())

	var traceID string
	e.GET("/", func(c echo.Context) error {
		traceID, _ = c.Request().Context().Value(logger.TraceIDKey).(string)
		return c.NoContent(http.StatusOK)
	})

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	require.NotEmpty(t, traceID)
	assert.Equal(t, traceID, w.Header().Get(echo.HeaderXRequestID))

	// a client supplied ID is kept
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(echo.HeaderXRequestID, "client-id")
	w = httptest.NewRecorder()
	e.ServeHTTP(w, req)
	assert.Equal(t, "client-id", traceID)
}

func TestRateLimiterDeniesBurst(t *testing.T) {
	t.Parallel()
	var denied []string
	e := echo.New()
	e.POST("/upload", func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		NewRateLimiter(RateLimitConfig{Rate: 0.001, Burst: 2}, func(route string) {
			denied = append(denied, route)
		}))

	codes := make([]int, 0, 3)
	for range 3 {
		w := httptest.NewRecorder()
		e.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/upload", http.NoBody))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, []string{"/upload"}, denied)
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()
	e := echo.New()
	e.Use(NewBodyLimit("1K"))
	e.POST("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 4096))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
