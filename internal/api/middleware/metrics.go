package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestRecorder receives one observation per request
type RequestRecorder interface {
	RecordRequest(method, route string, code int, duration time.Duration)
}

// NewMetrics records method, matched route, status and latency. Routes are the registered
// patterns, so label cardinality stays bounded.
func NewMetrics(rec RequestRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			rec.RecordRequest(c.Request().Method, route, status, time.Since(start))
			return err
		}
	}
}
