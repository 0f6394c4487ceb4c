package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimitConfig is a per-client token bucket
type RateLimitConfig struct {
	Rate      float64       // sustained requests per second
	Burst     int           // bucket size
	ExpiresIn time.Duration // idle clients are forgotten after this
}

// NewRateLimiter limits requests per client IP. onDeny, if set, is called with the route of
// every rejected request.
func NewRateLimiter(cfg RateLimitConfig, onDeny func(route string)) echo.MiddlewareFunc {
	if cfg.ExpiresIn <= 0 {
		cfg.ExpiresIn = 3 * time.Minute
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.Rate),
		Burst:     cfg.Burst,
		ExpiresIn: cfg.ExpiresIn,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, map[string]string{
				"error": "unable to identify client",
			})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			if onDeny != nil {
				onDeny(c.Path())
			}
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "too many requests, please wait before trying again",
			})
		},
	})
}
