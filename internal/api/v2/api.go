// Package api implements the /api/deepfake JSON endpoints
package api

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	mw "github.com/cybershakti/deepfake-go/internal/api/middleware"
	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/detector"
	"github.com/cybershakti/deepfake-go/internal/errors"
	"github.com/cybershakti/deepfake-go/internal/logger"
	"github.com/cybershakti/deepfake-go/internal/observability"
)

// BasePath is the route prefix of every endpoint in this package
const BasePath = "/api/deepfake"

// Engine is the detection engine as seen by the HTTP layer
type Engine interface {
	Detect(ctx context.Context, data []byte) (*detector.Result, error)
	SubmitFeedback(ctx context.Context, fb detector.Feedback) (*detector.FeedbackResult, error)
	Stats() detector.Stats
	ManualRetrain(ctx context.Context) (*detector.RetrainResult, error)
	Rollback(ctx context.Context, version uint64) (*detector.RetrainResult, error)
}

// Controller manages the API routes and handlers
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Engine   Engine
	Settings *conf.Settings

	metrics *observability.Metrics
	logger  logger.Logger
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithMetrics enables the /metrics route and upload accounting.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithLogger overrides the package logger, used by tests.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// New creates the controller and registers its routes on e
func New(e *echo.Echo, engine Engine, settings *conf.Settings, opts ...Option) (*Controller, error) {
	if engine == nil {
		return nil, errors.Newf("detection engine is required").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	c := &Controller{
		Echo:     e,
		Engine:   engine,
		Settings: settings,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = GetLogger()
	}

	c.Group = e.Group(BasePath)
	c.initRoutes()
	return c, nil
}

// initRoutes registers all API endpoints
func (c *Controller) initRoutes() {
	var upload []echo.MiddlewareFunc
	if rl := c.Settings.WebServer.RateLimit; rl.Enabled {
		var onDeny func(string)
		if c.metrics != nil {
			onDeny = c.metrics.HTTP.RecordRateLimited
		}
		upload = append(upload, mw.NewRateLimiter(mw.RateLimitConfig{
			Rate:  rl.Rate,
			Burst: rl.Burst,
		}, onDeny))
	}

	c.Group.POST("/analyze", c.Analyze, upload...)
	c.Group.POST("/feedback", c.Feedback, upload...)
	c.Group.GET("/stats", c.GetStats)
	c.Group.POST("/retrain", c.Retrain)
	c.Group.POST("/rollback", c.Rollback)

	if c.metrics != nil {
		c.Group.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// IPExtractor prefers CF-Connecting-IP, then the first valid X-Forwarded-For entry, then
// X-Real-IP, then the remote address.
func IPExtractor(req *http.Request) string {
	if ip := net.ParseIP(req.Header.Get("CF-Connecting-IP")); ip != nil {
		return ip.String()
	}

	if xff := req.Header.Get(echo.HeaderXForwardedFor); xff != "" {
		for part := range strings.SplitSeq(xff, ",") {
			if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
				return ip.String()
			}
		}
	}

	if ip := net.ParseIP(req.Header.Get(echo.HeaderXRealIP)); ip != nil {
		return ip.String()
	}

	remoteAddr, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return remoteAddr
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // request ID, quote it when reporting problems
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int, correlationID string) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: correlationID,
	}
}

// HandleError logs err and writes it as an ErrorResponse
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	correlationID := ctx.Response().Header().Get(echo.HeaderXRequestID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	resp := NewErrorResponse(err, message, code, correlationID)

	fields := []logger.Field{
		logger.String("correlation_id", correlationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	log := c.logger.WithContext(ctx.Request().Context())
	if code >= http.StatusInternalServerError {
		log.Error("API error", fields...)
	} else {
		log.Warn("API request rejected", fields...)
	}

	return ctx.JSON(code, resp)
}
