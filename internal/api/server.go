package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/cybershakti/deepfake-go/internal/api/middleware"
	v2 "github.com/cybershakti/deepfake-go/internal/api/v2"
	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/logger"
	"github.com/cybershakti/deepfake-go/internal/observability"
)

// Server is the HTTP server of the detection service.
// It manages the Echo instance, the middleware stack and the /api/deepfake routes.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	log      logger.Logger

	engine  v2.Engine
	metrics *observability.Metrics

	apiController *v2.Controller
	startTime     time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithMetrics enables HTTP metrics and the /api/deepfake/metrics route.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger overrides the server logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// New creates a new HTTP server serving engine.
func New(settings *conf.Settings, engine v2.Engine, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:    config,
		settings:  settings,
		engine:    engine,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Logger = logger.NewEchoLoggerAdapter(s.log.Module("echo"))
	s.echo.IPExtractor = v2.IPExtractor

	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Listen),
		logger.String("body_limit", config.BodyLimit),
		logger.Bool("debug", config.Debug))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestID())

	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}

	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, func(c echo.Context) bool {
		return c.Path() == "/health"
	}))

	securityConfig := mw.DefaultSecurityConfig()
	securityConfig.AllowedOrigins = s.config.AllowedOrigins

	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() error {
	s.echo.GET("/health", s.healthCheck)

	var opts []v2.Option
	if s.metrics != nil {
		opts = append(opts, v2.WithMetrics(s.metrics))
	}
	apiController, err := v2.New(s.echo, s.engine, s.settings, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize API: %w", err)
	}
	s.apiController = apiController
	return nil
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	stats := s.engine.Stats()

	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"model_loaded":   stats.ModelLoaded,
		"model_version":  stats.ActiveVersion,
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Run serves requests until ctx is cancelled, then shuts down gracefully. A listener that
// fails to start is returned as an error.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server starting", logger.String("address", s.config.Listen))
		if err := s.echo.Start(s.config.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutdown signal received, stopping HTTP server")
	return s.Shutdown()
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info("HTTP server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
// This is useful for testing or advanced configuration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// APIController returns the /api/deepfake controller.
func (s *Server) APIController() *v2.Controller {
	return s.apiController
}
