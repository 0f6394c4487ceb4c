// Package api provides the HTTP server infrastructure. The JSON endpoints live in the v2
// subpackage.
package api

import (
	"fmt"
	"time"

	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("server")
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 60 * time.Second // uploads of large videos
	DefaultWriteTimeout    = 10 * time.Minute // POST /retrain trains synchronously
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen         string   // address to listen on, e.g. ":5001"
	AllowedOrigins []string // CORS allowed origins

	// Timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Limits
	BodyLimit string // maximum request body size, e.g. "100M"

	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":5001",
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       "100M",
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings.WebServer.Listen != "" {
		cfg.Listen = settings.WebServer.Listen
	}
	if settings.WebServer.MaxUploadMB > 0 {
		cfg.BodyLimit = fmt.Sprintf("%dM", settings.WebServer.MaxUploadMB)
	}
	// a synchronous retrain must fit in one response
	if limit := settings.Detector.TrainingTimeout + time.Minute; limit > cfg.WriteTimeout {
		cfg.WriteTimeout = limit
	}
	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	return nil
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf("Server Config: address=%s, body_limit=%s, debug=%v",
		c.Listen, c.BodyLimit, c.Debug)
}
