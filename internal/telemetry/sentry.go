// Package telemetry initialises Sentry error reporting
package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/errors"
	"github.com/cybershakti/deepfake-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once

	sentryInitialized bool
	sentryMu          sync.Mutex
)

// GetLogger returns the telemetry module logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("telemetry")
	})
	return serviceLogger
}

// allowedExtras are the only event extras that leave the process
var allowedExtras = map[string]bool{
	"operation":    true,
	"component":    true,
	"error_type":   true,
	"version":      true,
	"sample_count": true,
}

// InitSentry starts the Sentry client and routes enhanced errors to it. It is a no-op when
// sentry.enabled is false.
func InitSentry(settings *conf.Settings, release string) error {
	if !settings.Sentry.Enabled {
		return nil
	}
	if settings.Sentry.DSN == "" {
		return fmt.Errorf("sentry enabled but no DSN configured")
	}

	sentryMu.Lock()
	defer sentryMu.Unlock()
	if sentryInitialized {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "", // keep hostnames out of events
		Release:          "deepfake-go@" + release,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	sentryInitialized = true
	GetLogger().Info("error telemetry enabled")
	return nil
}

// Flush waits up to timeout for queued events to be sent
func Flush(timeout time.Duration) {
	sentryMu.Lock()
	initialized := sentryInitialized
	sentryMu.Unlock()
	if initialized {
		sentry.Flush(timeout)
	}
}

// applyPrivacyFilters strips user, host and runtime details from an event
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if !allowedExtras[k] {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
