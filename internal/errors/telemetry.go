package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter receives enhanced errors as they are built
type TelemetryReporter interface {
	ReportError(ee *EnhancedError)
	IsEnabled() bool
}

// SentryReporter forwards enhanced errors to Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a reporter. The Sentry client must be initialised separately.
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether the reporter sends anything
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError sends the error to Sentry with its component, category and context as tags
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee == nil || ee.IsReported() {
		return
	}

	// Expected client-side conditions are not worth an event
	switch ee.Category {
	case CategoryMediaInput, CategoryInsufficientData, CategoryRetrainConflict, CategoryCancellation:
		ee.MarkReported()
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}
		scope.SetLevel(getErrorLevel(ee.Category))

		for key, value := range ee.GetContext() {
			scope.SetExtra(key, value)
		}

		event := sentry.NewEvent()
		event.Level = getErrorLevel(ee.Category)
		event.Message = scrubMessageForPrivacy(ee.Error())
		event.Exception = []sentry.Exception{{
			Type:  generateErrorTitle(ee),
			Value: scrubMessageForPrivacy(ee.Error()),
		}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// generateErrorTitle builds a grouping-friendly title like "Classifier Training Error"
func generateErrorTitle(ee *EnhancedError) string {
	component := titleCase(ee.GetComponent())
	category := formatCategoryForTitle(ee.Category)

	if op, ok := ee.GetContext()["operation"].(string); ok && op != "" {
		return fmt.Sprintf("%s %s (%s)", component, category, formatOperationForTitle(op))
	}
	return fmt.Sprintf("%s %s", component, category)
}

func formatCategoryForTitle(category ErrorCategory) string {
	switch category {
	case CategoryTraining:
		return "Training Error"
	case CategoryModelLoad:
		return "Model Load Error"
	case CategoryModelPersist:
		return "Model Persist Error"
	case CategoryPersistenceDegraded:
		return "Persistence Degraded"
	case CategoryFeatureExtraction:
		return "Feature Extraction Error"
	case CategoryDatabase:
		return "Database Error"
	case CategoryFileIO:
		return "File I/O Error"
	case CategoryNetwork:
		return "Network Error"
	case CategoryConfiguration:
		return "Configuration Error"
	case CategoryArchive:
		return "Archive Error"
	case CategoryJobQueue:
		return "Job Queue Error"
	case CategoryTimeout:
		return "Timeout"
	default:
		return titleCase(strings.ReplaceAll(string(category), "-", " ")) + " Error"
	}
}

func formatOperationForTitle(operation string) string {
	return titleCase(strings.ReplaceAll(operation, "_", " "))
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryModelLoad, CategoryModelPersist, CategoryDatabase:
		return sentry.LevelError
	case CategoryTraining, CategoryPersistenceDegraded, CategorySystem:
		return sentry.LevelWarning
	case CategoryValidation, CategoryMediaInput, CategoryTimeout:
		return sentry.LevelInfo
	default:
		return sentry.LevelError
	}
}

var (
	telemetryMu             sync.RWMutex
	globalTelemetryReporter TelemetryReporter
)

// SetTelemetryReporter installs the process-wide reporter. Passing nil disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	globalTelemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// GetTelemetryReporter returns the installed reporter, if any
func GetTelemetryReporter() TelemetryReporter {
	telemetryMu.RLock()
	defer telemetryMu.RUnlock()
	return globalTelemetryReporter
}

func reportToTelemetry(ee *EnhancedError) {
	reporter := GetTelemetryReporter()
	if reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

var (
	urlPattern   = regexp.MustCompile(`(?i)\b(?:https?|rtsp|mqtt|tcp)://[^\s"']+`)
	tokenPattern = regexp.MustCompile(`(?i)(api[_-]?key|token|password|secret)=([^&\s]+)`)
)

// scrubMessageForPrivacy removes endpoints and credentials before an error leaves the process
func scrubMessageForPrivacy(message string) string {
	message = urlPattern.ReplaceAllStringFunc(message, basicURLScrub)
	return tokenPattern.ReplaceAllString(message, "$1=[REDACTED]")
}

// basicURLScrub keeps the scheme and drops host, path and query
func basicURLScrub(raw string) string {
	if idx := strings.Index(raw, "://"); idx > 0 {
		return raw[:idx] + "://[REDACTED]"
	}
	return "[REDACTED]"
}
