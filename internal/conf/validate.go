// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"
)

// Storage backends
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct and reports every problem at once
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, validate := range []func(*Settings) error{
		validateDetectorSettings,
		validateTrainingSettings,
		validateStorageSettings,
		validateWebServerSettings,
		validateIntegrationSettings,
	} {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDetectorSettings(s *Settings) error {
	var errs []string
	d := &s.Detector

	if d.MinSamples < 1 {
		errs = append(errs, "detector.minsamples must be at least 1")
	}
	if d.RetrainEvery < 1 {
		errs = append(errs, "detector.retrainevery must be at least 1")
	}
	if d.TrainingTimeout <= 0 {
		errs = append(errs, "detector.trainingtimeout must be positive")
	}
	if d.VideoFrames < 1 {
		errs = append(errs, "detector.videoframes must be at least 1")
	}
	if d.MaxImagePixels < 0 {
		errs = append(errs, "detector.maximagepixels must not be negative")
	}
	if d.Workers < 1 {
		errs = append(errs, "detector.workers must be at least 1")
	}
	if d.FeatureCache.Enabled && d.FeatureCache.TTL <= 0 {
		errs = append(errs, "detector.featurecache.ttl must be positive when the cache is enabled")
	}

	return joinErrors("detector", errs)
}

func validateTrainingSettings(s *Settings) error {
	var errs []string
	t := &s.Training

	if t.Epochs < 1 {
		errs = append(errs, "training.epochs must be at least 1")
	}
	if t.LearningRate <= 0 || t.LearningRate > 10 {
		errs = append(errs, "training.learningrate must be in (0, 10]")
	}
	if t.L2 < 0 {
		errs = append(errs, "training.l2 must not be negative")
	}
	if t.Tolerance < 0 {
		errs = append(errs, "training.tolerance must not be negative")
	}

	return joinErrors("training", errs)
}

func validateStorageSettings(s *Settings) error {
	var errs []string

	if s.Storage.Path == "" {
		errs = append(errs, "storage.path must be set")
	}
	switch s.Storage.Backend {
	case BackendFile:
	case BackendSQLite:
		if s.Storage.SQLite.Path == "" {
			errs = append(errs, "storage.sqlite.path must be set for the sqlite backend")
		}
	case BackendMySQL:
		m := s.Storage.MySQL
		if m.Host == "" || m.Database == "" || m.Username == "" {
			errs = append(errs, "storage.mysql requires host, database and username")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not one of file, sqlite, mysql", s.Storage.Backend))
	}
	if s.Archive.Retain < 0 {
		errs = append(errs, "archive.retain must not be negative")
	}

	return joinErrors("storage", errs)
}

func validateWebServerSettings(s *Settings) error {
	if !s.WebServer.Enabled {
		return nil
	}

	var errs []string
	if _, _, err := net.SplitHostPort(s.WebServer.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("webserver.listen %q is not a host:port address", s.WebServer.Listen))
	}
	if s.WebServer.MaxUploadMB < 1 {
		errs = append(errs, "webserver.maxuploadmb must be at least 1")
	}
	if s.WebServer.RateLimit.Enabled && (s.WebServer.RateLimit.Rate <= 0 || s.WebServer.RateLimit.Burst < 1) {
		errs = append(errs, "webserver.ratelimit needs a positive rate and burst")
	}

	return joinErrors("webserver", errs)
}

func validateIntegrationSettings(s *Settings) error {
	var errs []string

	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		errs = append(errs, "sentry.dsn is required when sentry is enabled")
	}
	if s.MQTT.Enabled && (s.MQTT.Broker == "" || s.MQTT.Topic == "") {
		errs = append(errs, "mqtt requires broker and topic when enabled")
	}
	if s.Archive.Minio.Enabled && (s.Archive.Minio.Endpoint == "" || s.Archive.Minio.Bucket == "") {
		errs = append(errs, "archive.minio requires endpoint and bucket when enabled")
	}

	return joinErrors("integrations", errs)
}

func joinErrors(section string, errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s settings errors: %s", section, strings.Join(errs, "; "))
}
