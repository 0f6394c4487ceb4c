// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for one environment variable binding
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "DEEPFAKE_DEBUG", validateEnvBool},
		{"main.log.level", "DEEPFAKE_LOG_LEVEL", validateEnvLogLevel},

		// Engine policy
		{"detector.minsamples", "DEEPFAKE_MIN_SAMPLES", validateEnvPositiveInt},
		{"detector.retrainevery", "DEEPFAKE_RETRAIN_EVERY", validateEnvPositiveInt},
		{"detector.autoretrain", "DEEPFAKE_AUTO_RETRAIN", validateEnvBool},
		{"detector.trainingtimeout", "DEEPFAKE_TRAINING_TIMEOUT", validateEnvDuration},
		{"detector.ffmpegpath", "DEEPFAKE_FFMPEG_PATH", nil},

		// Storage
		{"storage.path", "DEEPFAKE_DATA", nil},
		{"storage.backend", "DEEPFAKE_STORAGE_BACKEND", validateEnvBackend},
		{"storage.mysql.password", "DEEPFAKE_MYSQL_PASSWORD", nil},

		// Integrations
		{"webserver.listen", "DEEPFAKE_LISTEN", nil},
		{"sentry.dsn", "DEEPFAKE_SENTRY_DSN", nil},
		{"mqtt.password", "DEEPFAKE_MQTT_PASSWORD", nil},
		{"archive.minio.secretkey", "DEEPFAKE_MINIO_SECRET_KEY", nil},
	}
}

// bindEnvVars binds every variable and validates values that are set
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("must be one of trace, debug, info, warn, error")
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fmt.Errorf("must be a positive duration like 90s or 5m")
	}
	return nil
}

func validateEnvBackend(value string) error {
	switch value {
	case BackendFile, BackendSQLite, BackendMySQL:
		return nil
	}
	return fmt.Errorf("must be one of %s, %s, %s", BackendFile, BackendSQLite, BackendMySQL)
}

// configureEnvironmentVariables enables DEEPFAKE_* overrides. AutomaticEnv covers keys
// without an explicit binding, with dots mapped to underscores.
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix("DEEPFAKE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	return bindEnvVars()
}
