// config.go: settings for the deepfake detection service
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cybershakti/deepfake-go/internal/logger"
)

// LogConfig controls the central logger
type LogConfig struct {
	Level   string // trace, debug, info, warn, error
	File    string // optional JSON log file, empty disables file output
	Console bool   // text output on stdout
}

// FeatureCacheSettings controls memoisation of extracted vectors
type FeatureCacheSettings struct {
	Enabled bool          // cache vectors by content hash
	TTL     time.Duration // entry lifetime
	Size    int           // soft cap on entries, 0 = unbounded
}

// DetectorSettings holds the engine and retrain policy
type DetectorSettings struct {
	MinSamples      int                  // samples required before any training
	RetrainEvery    int                  // accepted samples since last training that trigger auto retrain
	AutoRetrain     bool                 // default for feedback submissions without an explicit flag
	TrainingTimeout time.Duration        // hard limit for one training run
	FeatureCache    FeatureCacheSettings // extraction cache
	FfmpegPath      string               // explicit ffmpeg binary, empty = search PATH
	VideoFrames     int                  // frames sampled per video
	MaxImagePixels  int                  // decode limit for width × height, 0 = built-in default
	Workers         int                  // job queue workers
}

// TrainingSettings tunes the logistic trainer
type TrainingSettings struct {
	Epochs       int
	LearningRate float64
	L2           float64
	Tolerance    float64
}

// SQLiteSettings for the sqlite sample backend
type SQLiteSettings struct {
	Path string
}

// MySQLSettings for the mysql sample backend
type MySQLSettings struct {
	Username string
	Password string
	Host     string
	Port     string
	Database string
}

// StorageSettings selects where samples and snapshots live
type StorageSettings struct {
	Path    string // data directory: sample log, snapshot.json, archived snapshots
	Backend string // file, sqlite or mysql
	SQLite  SQLiteSettings
	MySQL   MySQLSettings
}

// MinioSettings configures off-host snapshot archiving
type MinioSettings struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ArchiveSettings controls snapshot retention for rollback
type ArchiveSettings struct {
	Retain int // archived snapshots kept locally, 0 = keep all
	Minio  MinioSettings
}

// RateLimitSettings applies to upload endpoints
type RateLimitSettings struct {
	Enabled bool
	Rate    float64 // requests per second per client
	Burst   int
}

// WebServerSettings for the HTTP API
type WebServerSettings struct {
	Enabled     bool
	Listen      string // listen address, e.g. ":5001"
	MaxUploadMB int    // request body limit
	RateLimit   RateLimitSettings
}

// TelemetrySettings for the Prometheus endpoint
type TelemetrySettings struct {
	Enabled bool
	Listen  string // separate listener for /metrics, empty = serve on the API listener
}

// SentrySettings for error telemetry
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// MQTTSettings for model-update events
type MQTTSettings struct {
	Enabled  bool
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	Retain   bool
}

// Settings is the root configuration
type Settings struct {
	Debug bool

	Main struct {
		Name string
		Log  LogConfig
	}

	Detector  DetectorSettings
	Training  TrainingSettings
	Storage   StorageSettings
	Archive   ArchiveSettings
	WebServer WebServerSettings
	Telemetry TelemetrySettings
	Sentry    SentrySettings
	MQTT      MQTTSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configuration from configFile, or from the default search paths when configFile
// is empty, then applies DEEPFAKE_* environment variables and validates the result.
// A missing config file is not an error; defaults apply.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

func initViper(configFile string) error {
	viper.SetConfigType("yaml")
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		// Bad environment values are reported but don't block startup
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			GetLogger().Info("no config file found, using defaults")
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// GetSettings returns the current settings instance, or nil before Load
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// LoggingConfig translates the main.log section for logger.NewCentralLogger
func (s *Settings) LoggingConfig() *logger.LoggingConfig {
	level := s.Main.Log.Level
	if s.Debug {
		level = "debug"
	}
	return &logger.LoggingConfig{
		DefaultLevel: level,
		Timezone:     "Local",
		Console:      &logger.ConsoleOutput{Enabled: s.Main.Log.Console, Level: level},
		FileOutput: &logger.FileOutput{
			Enabled: s.Main.Log.File != "",
			Path:    s.Main.Log.File,
			Level:   level,
		},
	}
}

// SamplesLogPath is the append-only sample log used by the file backend
func (s *Settings) SamplesLogPath() string {
	return filepath.Join(s.Storage.Path, "samples.jsonl")
}

// SnapshotPath is the current-snapshot record
func (s *Settings) SnapshotPath() string {
	return filepath.Join(s.Storage.Path, "snapshot.json")
}

// ArchiveDir holds archived snapshots for rollback
func (s *Settings) ArchiveDir() string {
	return filepath.Join(s.Storage.Path, "snapshots")
}

// SaveYAMLConfig writes settings to configPath. The write goes through a temporary file
// and a rename, so readers never see a partial file. Comments are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		// cross-device rename
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}
	return nil
}
