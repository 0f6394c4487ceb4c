// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default policy values shared with the engine
const (
	DefaultMinSamples      = 10
	DefaultRetrainEvery    = 1
	DefaultTrainingTimeout = 5 * time.Minute
)

// setDefaultConfig registers default values for every setting
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "deepfake-go")
	viper.SetDefault("main.log.level", "info")
	viper.SetDefault("main.log.console", true)
	viper.SetDefault("main.log.file", "")

	viper.SetDefault("detector.minsamples", DefaultMinSamples)
	viper.SetDefault("detector.retrainevery", DefaultRetrainEvery)
	viper.SetDefault("detector.autoretrain", true)
	viper.SetDefault("detector.trainingtimeout", DefaultTrainingTimeout)
	viper.SetDefault("detector.featurecache.enabled", true)
	viper.SetDefault("detector.featurecache.ttl", 30*time.Minute)
	viper.SetDefault("detector.featurecache.size", 1024)
	viper.SetDefault("detector.ffmpegpath", "")
	viper.SetDefault("detector.videoframes", 8)
	viper.SetDefault("detector.maximagepixels", 32<<20)
	viper.SetDefault("detector.workers", 2)

	viper.SetDefault("training.epochs", 500)
	viper.SetDefault("training.learningrate", 0.1)
	viper.SetDefault("training.l2", 0.01)
	viper.SetDefault("training.tolerance", 1e-7)

	viper.SetDefault("storage.path", "data")
	viper.SetDefault("storage.backend", "file")
	viper.SetDefault("storage.sqlite.path", "data/samples.db")
	viper.SetDefault("storage.mysql.host", "localhost")
	viper.SetDefault("storage.mysql.port", "3306")
	viper.SetDefault("storage.mysql.database", "deepfake")

	viper.SetDefault("archive.retain", 5)
	viper.SetDefault("archive.minio.enabled", false)
	viper.SetDefault("archive.minio.bucket", "deepfake-snapshots")
	viper.SetDefault("archive.minio.usessl", true)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.listen", ":5001")
	viper.SetDefault("webserver.maxuploadmb", 100)
	viper.SetDefault("webserver.ratelimit.enabled", true)
	viper.SetDefault("webserver.ratelimit.rate", 5.0)
	viper.SetDefault("webserver.ratelimit.burst", 10)

	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.listen", "")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "deepfake/model")
	viper.SetDefault("mqtt.clientid", "deepfake-go")
	viper.SetDefault("mqtt.retain", true)
}
