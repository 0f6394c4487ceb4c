package conf

import "github.com/cybershakti/deepfake-go/internal/logger"

// GetLogger returns the config module logger. It is fetched on each call because the
// central logger is installed after configuration has been read.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
