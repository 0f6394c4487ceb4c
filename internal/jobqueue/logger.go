package jobqueue

import (
	"sync"

	"github.com/cybershakti/deepfake-go/internal/logger"
)

var (
	pkgLogger  logger.Logger
	loggerOnce sync.Once
)

// GetLogger returns the jobqueue module logger
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		pkgLogger = logger.Global().Module("jobqueue")
	})
	return pkgLogger
}
