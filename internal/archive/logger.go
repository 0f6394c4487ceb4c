package archive

import (
	"sync"

	"github.com/cybershakti/deepfake-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the archive module logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("archive")
	})
	return serviceLogger
}
