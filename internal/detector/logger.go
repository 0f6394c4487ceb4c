package detector

import (
	"sync"

	"github.com/cybershakti/deepfake-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the detector module logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("detector")
	})
	return serviceLogger
}
