package classifier

import (
	"sync"

	"github.com/cybershakti/deepfake-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the classifier module logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("classifier")
	})
	return serviceLogger
}
