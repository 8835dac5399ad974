package dataset

import (
	"sync"

	"github.com/tphakala/clipscan/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the dataset logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("dataset")
	})
	return serviceLogger
}
