// Package conf provides configuration management for clipscan.
package conf

import "github.com/tphakala/clipscan/internal/logger"

// GetLogger returns the config package logger. It is fetched from the global
// logger on each call because settings load before the central logger exists.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
