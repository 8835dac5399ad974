// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/clipscan/internal/logger"
	"github.com/tphakala/clipscan/internal/preprocess"
	"github.com/tphakala/clipscan/internal/windower"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("window.clipduration", 3.0)
	viper.SetDefault("window.clipoverlap", 0.0)
	viper.SetDefault("window.edgepolicy", string(windower.DefaultEdgePolicy))

	viper.SetDefault("audio.samplerate", 0)
	viper.SetDefault("audio.cachettl", 5*time.Minute)

	viper.SetDefault("inference.batchsize", 32)
	viper.SetDefault("inference.workers", 0)
	viper.SetDefault("inference.activation", "sigmoid")
	viper.SetDefault("inference.sensitivity", 1.0)
	viper.SetDefault("inference.threshold", 0.5)
	viper.SetDefault("inference.singletarget", false)
	viper.SetDefault("inference.seed", 0)

	viper.SetDefault("model.path", "")
	viper.SetDefault("model.labelpath", "")
	viper.SetDefault("model.threads", 0)
	viper.SetDefault("model.usexnnpack", true)

	viper.SetDefault("pipeline.definition", "")
	viper.SetDefault("pipeline.builtin", preprocess.BuiltinSpectrogram)

	viper.SetDefault("output.format", "csv")
	viper.SetDefault("output.path", "")
	viper.SetDefault("output.invalidsamples", "")

	viper.SetDefault("logging.default_level", logger.DefaultLogLevel)
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	viper.SetDefault("logging.console.level", logger.DefaultLogLevel)
	viper.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	viper.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	viper.SetDefault("logging.file_output.level", logger.DefaultLogLevel)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.dsn", "")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "127.0.0.1:9090")
}
