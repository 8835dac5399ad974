// config.go: settings struct of clipscan and the functions to load and save it.
package conf

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/clipscan/internal/logger"
	"github.com/tphakala/clipscan/internal/preprocess"
	"github.com/tphakala/clipscan/internal/windower"
)

// AudioSettings controls decoding of recordings.
type AudioSettings struct {
	SampleRate int           // target sample rate in Hz, 0 keeps each file's native rate
	CacheTTL   time.Duration // how long decoded recordings stay cached
}

// InferenceSettings controls batching and post-processing of scores.
type InferenceSettings struct {
	BatchSize    int     // clips per classifier call
	Workers      int     // concurrent clip retrieval workers, 0 uses every CPU
	Activation   string  // none, sigmoid, softmax or softmax_and_logit
	Sensitivity  float64 // sigmoid sensitivity
	Threshold    float64 // presence threshold for binary predictions
	SingleTarget bool    // mark only the top class of each clip
	Seed         uint64  // seed for stochastic pipeline steps
}

// ModelSettings selects the classifier model.
type ModelSettings struct {
	Path       string // path to the .tflite model
	LabelPath  string // path to the label file, one class per line
	Threads    int    // interpreter threads, 0 picks a count from the CPU topology
	UseXNNPACK bool   // use the XNNPACK delegate
}

// StepOverride is a per-run change to one pipeline step.
type StepOverride struct {
	Step              string
	Enabled           *bool
	BypassInInference *bool `mapstructure:"bypass_in_inference" yaml:"bypass_in_inference,omitempty"`
	Params            map[string]any
}

// PipelineSettings selects the preprocessing pipeline.
type PipelineSettings struct {
	Definition string         // path to a YAML pipeline definition, overrides Builtin
	Builtin    string         // name of a built-in pipeline
	Overrides  []StepOverride // applied on top of the loaded pipeline
}

// TelemetrySettings controls error reporting to Sentry.
type TelemetrySettings struct {
	Enabled bool
	DSN     string
}

// MetricsSettings controls the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool
	Listen  string // listen address, e.g. "127.0.0.1:9090"
}

// OutputSettings controls how results are written.
type OutputSettings struct {
	Format         string // csv or table
	Path           string // output file, empty writes to stdout
	InvalidSamples string // file listing failed clips, empty disables
}

// Settings contains all configuration options for clipscan.
type Settings struct {
	Debug bool // true to enable debug logging

	Window    windower.Spec
	Audio     AudioSettings
	Inference InferenceSettings
	Model     ModelSettings
	Pipeline  PipelineSettings
	Output    OutputSettings
	Logging   logger.LoggingConfig
	Telemetry TelemetrySettings
	Metrics   MetricsSettings
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file, environment variables and bound flags
// into a new Settings instance and validates it.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

func initViper() error {
	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		GetLogger().Warn("Environment variable problems", logger.Error(err))
	}

	// An explicit --config file must exist
	if viper.ConfigFileUsed() != "" {
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file: %w", err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

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
			// No config file, run on defaults, environment and flags
			GetLogger().Debug("No config file found, using defaults")
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	GetLogger().Debug("Loaded config file", logger.String("path", viper.ConfigFileUsed()))
	return nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// PipelineOverrides converts the configured overrides for
// preprocess.Pipeline.WithOverrides.
func (p PipelineSettings) PipelineOverrides() []preprocess.Override {
	out := make([]preprocess.Override, 0, len(p.Overrides))
	for _, o := range p.Overrides {
		out = append(out, preprocess.Override{
			Step:              o.Step,
			Enabled:           o.Enabled,
			BypassInInference: o.BypassInInference,
			Params:            o.Params,
		})
	}
	return out
}

// WriteYAML writes settings to w as YAML.
func WriteYAML(w io.Writer, settings *Settings) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	return enc.Close()
}

// SaveYAMLConfig writes settings to configPath as YAML. It overwrites the
// existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	// Write to a temporary file first so the rename replaces the config atomically
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
		// Cross-device rename, fall back to copy
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}
