// env.go - Environment variable configuration and validation for clipscan
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/tphakala/clipscan/internal/inference"
	"github.com/tphakala/clipscan/internal/windower"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "CLIPSCAN_DEBUG", validateEnvBool},

		// Windowing
		{"window.clipduration", "CLIPSCAN_CLIP_DURATION", validateEnvPositiveFloat},
		{"window.clipoverlap", "CLIPSCAN_CLIP_OVERLAP", validateEnvNonNegativeFloat},
		{"window.edgepolicy", "CLIPSCAN_EDGE_POLICY", validateEnvEdgePolicy},

		// Inference
		{"inference.batchsize", "CLIPSCAN_BATCH_SIZE", validateEnvPositiveInt},
		{"inference.workers", "CLIPSCAN_WORKERS", validateEnvNonNegativeInt},
		{"inference.activation", "CLIPSCAN_ACTIVATION", validateEnvActivation},
		{"inference.sensitivity", "CLIPSCAN_SENSITIVITY", validateEnvSensitivity},
		{"inference.threshold", "CLIPSCAN_THRESHOLD", validateEnvThreshold},
		{"inference.seed", "CLIPSCAN_SEED", validateEnvSeed},

		// Model
		{"model.path", "CLIPSCAN_MODEL", nil},
		{"model.labelpath", "CLIPSCAN_LABELS", nil},
		{"model.threads", "CLIPSCAN_THREADS", validateEnvNonNegativeInt},
		{"model.usexnnpack", "CLIPSCAN_USEXNNPACK", validateEnvBool},

		{"pipeline.definition", "CLIPSCAN_PIPELINE", nil},

		// Telemetry and metrics
		{"telemetry.enabled", "CLIPSCAN_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.dsn", "CLIPSCAN_SENTRY_DSN", nil},
		{"metrics.enabled", "CLIPSCAN_METRICS_ENABLED", validateEnvBool},
		{"metrics.listen", "CLIPSCAN_METRICS_LISTEN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// Environment variable validation functions

func validateEnvBool(value string) error {
	_, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f, TRUE/FALSE, T/F", value)
	}
	return nil
}

func validateEnvPositiveFloat(value string) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid number: %w", err)
	}
	if v <= 0 {
		return fmt.Errorf("must be greater than 0, got %g", v)
	}
	return nil
}

func validateEnvNonNegativeFloat(value string) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid number: %w", err)
	}
	if v < 0 {
		return fmt.Errorf("must be non-negative, got %g", v)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if v < 1 {
		return fmt.Errorf("must be at least 1, got %d", v)
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if v < 0 {
		return fmt.Errorf("must be non-negative, got %d", v)
	}
	return nil
}

func validateEnvSeed(value string) error {
	if _, err := strconv.ParseUint(value, 10, 64); err != nil {
		return fmt.Errorf("invalid seed: %w", err)
	}
	return nil
}

func validateEnvEdgePolicy(value string) error {
	_, err := windower.ParseEdgePolicy(value)
	return err
}

func validateEnvActivation(value string) error {
	_, err := inference.ParseActivation(value)
	return err
}

func validateEnvSensitivity(value string) error {
	sensitivity, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid sensitivity: %w", err)
	}
	if sensitivity < 0.1 || sensitivity > 1.5 {
		return fmt.Errorf("sensitivity must be between 0.1 and 1.5, got %g", sensitivity)
	}
	return nil
}

func validateEnvThreshold(value string) error {
	threshold, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid threshold: %w", err)
	}
	if threshold < 0.0 || threshold > 1.0 {
		return fmt.Errorf("threshold must be between 0.0 and 1.0, got %g", threshold)
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}
