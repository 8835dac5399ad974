// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/tphakala/clipscan/internal/inference"
	"github.com/tphakala/clipscan/internal/preprocess"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := settings.Window.Validate(); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateAudioSettings(&settings.Audio); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateInferenceSettings(&settings.Inference); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if settings.Model.Threads < 0 {
		ve.Errors = append(ve.Errors, fmt.Sprintf("model threads must be non-negative, got %d", settings.Model.Threads))
	}

	if err := validatePipelineSettings(&settings.Pipeline); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateOutputSettings(&settings.Output); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if settings.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(settings.Metrics.Listen); err != nil {
			ve.Errors = append(ve.Errors, fmt.Sprintf("invalid metrics listen address %q: %v", settings.Metrics.Listen, err))
		}
	}

	if settings.Telemetry.Enabled && settings.Telemetry.DSN == "" {
		ve.Errors = append(ve.Errors, "telemetry is enabled but no DSN is configured")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateAudioSettings(settings *AudioSettings) error {
	var errs []string
	if settings.SampleRate < 0 {
		errs = append(errs, fmt.Sprintf("sample rate must be non-negative, got %d", settings.SampleRate))
	}
	if settings.CacheTTL < 0 {
		errs = append(errs, fmt.Sprintf("cache TTL must be non-negative, got %v", settings.CacheTTL))
	}
	if len(errs) > 0 {
		return errors.New("audio settings errors: " + strings.Join(errs, ", "))
	}
	return nil
}

func validateInferenceSettings(settings *InferenceSettings) error {
	var errs []string

	if settings.BatchSize < 1 {
		errs = append(errs, fmt.Sprintf("batch size must be at least 1, got %d", settings.BatchSize))
	}
	if settings.Workers < 0 {
		errs = append(errs, fmt.Sprintf("workers must be non-negative, got %d", settings.Workers))
	}
	if _, err := inference.ParseActivation(settings.Activation); err != nil {
		errs = append(errs, err.Error())
	}
	if settings.Sensitivity < 0.1 || settings.Sensitivity > 1.5 {
		errs = append(errs, fmt.Sprintf("sensitivity must be between 0.1 and 1.5, got %g", settings.Sensitivity))
	}
	if settings.Threshold < 0 || settings.Threshold > 1 {
		errs = append(errs, fmt.Sprintf("threshold must be between 0 and 1, got %g", settings.Threshold))
	}

	if len(errs) > 0 {
		return errors.New("inference settings errors: " + strings.Join(errs, ", "))
	}
	return nil
}

func validatePipelineSettings(settings *PipelineSettings) error {
	if settings.Definition == "" {
		if _, err := preprocess.Builtin(settings.Builtin); err != nil {
			return fmt.Errorf("pipeline settings error: %w", err)
		}
	}
	for i, o := range settings.Overrides {
		if o.Step == "" {
			return fmt.Errorf("pipeline settings error: override %d names no step", i)
		}
	}
	return nil
}

func validateOutputSettings(settings *OutputSettings) error {
	switch settings.Format {
	case "csv", "table":
		return nil
	default:
		return fmt.Errorf("output format must be csv or table, got %q", settings.Format)
	}
}
