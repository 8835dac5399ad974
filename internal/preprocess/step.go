package preprocess

import (
	"math/rand/v2"
)

// StepType names a transform. It is the "type" key of a pipeline definition.
type StepType string

const (
	StepTrim                StepType = "trim"
	StepResample            StepType = "resample"
	StepBandpass            StepType = "bandpass"
	StepHighpass            StepType = "highpass"
	StepLowpass             StepType = "lowpass"
	StepNormalize           StepType = "normalize"
	StepGain                StepType = "gain"
	StepAddNoise            StepType = "add_noise"
	StepTimeShift           StepType = "time_shift"
	StepSpectrogram         StepType = "spectrogram"
	StepBandpassSpectrogram StepType = "bandpass_spectrogram"
	StepLimitDB             StepType = "limit_db"
	StepFrequencyMask       StepType = "frequency_mask"
	StepTimeMask            StepType = "time_mask"
	StepLinearScale         StepType = "linear_scale"
	StepMinMaxScale         StepType = "min_max_scale"
	StepToTensor            StepType = "to_tensor"
	StepScaleTensor         StepType = "scale_tensor"
	StepTensorAddNoise      StepType = "tensor_add_noise"
	StepWaveformTensor      StepType = "waveform_tensor"
)

// Params is the typed parameter set of one step type. The set of
// implementations is closed; each one carries the transform for its type.
type Params interface {
	Type() StepType
	Input() Kind
	Output() Kind
	// Stochastic reports whether the step draws from the random source.
	Stochastic() bool
	Validate() error

	apply(rc *runContext, in Sample) (Sample, error)
}

// Step is a named, configured transform inside a pipeline.
type Step struct {
	Name              string
	Enabled           bool
	BypassInInference bool
	Params            Params
}

// NewStep returns an enabled step. Stochastic steps are bypassed in inference
// mode unless the caller clears the flag.
func NewStep(name string, params Params) Step {
	return Step{
		Name:              name,
		Enabled:           true,
		BypassInInference: params != nil && params.Stochastic(),
		Params:            params,
	}
}

// Type returns the step type, or "" when the step has no parameters.
func (s Step) Type() StepType {
	if s.Params == nil {
		return ""
	}
	return s.Params.Type()
}

// Mode selects which steps a run executes.
type Mode int

const (
	// ModeTraining runs every enabled step.
	ModeTraining Mode = iota
	// ModeInference additionally skips steps flagged BypassInInference.
	ModeInference
)

func (m Mode) String() string {
	if m == ModeInference {
		return "inference"
	}
	return "training"
}

func (s Step) runs(mode Mode) bool {
	return s.Enabled && (mode != ModeInference || !s.BypassInInference)
}

// RunOptions carries per-sample inputs of a pipeline run.
type RunOptions struct {
	Mode Mode
	// Rand feeds stochastic steps. A nil source behaves like a PCG seeded
	// with zero, so results stay reproducible.
	Rand *rand.Rand
	// ClipDuration is the nominal clip length in seconds, used by trim steps
	// that do not set their own duration.
	ClipDuration float64
}

type runContext struct {
	mode         Mode
	rng          *rand.Rand
	clipDuration float64
}

func (rc *runContext) rand() *rand.Rand {
	if rc.rng == nil {
		rc.rng = rand.New(rand.NewPCG(0, 0))
	}
	return rc.rng
}
