package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"

	"gopkg.in/yaml.v3"
)

// defaultParams holds the parameters a step type starts from before a
// definition or override is merged onto it.
var defaultParams = map[StepType]Params{
	StepTrim:                TrimParams{Extend: true},
	StepResample:            ResampleParams{},
	StepBandpass:            BandpassParams{Order: 4},
	StepHighpass:            HighpassParams{Order: 4},
	StepLowpass:             LowpassParams{Order: 4},
	StepNormalize:           NormalizeParams{PeakDBFS: -1},
	StepGain:                GainParams{},
	StepAddNoise:            AddNoiseParams{Std: 0.005},
	StepTimeShift:           TimeShiftParams{MaxFraction: 0.2},
	StepSpectrogram:         DefaultSpectrogramParams(),
	StepBandpassSpectrogram: BandpassSpectrogramParams{},
	StepLimitDB:             LimitDBParams{MinDB: -100, MaxDB: -20},
	StepFrequencyMask:       FrequencyMaskParams{MaxMasks: 3, MaxWidth: 0.2},
	StepTimeMask:            TimeMaskParams{MaxMasks: 3, MaxWidth: 0.2},
	StepLinearScale:         LinearScaleParams{Min: 0, Max: 1},
	StepMinMaxScale:         MinMaxScaleParams{Min: 0, Max: 1},
	StepToTensor:            ToTensorParams{Channels: 1},
	StepScaleTensor:         ScaleTensorParams{Mean: 0.5, Std: 0.5},
	StepTensorAddNoise:      TensorAddNoiseParams{Std: 1},
	StepWaveformTensor:      WaveformTensorParams{},
}

// DefaultSpectrogramParams returns a 512 sample Hann STFT with half overlap,
// in decibels limited to [-100, -20].
func DefaultSpectrogramParams() SpectrogramParams {
	return SpectrogramParams{
		WindowType:      "hann",
		WindowSamples:   512,
		OverlapFraction: 0.5,
		DBScale:         true,
		MinDB:           -100,
		MaxDB:           -20,
	}
}

// DefaultParams returns the default parameters of a step type.
func DefaultParams(t StepType) (Params, bool) {
	p, ok := defaultParams[t]
	return p, ok
}

// StepTypes lists every known step type in lexical order.
func StepTypes() []StepType {
	types := make([]StepType, 0, len(defaultParams))
	for t := range defaultParams {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

type definitionFile struct {
	Name  string    `yaml:"name"`
	Steps []stepDef `yaml:"steps"`
}

type stepDef struct {
	Name              string    `yaml:"name"`
	Type              StepType  `yaml:"type"`
	Enabled           *bool     `yaml:"enabled"`
	BypassInInference *bool     `yaml:"bypass_in_inference"`
	Params            yaml.Node `yaml:"params"`
}

// LoadDefinition builds a pipeline from its YAML definition:
//
//	name: spectrogram
//	steps:
//	  - name: trim
//	    type: trim
//	  - name: spec
//	    type: spectrogram
//	    params:
//	      window_samples: 1024
//
// Omitted params keep the step type defaults and unknown keys are rejected.
func LoadDefinition(r io.Reader) (*Pipeline, error) {
	var def definitionFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil && !errors.Is(err, io.EOF) {
		return nil, &PipelineTypeError{Position: -1, Reason: fmt.Sprintf("parse definition: %v", err)}
	}

	steps := make([]Step, 0, len(def.Steps))
	for i, sd := range def.Steps {
		defaults, ok := defaultParams[sd.Type]
		if !ok {
			return nil, &PipelineTypeError{Step: sd.Name, Position: i, Reason: fmt.Sprintf("unknown step type %q", sd.Type)}
		}
		params := defaults
		if !sd.Params.IsZero() {
			merged, err := mergeParams(defaults, &sd.Params)
			if err != nil {
				return nil, &PipelineTypeError{Step: sd.Name, Position: i, Reason: err.Error()}
			}
			params = merged
		}

		step := NewStep(sd.Name, params)
		if sd.Enabled != nil {
			step.Enabled = *sd.Enabled
		}
		if sd.BypassInInference != nil {
			step.BypassInInference = *sd.BypassInInference
		}
		steps = append(steps, step)
	}
	return NewPipeline(def.Name, steps...)
}

// LoadDefinitionFile reads a pipeline definition from path.
func LoadDefinitionFile(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline definition: %w", err)
	}
	return LoadDefinition(bytes.NewReader(data))
}

// mergeParams decodes patch onto a copy of p. patch is anything yaml can
// marshal, typically a map or a *yaml.Node.
func mergeParams(p Params, patch any) (Params, error) {
	target := reflect.New(reflect.TypeOf(p))
	target.Elem().Set(reflect.ValueOf(p))

	raw, err := yaml.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("encode %s parameters: %w", p.Type(), err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(target.Interface()); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s parameters: %w", p.Type(), err)
	}
	return target.Elem().Interface().(Params), nil
}

// Names of the built-in pipelines.
const (
	BuiltinAudio       = "audio"
	BuiltinSpectrogram = "spectrogram"
)

// AudioPipeline trims clips to the run's clip duration and passes the raw
// samples to the model as a [1, N] tensor.
func AudioPipeline() *Pipeline {
	p, err := NewPipeline(BuiltinAudio,
		NewStep("trim", TrimParams{Extend: true}),
		NewStep("to_tensor", WaveformTensorParams{}),
	)
	if err != nil {
		panic(err)
	}
	return p
}

// SpectrogramPipeline renders clips as a single-channel height x width
// decibel spectrogram image scaled to [-1, 1]. Masking steps run only in
// training mode.
func SpectrogramPipeline(height, width int) (*Pipeline, error) {
	return NewPipeline(BuiltinSpectrogram,
		NewStep("trim", TrimParams{Extend: true}),
		NewStep("spectrogram", DefaultSpectrogramParams()),
		NewStep("frequency_mask", FrequencyMaskParams{MaxMasks: 3, MaxWidth: 0.2}),
		NewStep("time_mask", TimeMaskParams{MaxMasks: 3, MaxWidth: 0.2}),
		NewStep("to_tensor", ToTensorParams{Height: height, Width: width, Channels: 1}),
		NewStep("scale_tensor", ScaleTensorParams{Mean: 0.5, Std: 0.5}),
	)
}

// Builtin returns a built-in pipeline by name. Spectrogram images are 224
// pixels square.
func Builtin(name string) (*Pipeline, error) {
	switch name {
	case BuiltinAudio:
		return AudioPipeline(), nil
	case BuiltinSpectrogram:
		return SpectrogramPipeline(224, 224)
	default:
		return nil, fmt.Errorf("unknown built-in pipeline %q", name)
	}
}
