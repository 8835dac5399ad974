package preprocess

import (
	"errors"
	"fmt"
	"math"

	"github.com/tphakala/clipscan/internal/myaudio"
	"github.com/tphakala/clipscan/internal/myaudio/equalizer"
)

// butterworthQ gives a maximally flat biquad section.
const butterworthQ = 0.7071067811865476

var errEmptyAudio = errors.New("received zero-length audio")

func asWaveform(in Sample) (*Waveform, error) {
	w, ok := in.(*Waveform)
	if !ok {
		return nil, fmt.Errorf("expected waveform, got %s", in.Kind())
	}
	if len(w.Samples) == 0 {
		return nil, errEmptyAudio
	}
	if w.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", w.SampleRate)
	}
	return w, nil
}

func dbToAmplitude(db float64) float64 {
	return math.Pow(10, db/20)
}

// TrimParams cuts or extends a clip to a fixed duration.
type TrimParams struct {
	// Duration in seconds; zero uses the clip duration of the run.
	Duration float64 `yaml:"duration"`
	// Extend zero-pads audio that is shorter than Duration instead of failing.
	Extend bool `yaml:"extend"`
	// RandomTrim picks a uniformly random offset when the audio is longer.
	RandomTrim bool `yaml:"random_trim"`
}

func (TrimParams) Type() StepType     { return StepTrim }
func (TrimParams) Input() Kind        { return KindWaveform }
func (TrimParams) Output() Kind       { return KindWaveform }
func (p TrimParams) Stochastic() bool { return p.RandomTrim }

func (p TrimParams) Validate() error {
	if p.Duration < 0 || math.IsNaN(p.Duration) {
		return fmt.Errorf("duration must be >= 0, got %g", p.Duration)
	}
	return nil
}

func (p TrimParams) apply(rc *runContext, in Sample) (Sample, error) {
	w, err := asWaveform(in)
	if err != nil {
		return nil, err
	}
	duration := p.Duration
	if duration == 0 {
		duration = rc.clipDuration
	}
	if duration <= 0 {
		return w, nil
	}

	want := int(math.Round(duration * float64(w.SampleRate)))
	samples := w.Samples
	if len(samples) < want {
		if !p.Extend {
			return nil, fmt.Errorf("audio of %.3fs is shorter than the %.3fs to extract; enable extend to pad short clips", w.Duration(), duration)
		}
		padded := make([]float32, want)
		copy(padded, samples)
		return &Waveform{Samples: padded, SampleRate: w.SampleRate}, nil
	}

	offset := 0
	if p.RandomTrim {
		offset = int(math.Floor(rc.rand().Float64() * float64(len(samples)-want)))
	}
	out := make([]float32, want)
	copy(out, samples[offset:offset+want])
	return &Waveform{Samples: out, SampleRate: w.SampleRate}, nil
}

// ResampleParams converts audio to another sample rate.
type ResampleParams struct {
	SampleRate int `yaml:"sample_rate"`
}

func (ResampleParams) Type() StepType   { return StepResample }
func (ResampleParams) Input() Kind      { return KindWaveform }
func (ResampleParams) Output() Kind     { return KindWaveform }
func (ResampleParams) Stochastic() bool { return false }

func (p ResampleParams) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", p.SampleRate)
	}
	return nil
}

func (p ResampleParams) apply(_ *runContext, in Sample) (Sample, error) {
	w, err := asWaveform(in)
	if err != nil {
		return nil, err
	}
	if w.SampleRate == p.SampleRate {
		return w, nil
	}
	samples, err := myaudio.Resample(w.Samples, w.SampleRate, p.SampleRate)
	if err != nil {
		return nil, err
	}
	return &Waveform{Samples: samples, SampleRate: p.SampleRate}, nil
}

func passesForOrder(order int) int {
	return max(1, order/2)
}

func validateOrder(order int) error {
	if order < 1 {
		return fmt.Errorf("order must be >= 1, got %d", order)
	}
	return nil
}

func runFilters(w *Waveform, build ...func(rate float64) (*equalizer.Filter, error)) (Sample, error) {
	chain := equalizer.NewFilterChain()
	for _, b := range build {
		f, err := b(float64(w.SampleRate))
		if err != nil {
			return nil, err
		}
		if err := chain.AddFilter(f); err != nil {
			return nil, err
		}
	}
	return &Waveform{Samples: chain.ProcessFloat32(w.Samples), SampleRate: w.SampleRate}, nil
}

// BandpassParams keeps frequencies between LowHz and HighHz.
type BandpassParams struct {
	LowHz  float64 `yaml:"low_hz"`
	HighHz float64 `yaml:"high_hz"`
	Order  int     `yaml:"order"`
}

func (BandpassParams) Type() StepType   { return StepBandpass }
func (BandpassParams) Input() Kind      { return KindWaveform }
func (BandpassParams) Output() Kind     { return KindWaveform }
func (BandpassParams) Stochastic() bool { return false }

func (p BandpassParams) Validate() error {
	if p.LowHz <= 0 || p.HighHz <= p.LowHz {
		return fmt.Errorf("need 0 < low_hz < high_hz, got %g and %g", p.LowHz, p.HighHz)
	}
	return validateOrder(p.Order)
}

func (p BandpassParams) apply(_ *runContext, in Sample) (Sample, error) {
	w, err := asWaveform(in)
	if err != nil {
		return nil, err
	}
	passes := passesForOrder(p.Order)
	return runFilters(w,
		func(rate float64) (*equalizer.Filter, error) {
			return equalizer.NewHighPass(rate, p.LowHz, butterworthQ, passes)
		},
		func(rate float64) (*equalizer.Filter, error) {
			return equalizer.NewLowPass(rate, p.HighHz, butterworthQ, passes)
		})
}

// HighpassParams removes frequencies below CutoffHz.
type HighpassParams struct {
	CutoffHz float64 `yaml:"cutoff_hz"`
	Order    int     `yaml:"order"`
}

func (HighpassParams) Type() StepType   { return StepHighpass }
func (HighpassParams) Input() Kind      { return KindWaveform }
func (HighpassParams) Output() Kind     { return KindWaveform }
func (HighpassParams) Stochastic() bool { return false }

func (p HighpassParams) Validate() error {
	if p.CutoffHz <= 0 {
		return fmt.Errorf("cutoff_hz must be positive, got %g", p.CutoffHz)
	}
	return validateOrder(p.Order)
}

func (p HighpassParams) apply(_ *runContext, in Sample) (Sample, error) {
	w, err := asWaveform(in)
	if err != nil {
		return nil, err
	}
	return runFilters(w, func(rate float64) (*equalizer.Filter, error) {
		return equalizer.NewHighPass(rate, p.CutoffHz, butterworthQ, passesForOrder(p.Order))
	})
}

// LowpassParams removes frequencies above CutoffHz.
type LowpassParams struct {
	CutoffHz float64 `yaml:"cutoff_hz"`
	Order    int     `yaml:"order"`
}

func (LowpassParams) Type() StepType   { return StepLowpass }
func (LowpassParams) Input() Kind      { return KindWaveform }
func (LowpassParams) Output() Kind     { return KindWaveform }
func (LowpassParams) Stochastic() bool { return false }

func (p LowpassParams) Validate() error {
	if p.CutoffHz <= 0 {
		return fmt.Errorf("cutoff_hz must be positive, got %g", p.CutoffHz)
	}
	return validateOrder(p.Order)
}

func (p LowpassParams) apply(_ *runContext, in Sample) (Sample, error) {
	w, err := asWaveform(in)
	if err != nil {
		return nil, err
	}
	return runFilters(w, func(rate float64) (*equalizer.Filter, error) {
		return equalizer.NewLowPass(rate, p.CutoffHz, butterworthQ, passesForOrder(p.Order))
	})
}

// NormalizeParams scales audio so its absolute peak sits at PeakDBFS.
// Silent audio is passed through unchanged.
type NormalizeParams struct {
	PeakDBFS float64 `yaml:"peak_dbfs"`
}

func (NormalizeParams) Type() StepType   { return StepNormalize }
func (NormalizeParams) Input() Kind      { return KindWaveform }
func (NormalizeParams) Output() Kind     { return KindWaveform }
func (NormalizeParams) Stochastic() bool { return false }

func (p NormalizeParams) Validate() error {
	if p.PeakDBFS > 0 || math.IsNaN(p.PeakDBFS) {
		return fmt.Errorf("peak_dbfs must be <= 0, got %g", p.PeakDBFS)
	}
	return nil
}

func (p NormalizeParams) apply(_ *runContext, in Sample) (Sample, error) {
	w, err := asWaveform(in)
	if err != nil {
		return nil, err
	}
	var peak float64
	for _, s := range w.Samples {
		peak = max(peak, math.Abs(float64(s)))
	}
	if peak == 0 {
		return w, nil
	}
	return scaleWaveform(w, dbToAmplitude(p.PeakDBFS)/peak), nil
}

func scaleWaveform(w *Waveform, factor float64) *Waveform {
	out := make([]float32, len(w.Samples))
	for i, s := range w.Samples {
		out[i] = float32(float64(s) * factor)
	}
	return &Waveform{Samples: out, SampleRate: w.SampleRate}
}

// GainParams amplifies audio by DB decibels.
type GainParams struct {
	DB float64 `yaml:"db"`
}

func (GainParams) Type() StepType   { return StepGain }
func (GainParams) Input() Kind      { return KindWaveform }
func (GainParams) Output() Kind     { return KindWaveform }
func (GainParams) Stochastic() bool { return false }

func (p GainParams) Validate() error {
	if math.IsNaN(p.DB) || math.IsInf(p.DB, 0) {
		return fmt.Errorf("db must be finite")
	}
	return nil
}

func (p GainParams) apply(_ *runContext, in Sample) (Sample, error) {
	w, err := asWaveform(in)
	if err != nil {
		return nil, err
	}
	return scaleWaveform(w, dbToAmplitude(p.DB)), nil
}

// AddNoiseParams adds gaussian white noise.
type AddNoiseParams struct {
	Std float64 `yaml:"std"`
}

func (AddNoiseParams) Type() StepType   { return StepAddNoise }
func (AddNoiseParams) Input() Kind      { return KindWaveform }
func (AddNoiseParams) Output() Kind     { return KindWaveform }
func (AddNoiseParams) Stochastic() bool { return true }

func (p AddNoiseParams) Validate() error {
	if p.Std < 0 || math.IsNaN(p.Std) {
		return fmt.Errorf("std must be >= 0, got %g", p.Std)
	}
	return nil
}

func (p AddNoiseParams) apply(rc *runContext, in Sample) (Sample, error) {
	w, err := asWaveform(in)
	if err != nil {
		return nil, err
	}
	rng := rc.rand()
	out := make([]float32, len(w.Samples))
	for i, s := range w.Samples {
		out[i] = s + float32(rng.NormFloat64()*p.Std)
	}
	return &Waveform{Samples: out, SampleRate: w.SampleRate}, nil
}

// TimeShiftParams rotates audio circularly by up to MaxFraction of its length
// in either direction.
type TimeShiftParams struct {
	MaxFraction float64 `yaml:"max_fraction"`
}

func (TimeShiftParams) Type() StepType   { return StepTimeShift }
func (TimeShiftParams) Input() Kind      { return KindWaveform }
func (TimeShiftParams) Output() Kind     { return KindWaveform }
func (TimeShiftParams) Stochastic() bool { return true }

func (p TimeShiftParams) Validate() error {
	if p.MaxFraction < 0 || p.MaxFraction > 1 || math.IsNaN(p.MaxFraction) {
		return fmt.Errorf("max_fraction must be within [0, 1], got %g", p.MaxFraction)
	}
	return nil
}

func (p TimeShiftParams) apply(rc *runContext, in Sample) (Sample, error) {
	w, err := asWaveform(in)
	if err != nil {
		return nil, err
	}
	n := len(w.Samples)
	shift := int(math.Round((rc.rand().Float64()*2 - 1) * p.MaxFraction * float64(n)))
	shift = ((shift % n) + n) % n

	out := make([]float32, n)
	copy(out[shift:], w.Samples[:n-shift])
	copy(out[:shift], w.Samples[n-shift:])
	return &Waveform{Samples: out, SampleRate: w.SampleRate}, nil
}

// WaveformTensorParams exposes raw samples as a [1, N] tensor for models
// that take audio directly.
type WaveformTensorParams struct{}

func (WaveformTensorParams) Type() StepType   { return StepWaveformTensor }
func (WaveformTensorParams) Input() Kind      { return KindWaveform }
func (WaveformTensorParams) Output() Kind     { return KindTensor }
func (WaveformTensorParams) Stochastic() bool { return false }
func (WaveformTensorParams) Validate() error  { return nil }

func (WaveformTensorParams) apply(_ *runContext, in Sample) (Sample, error) {
	w, err := asWaveform(in)
	if err != nil {
		return nil, err
	}
	return &Tensor{Shape: []int{1, len(w.Samples)}, Data: append([]float32(nil), w.Samples...)}, nil
}
