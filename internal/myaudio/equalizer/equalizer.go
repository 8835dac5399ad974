// Package equalizer implements biquad filters from Robert Bristow-Johnson's
// audio EQ cookbook. Filters hold coefficients only; every Process call starts
// from silent state, so one Filter can serve many clips concurrently.
package equalizer

import (
	"fmt"
	"math"
)

// FilterName identifies the response of a Filter.
type FilterName int

// FilterName constants.
const (
	Undefined FilterName = iota
	LowPass
	HighPass
)

func (n FilterName) String() string {
	switch n {
	case LowPass:
		return "lowpass"
	case HighPass:
		return "highpass"
	default:
		return "undefined"
	}
}

// Filter holds normalized biquad coefficients applied passes times in series.
type Filter struct {
	name FilterName

	// coefficients divided by a0
	b0, b1, b2, a1, a2 float64

	passes int
}

// IsZero reports whether f was never initialized.
func (f *Filter) IsZero() bool {
	return f == nil || f.name == Undefined
}

// Name returns the filter response.
func (f *Filter) Name() FilterName {
	return f.name
}

// Passes returns how many times the biquad is applied.
func (f *Filter) Passes() int {
	return f.passes
}

// NewFilter builds a filter from raw cookbook coefficients.
func NewFilter(name FilterName, a0, a1, a2, b0, b1, b2 float64, passes int) *Filter {
	return &Filter{
		name:   name,
		b0:     b0 / a0,
		b1:     b1 / a0,
		b2:     b2 / a0,
		a1:     a1 / a0,
		a2:     a2 / a0,
		passes: passes,
	}
}

// Process returns a filtered copy of input.
func (f *Filter) Process(input []float64) []float64 {
	out := make([]float64, len(input))
	copy(out, input)
	f.apply(out)
	return out
}

func (f *Filter) apply(buf []float64) {
	for range f.passes {
		var in1, in2, out1, out2 float64
		for i, x := range buf {
			y := f.b0*x + f.b1*in1 + f.b2*in2 - f.a1*out1 - f.a2*out2
			in2, in1 = in1, x
			out2, out1 = out1, y
			buf[i] = y
		}
	}
}

func validate(sampleRate, frequency, q float64, passes int) error {
	switch {
	case sampleRate <= 0:
		return fmt.Errorf("sample rate must be positive, got %g", sampleRate)
	case frequency <= 0 || frequency >= sampleRate/2:
		return fmt.Errorf("cutoff %g Hz must lie between 0 and the Nyquist frequency %g Hz", frequency, sampleRate/2)
	case q <= 0:
		return fmt.Errorf("q must be greater than 0, got %g", q)
	case passes < 1:
		return fmt.Errorf("passes must be 1 or greater")
	}
	return nil
}

// NewLowPass returns the low-pass filter.
//
// Parameters:
//
//   - sampleRate ... sample rate in Hz. e.g. 48000.0
//   - frequency ... Cut off frequency in Hz.
//   - q ... Q value, 0.707 for a Butterworth response.
//   - passes ... Number of passes (1 = 12dB/oct, 2 = 24dB/oct, 4 = 48dB/oct)
func NewLowPass(sampleRate, frequency, q float64, passes int) (*Filter, error) {
	if err := validate(sampleRate, frequency, q, passes); err != nil {
		return nil, err
	}

	w0 := 2.0 * math.Pi * frequency / sampleRate
	alpha := math.Sin(w0) / (2.0 * q)
	cos := math.Cos(w0)

	return NewFilter(
		LowPass,
		1.0+alpha,
		-2.0*cos,
		1.0-alpha,
		(1.0-cos)/2.0,
		1.0-cos,
		(1.0-cos)/2.0,
		passes,
	), nil
}

// NewHighPass returns the high-pass filter. Parameters match NewLowPass.
func NewHighPass(sampleRate, frequency, q float64, passes int) (*Filter, error) {
	if err := validate(sampleRate, frequency, q, passes); err != nil {
		return nil, err
	}

	w0 := 2.0 * math.Pi * frequency / sampleRate
	alpha := math.Sin(w0) / (2.0 * q)
	cos := math.Cos(w0)

	return NewFilter(
		HighPass,
		1.0+alpha,
		-2.0*cos,
		1.0-alpha,
		(1.0+cos)/2.0,
		-1.0*(1.0+cos),
		(1.0+cos)/2.0,
		passes,
	), nil
}

// FilterChain applies filters in sequence.
type FilterChain struct {
	filters []*Filter
}

// NewFilterChain creates an empty FilterChain.
func NewFilterChain() *FilterChain {
	return &FilterChain{filters: make([]*Filter, 0, 2)}
}

// AddFilter appends f to the chain.
func (fc *FilterChain) AddFilter(f *Filter) error {
	if f.IsZero() {
		return fmt.Errorf("cannot add nil or uninitialized audio EQ filter")
	}
	fc.filters = append(fc.filters, f)
	return nil
}

// Length returns the number of filters in the chain.
func (fc *FilterChain) Length() int {
	return len(fc.filters)
}

// Process returns input run through every filter of the chain.
func (fc *FilterChain) Process(input []float64) []float64 {
	out := make([]float64, len(input))
	copy(out, input)
	for _, f := range fc.filters {
		f.apply(out)
	}
	return out
}

// ProcessFloat32 is Process for float32 sample buffers.
func (fc *FilterChain) ProcessFloat32(input []float32) []float32 {
	buf := make([]float64, len(input))
	for i, s := range input {
		buf[i] = float64(s)
	}
	for _, f := range fc.filters {
		f.apply(buf)
	}
	out := make([]float32, len(buf))
	for i, s := range buf {
		out[i] = float32(s)
	}
	return out
}
