package preprocess

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func asSpectrogram(in Sample) (*Spectrogram, error) {
	s, ok := in.(*Spectrogram)
	if !ok {
		return nil, fmt.Errorf("expected spectrogram, got %s", in.Kind())
	}
	if s.Values == nil {
		return nil, fmt.Errorf("spectrogram has no values")
	}
	return s, nil
}

// SpectrogramParams computes a one-sided power spectrogram with a short-time
// Fourier transform. Each frame has its mean removed before windowing.
type SpectrogramParams struct {
	WindowType      string  `yaml:"window_type"`
	WindowSamples   int     `yaml:"window_samples"`
	OverlapFraction float64 `yaml:"overlap_fraction"`
	// DBScale converts power to 10*log10(power) clamped to [MinDB, MaxDB].
	DBScale bool    `yaml:"db_scale"`
	MinDB   float64 `yaml:"min_db"`
	MaxDB   float64 `yaml:"max_db"`
}

func (SpectrogramParams) Type() StepType   { return StepSpectrogram }
func (SpectrogramParams) Input() Kind      { return KindWaveform }
func (SpectrogramParams) Output() Kind     { return KindSpectrogram }
func (SpectrogramParams) Stochastic() bool { return false }

func (p SpectrogramParams) Validate() error {
	switch {
	case p.windowFunc() == nil:
		return fmt.Errorf("unsupported window_type %q, use hann or hamming", p.WindowType)
	case p.WindowSamples < 2:
		return fmt.Errorf("window_samples must be >= 2, got %d", p.WindowSamples)
	case p.OverlapFraction < 0 || p.OverlapFraction >= 1 || math.IsNaN(p.OverlapFraction):
		return fmt.Errorf("overlap_fraction must be within [0, 1), got %g", p.OverlapFraction)
	case p.DBScale && !(p.MaxDB > p.MinDB):
		return fmt.Errorf("max_db must be greater than min_db, got %g and %g", p.MaxDB, p.MinDB)
	}
	return nil
}

func (p SpectrogramParams) windowFunc() func([]float64) []float64 {
	switch strings.ToLower(p.WindowType) {
	case "hann", "":
		return window.Hann
	case "hamming":
		return window.Hamming
	default:
		return nil
	}
}

func (p SpectrogramParams) apply(_ *runContext, in Sample) (Sample, error) {
	w, err := asWaveform(in)
	if err != nil {
		return nil, err
	}
	n := p.WindowSamples
	if len(w.Samples) < n {
		return nil, fmt.Errorf("audio has %d samples, fewer than the %d sample window", len(w.Samples), n)
	}

	step := n - int(float64(n)*p.OverlapFraction)
	frames := 1 + (len(w.Samples)-n)/step
	bins := n/2 + 1

	coeffWindow := make([]float64, n)
	for i := range coeffWindow {
		coeffWindow[i] = 1
	}
	coeffWindow = p.windowFunc()(coeffWindow)
	windowSum := floats.Sum(coeffWindow)
	scale := 1 / (windowSum * windowSum)

	fft := fourier.NewFFT(n)
	values := mat.NewDense(bins, frames, nil)
	segment := make([]float64, n)
	coeffs := make([]complex128, bins)
	times := make([]float64, frames)
	rate := float64(w.SampleRate)

	for f := range frames {
		start := f * step
		for i := range segment {
			segment[i] = float64(w.Samples[start+i])
		}
		mean := stat.Mean(segment, nil)
		for i := range segment {
			segment[i] = (segment[i] - mean) * coeffWindow[i]
		}
		coeffs = fft.Coefficients(coeffs, segment)
		for k, c := range coeffs {
			power := (real(c)*real(c) + imag(c)*imag(c)) * scale
			// one-sided spectrum: fold negative frequencies except DC and Nyquist
			if k != 0 && (n%2 != 0 || k != bins-1) {
				power *= 2
			}
			values.Set(k, f, power)
		}
		times[f] = (float64(start) + float64(n)/2) / rate
	}

	freqs := make([]float64, bins)
	for k := range freqs {
		freqs[k] = float64(k) * rate / float64(n)
	}

	spec := &Spectrogram{Values: values, Frequencies: freqs, Times: times}
	if p.DBScale {
		values.Apply(func(_, _ int, v float64) float64 {
			if v <= 0 {
				return p.MinDB
			}
			return clamp(10*math.Log10(v), p.MinDB, p.MaxDB)
		}, values)
		spec.Limits = [2]float64{p.MinDB, p.MaxDB}
	} else {
		spec.Limits = [2]float64{mat.Min(values), mat.Max(values)}
	}
	return spec, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// BandpassSpectrogramParams keeps the rows whose frequencies lie between the
// bins nearest to MinHz and MaxHz, inclusive.
type BandpassSpectrogramParams struct {
	MinHz float64 `yaml:"min_hz"`
	MaxHz float64 `yaml:"max_hz"`
}

func (BandpassSpectrogramParams) Type() StepType   { return StepBandpassSpectrogram }
func (BandpassSpectrogramParams) Input() Kind      { return KindSpectrogram }
func (BandpassSpectrogramParams) Output() Kind     { return KindSpectrogram }
func (BandpassSpectrogramParams) Stochastic() bool { return false }

func (p BandpassSpectrogramParams) Validate() error {
	if p.MinHz < 0 || p.MaxHz <= p.MinHz {
		return fmt.Errorf("need 0 <= min_hz < max_hz, got %g and %g", p.MinHz, p.MaxHz)
	}
	return nil
}

func (p BandpassSpectrogramParams) apply(_ *runContext, in Sample) (Sample, error) {
	s, err := asSpectrogram(in)
	if err != nil {
		return nil, err
	}
	lo, hi := nearestIndex(s.Frequencies, p.MinHz), nearestIndex(s.Frequencies, p.MaxHz)
	_, frames := s.Dims()

	return &Spectrogram{
		Values:      mat.DenseCopyOf(s.Values.Slice(lo, hi+1, 0, frames)),
		Frequencies: append([]float64(nil), s.Frequencies[lo:hi+1]...),
		Times:       s.Times,
		Limits:      s.Limits,
	}, nil
}

func nearestIndex(values []float64, target float64) int {
	best := 0
	for i, v := range values {
		if math.Abs(v-target) < math.Abs(values[best]-target) {
			best = i
		}
	}
	return best
}

// LimitDBParams clamps every value into [MinDB, MaxDB].
type LimitDBParams struct {
	MinDB float64 `yaml:"min_db"`
	MaxDB float64 `yaml:"max_db"`
}

func (LimitDBParams) Type() StepType   { return StepLimitDB }
func (LimitDBParams) Input() Kind      { return KindSpectrogram }
func (LimitDBParams) Output() Kind     { return KindSpectrogram }
func (LimitDBParams) Stochastic() bool { return false }

func (p LimitDBParams) Validate() error {
	if !(p.MaxDB > p.MinDB) {
		return fmt.Errorf("max_db must be greater than min_db, got %g and %g", p.MaxDB, p.MinDB)
	}
	return nil
}

func (p LimitDBParams) apply(_ *runContext, in Sample) (Sample, error) {
	s, err := asSpectrogram(in)
	if err != nil {
		return nil, err
	}
	return s.mapValues(func(v float64) float64 { return clamp(v, p.MinDB, p.MaxDB) }, s.Limits), nil
}

func (s *Spectrogram) mapValues(fn func(float64) float64, limits [2]float64) *Spectrogram {
	var values mat.Dense
	values.Apply(func(_, _ int, v float64) float64 { return fn(v) }, s.Values)
	return &Spectrogram{Values: &values, Frequencies: s.Frequencies, Times: s.Times, Limits: limits}
}

// MaskParams configures frequency and time masking. Up to MaxMasks bands,
// each at most MaxWidth of the axis, are overwritten with the mean value.
type MaskParams struct {
	MaxMasks int     `yaml:"max_masks"`
	MaxWidth float64 `yaml:"max_width"`
}

func (p MaskParams) validate() error {
	if p.MaxMasks < 0 {
		return fmt.Errorf("max_masks must be >= 0, got %d", p.MaxMasks)
	}
	if p.MaxWidth < 0 || p.MaxWidth > 1 || math.IsNaN(p.MaxWidth) {
		return fmt.Errorf("max_width must be within [0, 1], got %g", p.MaxWidth)
	}
	return nil
}

// bands draws the [start, end) ranges to mask on an axis of length size.
func (p MaskParams) bands(rc *runContext, size int) [][2]int {
	widthPx := int(float64(size) * p.MaxWidth)
	if widthPx == 0 || p.MaxMasks == 0 {
		return nil
	}
	rng := rc.rand()
	count := 1 + rng.IntN(p.MaxMasks)
	out := make([][2]int, 0, count)
	for range count {
		width := 1 + rng.IntN(widthPx)
		start := rng.IntN(size - width + 1)
		out = append(out, [2]int{start, start + width})
	}
	return out
}

func maskSpectrogram(s *Spectrogram, bands [][2]int, rows bool) *Spectrogram {
	bins, frames := s.Dims()
	fill := mat.Sum(s.Values) / float64(bins*frames)
	values := mat.DenseCopyOf(s.Values)
	for _, b := range bands {
		for i := b[0]; i < b[1]; i++ {
			if rows {
				for j := range frames {
					values.Set(i, j, fill)
				}
			} else {
				for j := range bins {
					values.Set(j, i, fill)
				}
			}
		}
	}
	return &Spectrogram{Values: values, Frequencies: s.Frequencies, Times: s.Times, Limits: s.Limits}
}

// FrequencyMaskParams masks horizontal bands of frequency bins.
type FrequencyMaskParams MaskParams

func (FrequencyMaskParams) Type() StepType    { return StepFrequencyMask }
func (FrequencyMaskParams) Input() Kind       { return KindSpectrogram }
func (FrequencyMaskParams) Output() Kind      { return KindSpectrogram }
func (FrequencyMaskParams) Stochastic() bool  { return true }
func (p FrequencyMaskParams) Validate() error { return MaskParams(p).validate() }

func (p FrequencyMaskParams) apply(rc *runContext, in Sample) (Sample, error) {
	s, err := asSpectrogram(in)
	if err != nil {
		return nil, err
	}
	bins, _ := s.Dims()
	return maskSpectrogram(s, MaskParams(p).bands(rc, bins), true), nil
}

// TimeMaskParams masks vertical bands of time frames.
type TimeMaskParams MaskParams

func (TimeMaskParams) Type() StepType    { return StepTimeMask }
func (TimeMaskParams) Input() Kind       { return KindSpectrogram }
func (TimeMaskParams) Output() Kind      { return KindSpectrogram }
func (TimeMaskParams) Stochastic() bool  { return true }
func (p TimeMaskParams) Validate() error { return MaskParams(p).validate() }

func (p TimeMaskParams) apply(rc *runContext, in Sample) (Sample, error) {
	s, err := asSpectrogram(in)
	if err != nil {
		return nil, err
	}
	_, frames := s.Dims()
	return maskSpectrogram(s, MaskParams(p).bands(rc, frames), false), nil
}

// LinearScaleParams maps the spectrogram's Limits onto [Min, Max].
type LinearScaleParams struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

func (LinearScaleParams) Type() StepType   { return StepLinearScale }
func (LinearScaleParams) Input() Kind      { return KindSpectrogram }
func (LinearScaleParams) Output() Kind     { return KindSpectrogram }
func (LinearScaleParams) Stochastic() bool { return false }

func (p LinearScaleParams) Validate() error { return validateRange(p.Min, p.Max) }

func validateRange(lo, hi float64) error {
	if !(hi > lo) {
		return fmt.Errorf("max must be greater than min, got %g and %g", hi, lo)
	}
	return nil
}

func (p LinearScaleParams) apply(_ *runContext, in Sample) (Sample, error) {
	s, err := asSpectrogram(in)
	if err != nil {
		return nil, err
	}
	return rescale(s, s.Limits[0], s.Limits[1], p.Min, p.Max)
}

func rescale(s *Spectrogram, inLo, inHi, outLo, outHi float64) (*Spectrogram, error) {
	out := [2]float64{outLo, outHi}
	if inHi == inLo {
		return s.mapValues(func(float64) float64 { return outLo }, out), nil
	}
	if inHi < inLo {
		return nil, fmt.Errorf("input range [%g, %g] is not increasing", inLo, inHi)
	}
	factor := (outHi - outLo) / (inHi - inLo)
	return s.mapValues(func(v float64) float64 { return (v-inLo)*factor + outLo }, out), nil
}

// MinMaxScaleParams maps the actual value range of each spectrogram onto
// [Min, Max]. A constant spectrogram maps to Min.
type MinMaxScaleParams struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

func (MinMaxScaleParams) Type() StepType   { return StepMinMaxScale }
func (MinMaxScaleParams) Input() Kind      { return KindSpectrogram }
func (MinMaxScaleParams) Output() Kind     { return KindSpectrogram }
func (MinMaxScaleParams) Stochastic() bool { return false }

func (p MinMaxScaleParams) Validate() error { return validateRange(p.Min, p.Max) }

func (p MinMaxScaleParams) apply(_ *runContext, in Sample) (Sample, error) {
	s, err := asSpectrogram(in)
	if err != nil {
		return nil, err
	}
	return rescale(s, mat.Min(s.Values), mat.Max(s.Values), p.Min, p.Max)
}

// ToTensorParams renders a spectrogram as an image tensor of shape
// [Channels, Height, Width]. Values are mapped from Limits to [0, 1] and the
// frequency axis is flipped so the highest frequency is the first row. Zero
// Height or Width keeps the spectrogram's size along that axis.
type ToTensorParams struct {
	Height   int  `yaml:"height"`
	Width    int  `yaml:"width"`
	Channels int  `yaml:"channels"`
	Invert   bool `yaml:"invert"`
}

func (ToTensorParams) Type() StepType   { return StepToTensor }
func (ToTensorParams) Input() Kind      { return KindSpectrogram }
func (ToTensorParams) Output() Kind     { return KindTensor }
func (ToTensorParams) Stochastic() bool { return false }

func (p ToTensorParams) Validate() error {
	if p.Height < 0 || p.Width < 0 {
		return fmt.Errorf("height and width must be >= 0, got %d and %d", p.Height, p.Width)
	}
	if p.Channels < 1 {
		return fmt.Errorf("channels must be >= 1, got %d", p.Channels)
	}
	return nil
}

func (p ToTensorParams) apply(_ *runContext, in Sample) (Sample, error) {
	s, err := asSpectrogram(in)
	if err != nil {
		return nil, err
	}
	bins, frames := s.Dims()
	lo, hi := s.Limits[0], s.Limits[1]

	// image[r][c] with row 0 holding the highest frequency bin
	image := mat.NewDense(bins, frames, nil)
	image.Apply(func(i, j int, _ float64) float64 {
		v := s.Values.At(bins-1-i, j)
		if hi > lo {
			v = clamp((v-lo)/(hi-lo), 0, 1)
		} else {
			v = 0
		}
		if p.Invert {
			v = 1 - v
		}
		return v
	}, image)

	height, width := p.Height, p.Width
	if height == 0 {
		height = bins
	}
	if width == 0 {
		width = frames
	}

	t := NewTensor(p.Channels, height, width)
	plane := t.Data[:height*width]
	resizeBilinear(image, plane, height, width)
	for c := 1; c < p.Channels; c++ {
		copy(t.Data[c*height*width:(c+1)*height*width], plane)
	}
	return t, nil
}

// resizeBilinear samples src onto a height x width grid using pixel centre
// alignment and writes the result row-major into dst.
func resizeBilinear(src *mat.Dense, dst []float32, height, width int) {
	inH, inW := src.Dims()
	scaleY := float64(inH) / float64(height)
	scaleX := float64(inW) / float64(width)

	for y := range height {
		sy := clamp((float64(y)+0.5)*scaleY-0.5, 0, float64(inH-1))
		y0 := int(sy)
		y1 := min(y0+1, inH-1)
		wy := sy - float64(y0)
		for x := range width {
			sx := clamp((float64(x)+0.5)*scaleX-0.5, 0, float64(inW-1))
			x0 := int(sx)
			x1 := min(x0+1, inW-1)
			wx := sx - float64(x0)

			top := src.At(y0, x0)*(1-wx) + src.At(y0, x1)*wx
			bottom := src.At(y1, x0)*(1-wx) + src.At(y1, x1)*wx
			dst[y*width+x] = float32(top*(1-wy) + bottom*wy)
		}
	}
}
