package preprocess

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func applyStep(t *testing.T, p Params, in Sample, rc *runContext) Sample {
	t.Helper()
	require.NoError(t, p.Validate())
	if rc == nil {
		rc = &runContext{}
	}
	out, err := p.apply(rc, in)
	require.NoError(t, err)
	return out
}

func seeded(seed uint64) *runContext {
	return &runContext{rng: rand.New(rand.NewPCG(seed, seed))}
}

func rmsOf(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func TestTrim(t *testing.T) {
	t.Parallel()

	ramp := &Waveform{SampleRate: 10, Samples: make([]float32, 30)}
	for i := range ramp.Samples {
		ramp.Samples[i] = float32(i)
	}

	tests := []struct {
		name      string
		params    TrimParams
		clip      float64
		in        *Waveform
		wantLen   int
		wantFirst float32
		wantLast  float32
	}{
		{name: "cuts head", params: TrimParams{Duration: 2}, in: ramp, wantLen: 20, wantFirst: 0, wantLast: 19},
		{name: "extends short audio", params: TrimParams{Duration: 4, Extend: true}, in: ramp, wantLen: 40, wantFirst: 0, wantLast: 0},
		{name: "uses clip duration", params: TrimParams{}, clip: 1, in: ramp, wantLen: 10, wantFirst: 0, wantLast: 9},
		{name: "no duration passes through", params: TrimParams{}, in: ramp, wantLen: 30, wantFirst: 0, wantLast: 29},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out := applyStep(t, tt.params, tt.in, &runContext{clipDuration: tt.clip}).(*Waveform)
			require.Len(t, out.Samples, tt.wantLen)
			assert.Equal(t, tt.wantFirst, out.Samples[0])
			assert.Equal(t, tt.wantLast, out.Samples[len(out.Samples)-1])
			assert.Equal(t, 10, out.SampleRate)
		})
	}

	t.Run("short audio without extend fails", func(t *testing.T) {
		t.Parallel()
		_, err := TrimParams{Duration: 4}.apply(&runContext{}, ramp)
		require.Error(t, err)
	})

	t.Run("zero length audio fails", func(t *testing.T) {
		t.Parallel()
		_, err := TrimParams{Duration: 1, Extend: true}.apply(&runContext{}, &Waveform{SampleRate: 10})
		require.ErrorIs(t, err, errEmptyAudio)
	})

	t.Run("random trim stays inside and is seeded", func(t *testing.T) {
		t.Parallel()
		p := TrimParams{Duration: 1, RandomTrim: true}
		assert.True(t, p.Stochastic())

		a := applyStep(t, p, ramp, seeded(3)).(*Waveform)
		b := applyStep(t, p, ramp, seeded(3)).(*Waveform)
		assert.Equal(t, a.Samples, b.Samples)
		require.Len(t, a.Samples, 10)
		assert.GreaterOrEqual(t, a.Samples[0], float32(0))
		assert.LessOrEqual(t, a.Samples[9], float32(29))
		assert.Equal(t, a.Samples[0]+9, a.Samples[9], "window is contiguous")
	})
}

func TestResampleStep(t *testing.T) {
	t.Parallel()

	out := applyStep(t, ResampleParams{SampleRate: 16000}, sineWave(440, 48000, 4800), nil).(*Waveform)
	assert.Equal(t, 16000, out.SampleRate)
	assert.Len(t, out.Samples, 1600)

	same := sineWave(440, 16000, 100)
	assert.Same(t, same, applyStep(t, ResampleParams{SampleRate: 16000}, same, nil))
}

func TestFilterSteps(t *testing.T) {
	t.Parallel()

	const rate = 16000
	low := sineWave(100, rate, rate)
	mid := sineWave(2000, rate, rate)
	high := sineWave(7000, rate, rate)

	level := func(p Params, in *Waveform) float64 {
		out := applyStep(t, p, in, nil).(*Waveform)
		// skip the settling transient
		return rmsOf(out.Samples[rate/2:]) / rmsOf(in.Samples[rate/2:])
	}

	band := BandpassParams{LowHz: 1000, HighHz: 3000, Order: 4}
	assert.Less(t, level(band, low), 0.05)
	assert.Greater(t, level(band, mid), 0.5)
	assert.Less(t, level(band, high), 0.05)

	assert.Less(t, level(HighpassParams{CutoffHz: 1000, Order: 4}, low), 0.05)
	assert.Greater(t, level(HighpassParams{CutoffHz: 1000, Order: 4}, high), 0.9)
	assert.Less(t, level(LowpassParams{CutoffHz: 1000, Order: 4}, high), 0.05)
	assert.Greater(t, level(LowpassParams{CutoffHz: 1000, Order: 4}, low), 0.9)

	_, err := LowpassParams{CutoffHz: 9000, Order: 2}.apply(&runContext{}, low)
	require.Error(t, err, "cutoff above nyquist")

	require.Error(t, BandpassParams{LowHz: 3000, HighHz: 1000, Order: 2}.Validate())
	require.Error(t, HighpassParams{CutoffHz: 100, Order: 0}.Validate())
}

func TestGainAndNormalize(t *testing.T) {
	t.Parallel()

	in := constantWave(0.05, 10, 10)
	in.Samples[3] = -0.2

	loud := applyStep(t, GainParams{DB: 20}, in, nil).(*Waveform)
	assert.InDelta(t, 0.5, loud.Samples[0], 1e-6)
	assert.InDelta(t, -2.0, loud.Samples[3], 1e-6)

	norm := applyStep(t, NormalizeParams{PeakDBFS: -6}, in, nil).(*Waveform)
	assert.InDelta(t, -math.Pow(10, -6.0/20), norm.Samples[3], 1e-6)
	assert.InDelta(t, 0.25*math.Pow(10, -6.0/20), norm.Samples[0], 1e-6)

	silent := constantWave(0, 10, 10)
	assert.Same(t, silent, applyStep(t, NormalizeParams{}, silent, nil))

	require.Error(t, NormalizeParams{PeakDBFS: 3}.Validate())
	require.Error(t, GainParams{DB: math.Inf(1)}.Validate())
}

func TestNoiseAndShift(t *testing.T) {
	t.Parallel()

	in := sineWave(3, 100, 100)

	noisy := applyStep(t, AddNoiseParams{Std: 0.1}, in, seeded(9)).(*Waveform)
	again := applyStep(t, AddNoiseParams{Std: 0.1}, in, seeded(9)).(*Waveform)
	assert.Equal(t, noisy.Samples, again.Samples)
	assert.NotEqual(t, in.Samples, noisy.Samples)

	silent := applyStep(t, AddNoiseParams{Std: 0}, in, seeded(9)).(*Waveform)
	assert.Equal(t, in.Samples, silent.Samples)

	shifted := applyStep(t, TimeShiftParams{MaxFraction: 0.5}, in, seeded(11)).(*Waveform)
	require.Len(t, shifted.Samples, len(in.Samples))
	var sumIn, sumOut float64
	for i := range in.Samples {
		sumIn += float64(in.Samples[i])
		sumOut += float64(shifted.Samples[i])
	}
	assert.InDelta(t, sumIn, sumOut, 1e-5, "a circular shift keeps every sample")

	unshifted := applyStep(t, TimeShiftParams{MaxFraction: 0}, in, seeded(11)).(*Waveform)
	assert.Equal(t, in.Samples, unshifted.Samples)

	require.Error(t, TimeShiftParams{MaxFraction: 2}.Validate())
	require.Error(t, AddNoiseParams{Std: -1}.Validate())
}

func TestWaveformTensor(t *testing.T) {
	t.Parallel()

	in := sineWave(1, 10, 10)
	out := applyStep(t, WaveformTensorParams{}, in, nil).(*Tensor)
	assert.Equal(t, []int{1, 10}, out.Shape)
	assert.Equal(t, in.Samples, out.Data)

	out.Data[0] = 42
	assert.NotEqual(t, float32(42), in.Samples[0], "tensor owns its data")
}

func TestSpectrogram(t *testing.T) {
	t.Parallel()

	const rate = 8000
	in := sineWave(1000, rate, rate)
	spec := applyStep(t, DefaultSpectrogramParams(), in, nil).(*Spectrogram)

	bins, frames := spec.Dims()
	assert.Equal(t, 257, bins)
	assert.Equal(t, 30, frames)
	require.Len(t, spec.Frequencies, bins)
	require.Len(t, spec.Times, frames)
	assert.InDelta(t, 15.625, spec.Frequencies[1], 1e-9)
	assert.InDelta(t, 4000, spec.Frequencies[bins-1], 1e-9)
	assert.InDelta(t, 256.0/rate, spec.Times[0], 1e-12)
	assert.Equal(t, [2]float64{-100, -20}, spec.Limits)

	assert.GreaterOrEqual(t, mat.Min(spec.Values), -100.0)
	assert.LessOrEqual(t, mat.Max(spec.Values), -20.0)

	// the tone lands in bin 1000 / 15.625 = 64
	column := mat.Col(nil, frames/2, spec.Values)
	peak := 0
	for k, v := range column {
		if v > column[peak] {
			peak = k
		}
	}
	assert.Equal(t, 64, peak)

	t.Run("linear power", func(t *testing.T) {
		t.Parallel()
		p := DefaultSpectrogramParams()
		p.DBScale = false
		p.WindowType = "hamming"
		linear := applyStep(t, p, in, nil).(*Spectrogram)
		assert.InDelta(t, mat.Min(linear.Values), linear.Limits[0], 1e-12)
		assert.InDelta(t, mat.Max(linear.Values), linear.Limits[1], 1e-12)
		assert.GreaterOrEqual(t, linear.Limits[0], 0.0)
	})

	t.Run("silence maps to the floor", func(t *testing.T) {
		t.Parallel()
		quiet := applyStep(t, DefaultSpectrogramParams(), constantWave(0, rate, 1024), nil).(*Spectrogram)
		assert.Equal(t, -100.0, mat.Max(quiet.Values))
	})

	t.Run("audio shorter than the window fails", func(t *testing.T) {
		t.Parallel()
		_, err := DefaultSpectrogramParams().apply(&runContext{}, sineWave(1000, rate, 100))
		require.Error(t, err)
	})

	t.Run("invalid parameters", func(t *testing.T) {
		t.Parallel()
		for _, mutate := range []func(*SpectrogramParams){
			func(p *SpectrogramParams) { p.WindowType = "boxcar" },
			func(p *SpectrogramParams) { p.WindowSamples = 1 },
			func(p *SpectrogramParams) { p.OverlapFraction = 1 },
			func(p *SpectrogramParams) { p.MinDB, p.MaxDB = -20, -100 },
		} {
			p := DefaultSpectrogramParams()
			mutate(&p)
			require.Error(t, p.Validate())
		}
	})
}

// gridSpectrogram returns a bins x frames spectrogram whose value at (r, c)
// is r*10 + c, with bins spaced 100 Hz apart.
func gridSpectrogram(bins, frames int) *Spectrogram {
	values := mat.NewDense(bins, frames, nil)
	freqs := make([]float64, bins)
	for r := range bins {
		freqs[r] = float64(r * 100)
		for c := range frames {
			values.Set(r, c, float64(r*10+c))
		}
	}
	times := make([]float64, frames)
	for c := range times {
		times[c] = float64(c)
	}
	return &Spectrogram{Values: values, Frequencies: freqs, Times: times, Limits: [2]float64{0, 100}}
}

func TestBandpassSpectrogram(t *testing.T) {
	t.Parallel()

	in := gridSpectrogram(10, 3)
	out := applyStep(t, BandpassSpectrogramParams{MinHz: 190, MaxHz: 520}, in, nil).(*Spectrogram)

	bins, frames := out.Dims()
	assert.Equal(t, 4, bins, "rows 2 through 5")
	assert.Equal(t, 3, frames)
	assert.Equal(t, []float64{200, 300, 400, 500}, out.Frequencies)
	assert.Equal(t, 20.0, out.Values.At(0, 0))
	assert.Equal(t, 52.0, out.Values.At(3, 2))

	require.Error(t, BandpassSpectrogramParams{MinHz: 500, MaxHz: 100}.Validate())
}

func TestLimitAndScaleSpectrogram(t *testing.T) {
	t.Parallel()

	in := gridSpectrogram(4, 4)

	limited := applyStep(t, LimitDBParams{MinDB: 5, MaxDB: 25}, in, nil).(*Spectrogram)
	assert.Equal(t, 5.0, mat.Min(limited.Values))
	assert.Equal(t, 25.0, mat.Max(limited.Values))
	assert.Equal(t, 0.0, in.Values.At(0, 0), "input untouched")

	linear := applyStep(t, LinearScaleParams{Min: 0, Max: 1}, in, nil).(*Spectrogram)
	assert.InDelta(t, 0.33, linear.Values.At(3, 3), 1e-12)
	assert.Equal(t, [2]float64{0, 1}, linear.Limits)

	minmax := applyStep(t, MinMaxScaleParams{Min: -1, Max: 1}, in, nil).(*Spectrogram)
	assert.InDelta(t, -1, mat.Min(minmax.Values), 1e-12)
	assert.InDelta(t, 1, mat.Max(minmax.Values), 1e-12)

	flat := &Spectrogram{Values: mat.NewDense(2, 2, []float64{3, 3, 3, 3}), Frequencies: []float64{0, 1}, Times: []float64{0, 1}}
	constant := applyStep(t, MinMaxScaleParams{Min: 0.25, Max: 1}, flat, nil).(*Spectrogram)
	assert.Equal(t, 0.25, mat.Max(constant.Values))

	require.Error(t, LimitDBParams{MinDB: 0, MaxDB: 0}.Validate())
	require.Error(t, LinearScaleParams{Min: 1, Max: 0}.Validate())
}

func TestMasks(t *testing.T) {
	t.Parallel()

	in := gridSpectrogram(20, 20)
	mean := mat.Sum(in.Values) / 400

	freq := applyStep(t, FrequencyMaskParams{MaxMasks: 3, MaxWidth: 0.2}, in, seeded(5)).(*Spectrogram)
	maskedRows := 0
	for r := range 20 {
		row := mat.Row(nil, r, freq.Values)
		if row[0] == mean && row[19] == mean {
			maskedRows++
		}
	}
	assert.Positive(t, maskedRows)
	assert.LessOrEqual(t, maskedRows, 12)

	timeMasked := applyStep(t, TimeMaskParams{MaxMasks: 3, MaxWidth: 0.2}, in, seeded(5)).(*Spectrogram)
	maskedCols := 0
	for c := range 20 {
		col := mat.Col(nil, c, timeMasked.Values)
		if col[0] == mean && col[19] == mean {
			maskedCols++
		}
	}
	assert.Positive(t, maskedCols)

	again := applyStep(t, TimeMaskParams{MaxMasks: 3, MaxWidth: 0.2}, in, seeded(5)).(*Spectrogram)
	assert.True(t, mat.Equal(timeMasked.Values, again.Values))

	none := applyStep(t, FrequencyMaskParams{MaxMasks: 0, MaxWidth: 0.2}, in, seeded(5)).(*Spectrogram)
	assert.True(t, mat.Equal(in.Values, none.Values))

	require.Error(t, TimeMaskParams{MaxMasks: 1, MaxWidth: 1.5}.Validate())
}

func TestToTensor(t *testing.T) {
	t.Parallel()

	in := &Spectrogram{
		// row 0 is the lowest frequency
		Values:      mat.NewDense(2, 3, []float64{-100, -60, -20, -20, -20, -100}),
		Frequencies: []float64{0, 100},
		Times:       []float64{0, 1, 2},
		Limits:      [2]float64{-100, -20},
	}

	out := applyStep(t, ToTensorParams{Channels: 2}, in, nil).(*Tensor)
	assert.Equal(t, []int{2, 2, 3}, out.Shape)
	want := []float32{1, 1, 0, 0, 0.5, 1}
	assert.InDeltaSlice(t, want, out.Data[:6], 1e-6)
	assert.Equal(t, out.Data[:6], out.Data[6:], "channels repeat")

	inverted := applyStep(t, ToTensorParams{Channels: 1, Invert: true}, in, nil).(*Tensor)
	assert.InDeltaSlice(t, []float32{0, 0, 1, 1, 0.5, 0}, inverted.Data, 1e-6)

	resized := applyStep(t, ToTensorParams{Height: 4, Width: 6, Channels: 1}, in, nil).(*Tensor)
	assert.Equal(t, []int{1, 4, 6}, resized.Shape)
	for _, v := range resized.Data {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
	assert.InDelta(t, 1, resized.Data[0], 1e-6, "corners keep source values")
	assert.InDelta(t, 1, resized.Data[len(resized.Data)-1], 1e-6)

	require.Error(t, ToTensorParams{Channels: 0}.Validate())
	require.Error(t, ToTensorParams{Height: -1, Channels: 1}.Validate())
}

func TestScaleTensor(t *testing.T) {
	t.Parallel()

	in := &Tensor{Shape: []int{1, 4}, Data: []float32{0, 0.5, 1, 1}}

	fixed := applyStep(t, ScaleTensorParams{Mean: 0.5, Std: 0.5}, in, nil).(*Tensor)
	assert.Equal(t, []float32{-1, 0, 1, 1}, fixed.Data)
	assert.Equal(t, []float32{0, 0.5, 1, 1}, in.Data, "input untouched")

	perSample := applyStep(t, ScaleTensorParams{PerSample: true}, in, nil).(*Tensor)
	values := make([]float64, len(perSample.Data))
	for i, v := range perSample.Data {
		values[i] = float64(v)
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	assert.InDelta(t, 0, mean, 1e-6)
	assert.InDelta(t, 1, std, 1e-6)

	flat := applyStep(t, ScaleTensorParams{PerSample: true}, &Tensor{Shape: []int{2}, Data: []float32{3, 3}}, nil).(*Tensor)
	assert.Equal(t, []float32{0, 0}, flat.Data)

	require.Error(t, ScaleTensorParams{Std: 0}.Validate())
}

func TestTensorAddNoise(t *testing.T) {
	t.Parallel()

	in := NewTensor(1, 8, 8)
	a := applyStep(t, TensorAddNoiseParams{Std: 1}, in, seeded(1)).(*Tensor)
	b := applyStep(t, TensorAddNoiseParams{Std: 1}, in, seeded(1)).(*Tensor)
	assert.Equal(t, a.Data, b.Data)
	assert.True(t, a.SameShape(in))
	assert.NotEqual(t, in.Data, a.Data)

	_, err := TensorAddNoiseParams{Std: 1}.apply(seeded(1), &Tensor{})
	require.Error(t, err)
}
