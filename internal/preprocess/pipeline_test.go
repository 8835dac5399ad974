package preprocess

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineWave(freq float64, rate, n int) *Waveform {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return &Waveform{Samples: samples, SampleRate: rate}
}

func constantWave(v float32, rate, n int) *Waveform {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return &Waveform{Samples: samples, SampleRate: rate}
}

func disabled(s Step) Step {
	s.Enabled = false
	return s
}

func TestNewPipelineTypeValidation(t *testing.T) {
	t.Parallel()

	bypassedSpectrogram := NewStep("spec", DefaultSpectrogramParams())
	bypassedSpectrogram.BypassInInference = true

	tests := []struct {
		name     string
		steps    []Step
		wantStep string
		expected Kind
		got      Kind
	}{
		{
			name: "two waveform to tensor steps",
			steps: []Step{
				NewStep("first", WaveformTensorParams{}),
				NewStep("second", WaveformTensorParams{}),
			},
			wantStep: "second",
			expected: KindWaveform,
			got:      KindTensor,
		},
		{
			name: "first step does not accept waveform",
			steps: []Step{
				NewStep("scale", ScaleTensorParams{Mean: 0, Std: 1}),
			},
			wantStep: "scale",
			expected: KindTensor,
			got:      KindWaveform,
		},
		{
			name: "disabled kind changing step breaks the chain",
			steps: []Step{
				NewStep("trim", TrimParams{Extend: true}),
				disabled(NewStep("spec", DefaultSpectrogramParams())),
				NewStep("image", ToTensorParams{Channels: 1}),
			},
			wantStep: "image",
			expected: KindSpectrogram,
			got:      KindWaveform,
		},
		{
			name: "chain broken only in inference mode",
			steps: []Step{
				bypassedSpectrogram,
				NewStep("image", ToTensorParams{Channels: 1}),
			},
			wantStep: "image",
			expected: KindSpectrogram,
			got:      KindWaveform,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := NewPipeline("test", tt.steps...)
			require.ErrorIs(t, err, ErrPipelineType)
			assert.Nil(t, p)

			var typeErr *PipelineTypeError
			require.ErrorAs(t, err, &typeErr)
			assert.Equal(t, tt.wantStep, typeErr.Step)
			assert.Equal(t, tt.expected, typeErr.Expected)
			assert.Equal(t, tt.got, typeErr.Got)
		})
	}
}

func TestNewPipelineRejectsMalformedSteps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		steps []Step
	}{
		{name: "unnamed step", steps: []Step{NewStep("", GainParams{})}},
		{name: "missing params", steps: []Step{{Name: "empty", Enabled: true}}},
		{name: "duplicate names", steps: []Step{NewStep("gain", GainParams{}), NewStep("gain", GainParams{DB: 3})}},
		{name: "invalid params", steps: []Step{NewStep("resample", ResampleParams{})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewPipeline("test", tt.steps...)
			require.ErrorIs(t, err, ErrPipelineType)
		})
	}
}

func TestPipelineAccessors(t *testing.T) {
	t.Parallel()

	p, err := NewPipeline("accessors",
		NewStep("gain", GainParams{DB: 6}),
		NewStep("noise", AddNoiseParams{Std: 0.1}),
		NewStep("tensor", WaveformTensorParams{}),
	)
	require.NoError(t, err)

	assert.Equal(t, "accessors", p.Name())
	assert.Equal(t, 3, p.Len())
	assert.Equal(t, KindTensor, p.Output(ModeInference))
	assert.True(t, p.Stochastic(ModeTraining))
	assert.False(t, p.Stochastic(ModeInference), "noise is bypassed in inference")

	step, ok := p.Step("noise")
	require.True(t, ok)
	assert.Equal(t, StepAddNoise, step.Type())
	assert.True(t, step.BypassInInference)

	_, ok = p.Step("missing")
	assert.False(t, ok)

	// Steps returns a copy
	steps := p.Steps()
	steps[0].Enabled = false
	first, _ := p.Step("gain")
	assert.True(t, first.Enabled)
}

func TestPipelineRunHonoursModeAndFlags(t *testing.T) {
	t.Parallel()

	p, err := NewPipeline("modes",
		NewStep("gain", GainParams{DB: 20}),
		disabled(NewStep("quiet", GainParams{DB: -20})),
		NewStep("noise", AddNoiseParams{Std: 0.5}),
		NewStep("tensor", WaveformTensorParams{}),
	)
	require.NoError(t, err)

	in := constantWave(0.01, 100, 10)

	out, err := p.Run(in, RunOptions{Mode: ModeInference})
	require.NoError(t, err)
	tensor := out.(*Tensor)
	assert.Equal(t, []int{1, 10}, tensor.Shape)
	for _, v := range tensor.Data {
		assert.InDelta(t, 0.1, v, 1e-6, "only the enabled gain step runs in inference")
	}

	out, err = p.Run(in, RunOptions{Mode: ModeTraining, Rand: rand.New(rand.NewPCG(1, 2))})
	require.NoError(t, err)
	noisy := out.(*Tensor)
	assert.NotEqual(t, tensor.Data, noisy.Data, "noise runs in training")

	// the input is never modified
	for _, v := range in.Samples {
		assert.InDelta(t, 0.01, v, 1e-9)
	}
}

func TestPipelineRunIsReproducible(t *testing.T) {
	t.Parallel()

	p, err := NewPipeline("stochastic",
		NewStep("shift", TimeShiftParams{MaxFraction: 0.5}),
		NewStep("noise", AddNoiseParams{Std: 0.1}),
		NewStep("tensor", WaveformTensorParams{}),
	)
	require.NoError(t, err)
	in := sineWave(5, 100, 200)

	run := func(seed uint64) []float32 {
		out, err := p.Run(in, RunOptions{Mode: ModeTraining, Rand: rand.New(rand.NewPCG(seed, 7))})
		require.NoError(t, err)
		return out.(*Tensor).Data
	}

	assert.Equal(t, run(42), run(42))
	assert.NotEqual(t, run(42), run(43))

	// a nil source is a fixed seed, not global state
	a, err := p.Run(in, RunOptions{Mode: ModeTraining})
	require.NoError(t, err)
	b, err := p.Run(in, RunOptions{Mode: ModeTraining})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPipelineRunErrors(t *testing.T) {
	t.Parallel()

	p, err := NewPipeline("strict", NewStep("trim", TrimParams{Duration: 2}))
	require.NoError(t, err)

	_, err = p.Run(constantWave(0.1, 100, 50), RunOptions{})
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "trim", stepErr.Step)
	assert.Equal(t, StepTrim, stepErr.Type)

	_, err = p.Run(&Waveform{SampleRate: 100}, RunOptions{})
	require.ErrorIs(t, err, errEmptyAudio)

	_, err = p.Run(NewTensor(1, 2), RunOptions{})
	require.Error(t, err)

	_, err = p.Run(nil, RunOptions{})
	require.Error(t, err)
}

func TestWithOverrides(t *testing.T) {
	t.Parallel()

	base, err := NewPipeline("base",
		NewStep("gain", GainParams{DB: 6}),
		NewStep("noise", AddNoiseParams{Std: 0.1}),
		NewStep("tensor", WaveformTensorParams{}),
	)
	require.NoError(t, err)

	off, noBypass := false, false
	derived, err := base.WithOverrides(
		Override{Step: "gain", Params: map[string]any{"db": -6.0}},
		Override{Step: "noise", Enabled: &off, BypassInInference: &noBypass},
	)
	require.NoError(t, err)

	gain, _ := derived.Step("gain")
	assert.Equal(t, GainParams{DB: -6}, gain.Params)
	noise, _ := derived.Step("noise")
	assert.False(t, noise.Enabled)
	assert.False(t, noise.BypassInInference)

	// the canonical pipeline keeps its definition
	original, _ := base.Step("gain")
	assert.Equal(t, GainParams{DB: 6}, original.Params)
	originalNoise, _ := base.Step("noise")
	assert.True(t, originalNoise.Enabled)

	t.Run("unknown step", func(t *testing.T) {
		t.Parallel()
		_, err := base.WithOverrides(Override{Step: "missing", Enabled: &off})
		require.ErrorIs(t, err, ErrPipelineType)
	})

	t.Run("unknown parameter", func(t *testing.T) {
		t.Parallel()
		_, err := base.WithOverrides(Override{Step: "gain", Params: map[string]any{"volume": 3}})
		require.ErrorIs(t, err, ErrPipelineType)
	})

	t.Run("override is revalidated", func(t *testing.T) {
		t.Parallel()
		_, err := base.WithOverrides(Override{Step: "noise", Params: map[string]any{"std": -1}})
		require.ErrorIs(t, err, ErrPipelineType)
	})

	t.Run("partial update keeps other fields", func(t *testing.T) {
		t.Parallel()
		spec, err := NewPipeline("spec", NewStep("spec", DefaultSpectrogramParams()))
		require.NoError(t, err)

		changed, err := spec.WithOverrides(Override{Step: "spec", Params: map[string]any{"window_samples": 1024}})
		require.NoError(t, err)

		step, _ := changed.Step("spec")
		want := DefaultSpectrogramParams()
		want.WindowSamples = 1024
		assert.Equal(t, want, step.Params)
	})
}
