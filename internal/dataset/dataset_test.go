package dataset

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/clipscan/internal/clip"
	"github.com/tphakala/clipscan/internal/myaudio"
	"github.com/tphakala/clipscan/internal/preprocess"
	"github.com/tphakala/clipscan/internal/windower"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testRate = 100

// addRecording registers seconds of audio whose samples all equal value.
func addRecording(m *myaudio.MemoryDecoder, id string, seconds float64, value float32) clip.Recording {
	samples := make([]float32, int(seconds*testRate))
	for i := range samples {
		samples[i] = value
	}
	return m.Add(id, myaudio.Waveform{Samples: samples, SampleRate: testRate})
}

func spec(policy windower.EdgePolicy) windower.Spec {
	return windower.Spec{ClipDuration: 3, ClipOverlap: 1, EdgePolicy: policy}
}

func starts(ids []clip.Identity) []float64 {
	out := make([]float64, len(ids))
	for i, id := range ids {
		out[i] = id.Start
	}
	return out
}

func TestNewBuildsFlatIndex(t *testing.T) {
	t.Parallel()

	m := myaudio.NewMemoryDecoder()
	long := addRecording(m, "long", 10, 0.1)
	short := addRecording(m, "short", 5, 0.2)
	empty := addRecording(m, "empty", 0, 0)

	tests := []struct {
		policy    windower.EdgePolicy
		wantLen   int
		wantStart []float64
	}{
		{policy: windower.DropPartial, wantLen: 6, wantStart: []float64{0, 2, 4, 6, 0, 2}},
		{policy: windower.Pad, wantLen: 8, wantStart: []float64{0, 2, 4, 6, 8, 0, 2, 4}},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			t.Parallel()

			d, err := New([]clip.Recording{long, short, empty}, spec(tt.policy), preprocess.AudioPipeline(), m)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLen, d.Len())

			ids := d.Identities()
			assert.Equal(t, tt.wantStart, starts(ids))
			assert.Equal(t, "long", ids[0].Recording)
			assert.Equal(t, "short", ids[len(ids)-1].Recording)

			id, err := d.Identity(1)
			require.NoError(t, err)
			assert.Equal(t, clip.Identity{Recording: "long", Start: 2, End: 5}, id)
			assert.Equal(t, testRate, d.SampleRate(1))
		})
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	m := myaudio.NewMemoryDecoder()
	rec := addRecording(m, "a", 5, 0)

	waveformOnly, err := preprocess.NewPipeline("waveform", preprocess.NewStep("gain", preprocess.GainParams{DB: 1}))
	require.NoError(t, err)

	t.Run("invalid window spec", func(t *testing.T) {
		t.Parallel()
		_, err := New([]clip.Recording{rec}, windower.Spec{ClipDuration: 3, ClipOverlap: 3}, preprocess.AudioPipeline(), m)
		require.ErrorIs(t, err, windower.ErrInvalidWindowSpec)
	})

	t.Run("pipeline without tensor output", func(t *testing.T) {
		t.Parallel()
		_, err := New([]clip.Recording{rec}, spec(windower.Pad), waveformOnly, m)
		require.ErrorIs(t, err, preprocess.ErrPipelineType)
	})

	t.Run("duplicate recordings", func(t *testing.T) {
		t.Parallel()
		_, err := New([]clip.Recording{rec, rec}, spec(windower.Pad), preprocess.AudioPipeline(), m)
		require.Error(t, err)
	})

	t.Run("negative duration", func(t *testing.T) {
		t.Parallel()
		bad := clip.Recording{ID: "bad", Duration: -1, SampleRate: testRate}
		_, err := New([]clip.Recording{bad}, spec(windower.Pad), preprocess.AudioPipeline(), m)
		require.Error(t, err)
	})

	t.Run("infinite duration", func(t *testing.T) {
		t.Parallel()
		bad := clip.Recording{ID: "endless", Duration: math.Inf(1), SampleRate: testRate}
		_, err := New([]clip.Recording{bad}, spec(windower.Pad), preprocess.AudioPipeline(), m)
		require.Error(t, err)
	})

	t.Run("hop shorter than one sample", func(t *testing.T) {
		t.Parallel()
		tight := windower.Spec{ClipDuration: 1, ClipOverlap: 0.996, EdgePolicy: windower.Pad}
		_, err := New([]clip.Recording{rec}, tight, preprocess.AudioPipeline(), m)
		require.ErrorIs(t, err, windower.ErrInvalidWindowSpec)

		var specErr *windower.InvalidWindowSpecError
		require.ErrorAs(t, err, &specErr)
		assert.Equal(t, "clip_overlap", specErr.Field)
	})

	t.Run("hop of exactly one sample", func(t *testing.T) {
		t.Parallel()
		d, err := New([]clip.Recording{rec}, windower.Spec{ClipDuration: 1, ClipOverlap: 0.99, EdgePolicy: windower.DropPartial}, preprocess.AudioPipeline(), m)
		require.NoError(t, err)
		assert.Equal(t, 401, d.Len())
	})

	t.Run("missing collaborators", func(t *testing.T) {
		t.Parallel()
		_, err := New([]clip.Recording{rec}, spec(windower.Pad), nil, m)
		require.Error(t, err)
		_, err = New([]clip.Recording{rec}, spec(windower.Pad), preprocess.AudioPipeline(), nil)
		require.Error(t, err)
	})
}

func TestGetPadsFinalClip(t *testing.T) {
	t.Parallel()

	m := myaudio.NewMemoryDecoder()
	rec := addRecording(m, "a", 10, 0.5)

	d, err := New([]clip.Recording{rec}, spec(windower.Pad), preprocess.AudioPipeline(), m)
	require.NoError(t, err)
	require.Equal(t, 5, d.Len())

	item, err := d.Get(t.Context(), 4)
	require.NoError(t, err)
	require.True(t, item.OK())
	assert.Equal(t, 4, item.Index)
	assert.Equal(t, clip.Identity{Recording: "a", Start: 8, End: 11}, item.Identity)
	require.Equal(t, []int{1, 300}, item.Tensor.Shape)

	// two seconds of audio followed by one second of padding
	assert.InDelta(t, 0.5, item.Tensor.Data[199], 1e-9)
	assert.Zero(t, item.Tensor.Data[200])
	assert.Zero(t, item.Tensor.Data[299])
}

func TestGetIsolatesFailures(t *testing.T) {
	t.Parallel()

	m := myaudio.NewMemoryDecoder()
	good := addRecording(m, "good", 4, 0.1)
	corrupt := addRecording(m, "corrupt", 4, 0.1)
	m.Corrupt("corrupt", errors.New("crc mismatch in frame 3"))
	// claims more audio than the decoder holds
	truncated := addRecording(m, "truncated", 2, 0.1)
	truncated.Duration = 6

	strictTrim, err := preprocess.NewPipeline("strict",
		preprocess.NewStep("trim", preprocess.TrimParams{}),
		preprocess.NewStep("tensor", preprocess.WaveformTensorParams{}),
	)
	require.NoError(t, err)

	d, err := New([]clip.Recording{good, corrupt, truncated}, spec(windower.KeepPartial), strictTrim, m)
	require.NoError(t, err)

	byRecording := map[string][]Item{}
	for k := range d.Len() {
		item, err := d.Get(t.Context(), k)
		require.NoError(t, err)
		byRecording[item.Identity.Recording] = append(byRecording[item.Identity.Recording], item)
	}

	// good: [0,3] scores, [2,4] is a partial clip the strict trim rejects
	require.Len(t, byRecording["good"], 2)
	assert.True(t, byRecording["good"][0].OK())
	assert.Equal(t, clip.TransformFailure, byRecording["good"][1].Failure.Kind)
	var stepErr *preprocess.StepError
	assert.ErrorAs(t, byRecording["good"][1].Failure, &stepErr)

	for _, item := range byRecording["corrupt"] {
		require.False(t, item.OK())
		assert.Nil(t, item.Tensor)
		assert.Equal(t, clip.DecodeFailure, item.Failure.Kind)
		assert.Contains(t, item.Failure.Message, "crc mismatch in frame 3")
		assert.Equal(t, item.Identity, item.Failure.Identity)
	}

	// clips starting past the real end of the audio cannot be recovered
	last := byRecording["truncated"][len(byRecording["truncated"])-1]
	require.False(t, last.OK())
	assert.Equal(t, clip.DecodeFailure, last.Failure.Kind)
	var rangeErr *myaudio.OutOfRangeError
	assert.ErrorAs(t, last.Failure, &rangeErr)
}

func TestGetErrors(t *testing.T) {
	t.Parallel()

	m := myaudio.NewMemoryDecoder()
	rec := addRecording(m, "a", 5, 0)
	d, err := New([]clip.Recording{rec}, spec(windower.Pad), preprocess.AudioPipeline(), m)
	require.NoError(t, err)

	_, err = d.Get(t.Context(), d.Len())
	require.Error(t, err)
	_, err = d.Get(t.Context(), -1)
	require.Error(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = d.Get(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
}

func TestGetConcurrentMatchesSequential(t *testing.T) {
	t.Parallel()

	m := myaudio.NewMemoryDecoder()
	var recs []clip.Recording
	for i, id := range []string{"a", "b", "c"} {
		recs = append(recs, addRecording(m, id, 9, float32(i+1)/10))
	}

	noisy, err := preprocess.NewPipeline("noisy",
		preprocess.NewStep("trim", preprocess.TrimParams{Extend: true}),
		preprocess.NewStep("noise", preprocess.AddNoiseParams{Std: 0.05}),
		preprocess.NewStep("tensor", preprocess.WaveformTensorParams{}),
	)
	require.NoError(t, err)

	d, err := New(recs, spec(windower.Pad), noisy, m, WithMode(preprocess.ModeTraining), WithSeed(99))
	require.NoError(t, err)

	sequential := make([]Item, d.Len())
	for k := range d.Len() {
		sequential[k], err = d.Get(t.Context(), k)
		require.NoError(t, err)
	}

	concurrent := make([]Item, d.Len())
	var wg sync.WaitGroup
	for k := d.Len() - 1; k >= 0; k-- {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, err := d.Get(context.Background(), k)
			if err == nil {
				concurrent[k] = item
			}
		}()
	}
	wg.Wait()

	for k := range sequential {
		require.True(t, concurrent[k].OK())
		assert.Equal(t, sequential[k].Tensor.Data, concurrent[k].Tensor.Data, "clip %d", k)
	}

	reseeded, err := New(recs, spec(windower.Pad), noisy, m, WithMode(preprocess.ModeTraining), WithSeed(100))
	require.NoError(t, err)
	other, err := reseeded.Get(t.Context(), 0)
	require.NoError(t, err)
	assert.NotEqual(t, sequential[0].Tensor.Data, other.Tensor.Data)
}

type stubProber map[string]clip.Recording

func (s stubProber) Recording(path string) (clip.Recording, error) {
	rec, ok := s[path]
	if !ok {
		return clip.Recording{}, &myaudio.DecodeError{Recording: path, Err: myaudio.ErrRecordingNotFound}
	}
	return rec, nil
}

func TestRecordingsFromFiles(t *testing.T) {
	t.Parallel()

	prober := stubProber{
		"one.wav": {ID: "one.wav", Duration: 3, SampleRate: 48000},
		"two.wav": {ID: "two.wav", Duration: 9, SampleRate: 48000},
	}

	recs, unreadable := RecordingsFromFiles(prober, "one.wav", "broken.wav", "two.wav", "gone.flac")
	require.Len(t, recs, 2)
	assert.Equal(t, "one.wav", recs[0].ID)
	assert.Equal(t, "two.wav", recs[1].ID)

	require.Len(t, unreadable, 2)
	assert.Equal(t, clip.Identity{Recording: "broken.wav"}, unreadable[0].Identity)
	assert.Equal(t, "gone.flac", unreadable[1].Identity.Recording)
	assert.Equal(t, clip.DecodeFailure, unreadable[0].Kind)
	assert.ErrorIs(t, unreadable[0], myaudio.ErrRecordingNotFound)
	assert.Equal(t, "decode broken.wav: recording not found", unreadable[0].Message)

	recs, unreadable = RecordingsFromFiles(prober, "two.wav")
	assert.Empty(t, unreadable)
	assert.Len(t, recs, 1)
}

func TestExpandPaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"b.wav", "a.FLAC", "notes.txt", filepath.Join("nested", "c.wav")} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o600))
	}
	explicit := filepath.Join(dir, "notes.txt")

	paths, err := ExpandPaths(dir, explicit)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.FLAC"),
		filepath.Join(dir, "b.wav"),
		filepath.Join(dir, "nested", "c.wav"),
		explicit,
	}, paths)

	_, err = ExpandPaths(filepath.Join(dir, "missing"))
	require.Error(t, err)
}
