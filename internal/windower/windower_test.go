package windower

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/clipscan/internal/errors"
)

func starts(windows []Window) []float64 {
	out := make([]float64, len(windows))
	for i, w := range windows {
		out[i] = w.Start
	}
	return out
}

func mustNew(t *testing.T, spec Spec) *Windower {
	t.Helper()
	w, err := New(spec)
	require.NoError(t, err)
	return w
}

func TestWindowsTenSecondsThreeOverlapOne(t *testing.T) {
	t.Parallel()

	tests := []struct {
		policy     EdgePolicy
		wantStarts []float64
		lastEnd    float64
	}{
		{DropPartial, []float64{0, 2, 4, 6}, 9},
		{Pad, []float64{0, 2, 4, 6, 8}, 11},
		{KeepPartial, []float64{0, 2, 4, 6, 8}, 10},
		{Full, []float64{0, 2, 4, 6, 7}, 10},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			t.Parallel()
			w := mustNew(t, Spec{ClipDuration: 3, ClipOverlap: 1, EdgePolicy: tt.policy})
			got := w.Windows(10)
			require.NotEmpty(t, got)
			assert.InDeltaSlice(t, tt.wantStarts, starts(got), 1e-12)
			assert.InDelta(t, tt.lastEnd, got[len(got)-1].End, 1e-12)
			assert.Equal(t, len(tt.wantStarts), w.ClipCount(10))
		})
	}
}

func TestWindowsEdgeCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		spec     Spec
		duration float64
		want     []Window
	}{
		{"contiguous tiling", Spec{ClipDuration: 2, EdgePolicy: DropPartial}, 6, []Window{{0, 2}, {2, 4}, {4, 6}}},
		{"clip longer than recording pad", Spec{ClipDuration: 5, EdgePolicy: Pad}, 3, []Window{{0, 5}}},
		{"clip longer than recording keep", Spec{ClipDuration: 5, EdgePolicy: KeepPartial}, 3, []Window{{0, 3}}},
		{"clip longer than recording full", Spec{ClipDuration: 5, EdgePolicy: Full}, 3, []Window{{0, 3}}},
		{"clip longer than recording drop", Spec{ClipDuration: 5, EdgePolicy: DropPartial}, 3, nil},
		{"clip equals recording", Spec{ClipDuration: 3, EdgePolicy: DropPartial}, 3, []Window{{0, 3}}},
		{"empty recording", Spec{ClipDuration: 3, EdgePolicy: Pad}, 0, nil},
		{"full does not duplicate aligned end", Spec{ClipDuration: 2, EdgePolicy: Full}, 4, []Window{{0, 2}, {2, 4}}},
		{"keep partial emits every start", Spec{ClipDuration: 3, ClipOverlap: 2, EdgePolicy: KeepPartial}, 4, []Window{{0, 3}, {1, 4}, {2, 4}, {3, 4}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := mustNew(t, tt.spec)
			assert.Equal(t, tt.want, w.Windows(tt.duration))
		})
	}
}

func TestWindowsAbsorbDrift(t *testing.T) {
	t.Parallel()

	// 0.1 hop accumulates float error; the last start must stay below D.
	w := mustNew(t, Spec{ClipDuration: 0.3, ClipOverlap: 0.2, EdgePolicy: DropPartial})
	got := w.Windows(1.0)
	require.Len(t, got, 8)
	assert.InDelta(t, 0.7, got[7].Start, 1e-12)
	assert.InDelta(t, 1.0, got[7].End, 1e-12)
}

func TestNewRejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		spec  Spec
		field string
	}{
		{"zero duration", Spec{ClipDuration: 0}, "clip_duration"},
		{"negative duration", Spec{ClipDuration: -1}, "clip_duration"},
		{"overlap equals duration", Spec{ClipDuration: 3, ClipOverlap: 3}, "clip_overlap"},
		{"overlap exceeds duration", Spec{ClipDuration: 3, ClipOverlap: 4}, "clip_overlap"},
		{"negative overlap", Spec{ClipDuration: 3, ClipOverlap: -0.5}, "clip_overlap"},
		{"infinite duration", Spec{ClipDuration: math.Inf(1), EdgePolicy: Pad}, "clip_duration"},
		{"negative infinite duration", Spec{ClipDuration: math.Inf(-1)}, "clip_duration"},
		{"NaN duration", Spec{ClipDuration: math.NaN()}, "clip_duration"},
		{"infinite overlap", Spec{ClipDuration: 3, ClipOverlap: math.Inf(1)}, "clip_overlap"},
		{"unknown policy", Spec{ClipDuration: 3, EdgePolicy: "wrap"}, "edge_policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.spec)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidWindowSpec)

			var specErr *InvalidWindowSpecError
			require.ErrorAs(t, err, &specErr)
			assert.Equal(t, tt.field, specErr.Field)
			assert.True(t, errors.IsCategory(errors.New(err).Build(), errors.CategoryValidation))
		})
	}
}

func TestParseEdgePolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseEdgePolicy(" Keep_Partial ")
	require.NoError(t, err)
	assert.Equal(t, KeepPartial, p)

	p, err = ParseEdgePolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultEdgePolicy, p)

	w := mustNew(t, Spec{ClipDuration: 3})
	assert.Equal(t, Pad, w.Spec().EdgePolicy)
	assert.InDelta(t, 3.0, w.Spec().Hop(), 0)
}
