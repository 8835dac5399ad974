package myaudio

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts mono samples from one rate to another. The output has
// exactly round(len(samples) * to / from) samples; the tail left short by the
// filter delay is zero-filled.
func Resample(samples []float32, from, to int) ([]float32, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid resample rates %d -> %d", from, to)
	}
	if from == to {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}
	if len(samples) == 0 {
		return []float32{}, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s)
	}

	output, err := r.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	want := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	out := make([]float32, want)
	for i := range min(want, len(output)) {
		out[i] = float32(output[i])
	}
	return out, nil
}
