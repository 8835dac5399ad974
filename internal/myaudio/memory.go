package myaudio

import (
	"context"
	"sync"

	"github.com/tphakala/clipscan/internal/clip"
)

// MemoryDecoder serves waveforms registered in memory under an ID.
type MemoryDecoder struct {
	mu         sync.RWMutex
	recordings map[string]Waveform
	failures   map[string]error
}

// NewMemoryDecoder returns an empty MemoryDecoder.
func NewMemoryDecoder() *MemoryDecoder {
	return &MemoryDecoder{
		recordings: make(map[string]Waveform),
		failures:   make(map[string]error),
	}
}

// Add registers w under id and returns the matching Recording.
func (m *MemoryDecoder) Add(id string, w Waveform) clip.Recording {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordings[id] = w
	delete(m.failures, id)
	return clip.Recording{ID: id, Duration: w.Duration(), SampleRate: w.SampleRate}
}

// Corrupt makes every fetch of id fail with a DecodeError wrapping err.
func (m *MemoryDecoder) Corrupt(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id] = err
}

// Fetch implements AudioDecoder.
func (m *MemoryDecoder) Fetch(ctx context.Context, recording string, start, end float64) (Waveform, error) {
	if err := ctx.Err(); err != nil {
		return Waveform{}, err
	}

	m.mu.RLock()
	w, ok := m.recordings[recording]
	failure := m.failures[recording]
	m.mu.RUnlock()

	if failure != nil {
		return Waveform{}, &DecodeError{Recording: recording, Err: failure}
	}
	if !ok {
		return Waveform{}, &DecodeError{Recording: recording, Err: ErrRecordingNotFound}
	}
	return sliceWaveform(recording, w, start, end)
}
