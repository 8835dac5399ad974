// Package myaudio decodes recordings into mono float32 waveforms and serves
// arbitrary time ranges of them to the clip dataset.
package myaudio

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/tphakala/clipscan/internal/clip"
	"github.com/tphakala/clipscan/internal/logger"
)

// Waveform is a mono sample buffer in the range [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the waveform length in seconds.
func (w Waveform) Duration() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// AudioDecoder yields waveform samples for a time range of a recording.
// Ranges that extend past the end of the recording are zero-padded; ranges
// that start outside it fail with *OutOfRangeError. Corrupt or missing data
// fails with *DecodeError. Implementations must be safe for concurrent use.
type AudioDecoder interface {
	Fetch(ctx context.Context, recording string, start, end float64) (Waveform, error)
}

// AudioInfo holds header information of an audio file.
type AudioInfo struct {
	SampleRate   int
	TotalSamples int // per channel
	NumChannels  int
	BitDepth     int
}

// Duration returns the length described by the header in seconds.
func (a AudioInfo) Duration() float64 {
	if a.SampleRate <= 0 {
		return 0
	}
	return float64(a.TotalSamples) / float64(a.SampleRate)
}

const (
	defaultCacheTTL     = 5 * time.Minute
	cacheCleanupSpacing = 2
)

// FileDecoder decodes WAV and FLAC files from the local filesystem. Decoded
// files are cached so consecutive clips of one recording decode it once.
type FileDecoder struct {
	targetRate int
	cache      *cache.Cache
	inflight   singleflight.Group
	log        logger.Logger
}

// DecoderOption configures a FileDecoder.
type DecoderOption func(*FileDecoder)

// WithTargetSampleRate resamples every decoded file to rate. Zero keeps the
// native rate.
func WithTargetSampleRate(rate int) DecoderOption {
	return func(d *FileDecoder) {
		d.targetRate = rate
	}
}

// WithCacheTTL sets how long decoded files stay in memory.
func WithCacheTTL(ttl time.Duration) DecoderOption {
	return func(d *FileDecoder) {
		if ttl > 0 {
			d.cache = cache.New(ttl, cacheCleanupSpacing*ttl)
		}
	}
}

// NewFileDecoder returns a decoder with a five minute cache.
func NewFileDecoder(opts ...DecoderOption) *FileDecoder {
	d := &FileDecoder{
		cache: cache.New(defaultCacheTTL, cacheCleanupSpacing*defaultCacheTTL),
		log:   GetLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Probe reads the header of path.
func (d *FileDecoder) Probe(path string) (AudioInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return AudioInfo{}, &DecodeError{Recording: path, Err: err}
	}
	defer file.Close()

	var info AudioInfo
	switch format, ferr := detectFormat(file, path); {
	case ferr != nil:
		return AudioInfo{}, &DecodeError{Recording: path, Err: ferr}
	case format == formatWAV:
		info, err = readWAVInfo(file)
	default:
		info, err = readFLACInfo(file)
	}
	if err != nil {
		return AudioInfo{}, &DecodeError{Recording: path, Err: err}
	}
	return info, nil
}

// Recording probes path and describes it at the rate Fetch will deliver.
func (d *FileDecoder) Recording(path string) (clip.Recording, error) {
	info, err := d.Probe(path)
	if err != nil {
		return clip.Recording{}, err
	}
	rate := info.SampleRate
	if d.targetRate > 0 {
		rate = d.targetRate
	}
	return clip.Recording{ID: path, Duration: info.Duration(), SampleRate: rate}, nil
}

// Fetch implements AudioDecoder.
func (d *FileDecoder) Fetch(ctx context.Context, recording string, start, end float64) (Waveform, error) {
	if err := ctx.Err(); err != nil {
		return Waveform{}, err
	}
	full, err := d.load(recording)
	if err != nil {
		return Waveform{}, err
	}
	return sliceWaveform(recording, full, start, end)
}

// Forget drops a decoded file from the cache.
func (d *FileDecoder) Forget(recording string) {
	d.cache.Delete(recording)
}

// load returns the decoded file, decoding at most once per path even when
// several workers ask concurrently.
func (d *FileDecoder) load(path string) (Waveform, error) {
	if cached, ok := d.cache.Get(path); ok {
		return cached.(Waveform), nil
	}

	v, err, shared := d.inflight.Do(path, func() (any, error) {
		start := time.Now()
		w, err := d.decodeFile(path)
		if err != nil {
			return nil, err
		}
		d.cache.Set(path, w, cache.DefaultExpiration)
		d.log.Debug("decoded recording",
			logger.String("file", filepath.Base(path)),
			logger.Int("sample_rate", w.SampleRate),
			logger.Float64("duration_seconds", w.Duration()),
			logger.Duration("elapsed", time.Since(start)))
		return w, nil
	})
	if err != nil {
		return Waveform{}, err
	}
	if shared {
		d.log.Trace("shared decode result", logger.String("file", filepath.Base(path)))
	}
	return v.(Waveform), nil
}

func (d *FileDecoder) decodeFile(path string) (Waveform, error) {
	file, err := os.Open(path)
	if err != nil {
		return Waveform{}, &DecodeError{Recording: path, Err: err}
	}
	defer file.Close()

	format, err := detectFormat(file, path)
	if err != nil {
		return Waveform{}, &DecodeError{Recording: path, Err: err}
	}

	var w Waveform
	if format == formatWAV {
		w, err = readWAV(file)
	} else {
		w, err = readFLAC(file)
	}
	if err != nil {
		return Waveform{}, &DecodeError{Recording: path, Err: err}
	}

	if d.targetRate > 0 && w.SampleRate != d.targetRate {
		samples, err := Resample(w.Samples, w.SampleRate, d.targetRate)
		if err != nil {
			return Waveform{}, &DecodeError{Recording: path, Err: err}
		}
		w = Waveform{Samples: samples, SampleRate: d.targetRate}
	}
	return w, nil
}

type audioFormat int

const (
	formatWAV audioFormat = iota + 1
	formatFLAC
)

// detectFormat sniffs the magic bytes and falls back to the extension.
// The file offset is reset to the beginning.
func detectFormat(file *os.File, path string) (audioFormat, error) {
	magic := make([]byte, 4)
	n, _ := file.Read(magic)
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	switch {
	case n == 4 && string(magic) == "RIFF":
		return formatWAV, nil
	case n == 4 && string(magic) == "fLaC":
		return formatFLAC, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return formatWAV, nil
	case ".flac":
		return formatFLAC, nil
	default:
		return 0, fmt.Errorf("unsupported audio format: %s", filepath.Ext(path))
	}
}

// sliceWaveform cuts [start, end) out of full, zero-padding past its end.
func sliceWaveform(recording string, full Waveform, start, end float64) (Waveform, error) {
	duration := full.Duration()
	eps := clip.Epsilon(full.SampleRate)
	if math.IsNaN(start) || math.IsNaN(end) || start < -eps || end <= start || start >= duration-eps {
		return Waveform{}, &OutOfRangeError{Recording: recording, Start: start, End: end, Duration: duration}
	}

	rate := float64(full.SampleRate)
	first := max(0, int(math.Round(start*rate)))
	last := int(math.Round(end * rate))

	out := make([]float32, last-first)
	if first < len(full.Samples) {
		copy(out, full.Samples[first:min(last, len(full.Samples))])
	}
	return Waveform{Samples: out, SampleRate: full.SampleRate}, nil
}
