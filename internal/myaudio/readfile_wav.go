package myaudio

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavReadChunk is the number of frames read per PCMBuffer call
const wavReadChunk = 1 << 16

func readWAVInfo(file *os.File) (AudioInfo, error) {
	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()

	if !decoder.IsValidFile() {
		return AudioInfo{}, errors.New("invalid WAV file format")
	}
	if err := validateFormat(int(decoder.BitDepth), int(decoder.NumChans)); err != nil {
		return AudioInfo{}, err
	}

	if err := decoder.FwdToPCM(); err != nil {
		return AudioInfo{}, fmt.Errorf("locating WAV data chunk: %w", err)
	}
	frameBytes := int(decoder.BitDepth/8) * int(decoder.NumChans)

	return AudioInfo{
		SampleRate:   int(decoder.SampleRate),
		TotalSamples: decoder.PCMSize / frameBytes,
		NumChannels:  int(decoder.NumChans),
		BitDepth:     int(decoder.BitDepth),
	}, nil
}

// readWAV decodes the whole file and mixes it down to mono.
func readWAV(file *os.File) (Waveform, error) {
	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return Waveform{}, errors.New("invalid WAV file format")
	}

	bitDepth, channels := int(decoder.BitDepth), int(decoder.NumChans)
	if err := validateFormat(bitDepth, channels); err != nil {
		return Waveform{}, err
	}
	divisor, err := getAudioDivisor(bitDepth)
	if err != nil {
		return Waveform{}, err
	}

	buf := &audio.IntBuffer{
		Data:   make([]int, wavReadChunk*channels),
		Format: &audio.Format{SampleRate: int(decoder.SampleRate), NumChannels: channels},
	}

	var mono []float32
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return Waveform{}, fmt.Errorf("reading WAV samples: %w", err)
		}
		if n == 0 {
			break
		}
		mono = appendMono(mono, buf.Data[:n-n%channels], channels, divisor)
	}

	if len(mono) == 0 {
		return Waveform{}, errors.New("WAV file contains no samples")
	}
	return Waveform{Samples: mono, SampleRate: int(decoder.SampleRate)}, nil
}

// appendMono converts interleaved integer frames to averaged float samples
func appendMono(dst []float32, data []int, channels int, divisor float32) []float32 {
	for i := 0; i+channels <= len(data); i += channels {
		var sum float32
		for c := range channels {
			sum += float32(data[i+c]) / divisor
		}
		dst = append(dst, sum/float32(channels))
	}
	return dst
}

func validateFormat(bitDepth, channels int) error {
	if bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		return fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
	if channels < 1 {
		return fmt.Errorf("unsupported number of channels: %d", channels)
	}
	return nil
}

// getAudioDivisor returns the full-scale value used to normalize integer samples
func getAudioDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported audio file bit depth: %d", bitDepth)
	}
}
