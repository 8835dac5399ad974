package myaudio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tphakala/flac"
)

func readFLACInfo(file *os.File) (AudioInfo, error) {
	decoder, err := flac.NewDecoder(file)
	if err != nil {
		return AudioInfo{}, err
	}
	if err := validateFormat(decoder.BitsPerSample, decoder.NChannels); err != nil {
		return AudioInfo{}, err
	}

	return AudioInfo{
		SampleRate:   decoder.SampleRate,
		TotalSamples: int(decoder.TotalSamples),
		NumChannels:  decoder.NChannels,
		BitDepth:     decoder.BitsPerSample,
	}, nil
}

// readFLAC decodes every frame and mixes it down to mono.
func readFLAC(file *os.File) (Waveform, error) {
	decoder, err := flac.NewDecoder(file)
	if err != nil {
		return Waveform{}, err
	}

	bitDepth, channels := decoder.BitsPerSample, decoder.NChannels
	if err := validateFormat(bitDepth, channels); err != nil {
		return Waveform{}, err
	}
	divisor, err := getAudioDivisor(bitDepth)
	if err != nil {
		return Waveform{}, err
	}

	bytesPerSample := bitDepth / 8
	frameStride := bytesPerSample * channels
	mono := make([]float32, 0, int(decoder.TotalSamples))

	for {
		frame, err := decoder.Next()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return Waveform{}, fmt.Errorf("reading FLAC frame: %w", err)
		}

		for i := 0; i+frameStride <= len(frame); i += frameStride {
			var sum float32
			for c := range channels {
				sum += float32(decodeSample(frame[i+c*bytesPerSample:], bitDepth)) / divisor
			}
			mono = append(mono, sum/float32(channels))
		}
	}

	if len(mono) == 0 {
		return Waveform{}, errors.New("FLAC file contains no samples")
	}
	return Waveform{Samples: mono, SampleRate: decoder.SampleRate}, nil
}

// decodeSample reads one little-endian signed sample
func decodeSample(b []byte, bitDepth int) int32 {
	switch bitDepth {
	case 16:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		return v << 8 >> 8 // sign extend
	default:
		return int32(binary.LittleEndian.Uint32(b))
	}
}
