// Package preprocess turns a clip waveform into a model input through an
// ordered pipeline of typed steps. Each step declares the kind of sample it
// accepts and produces; pipelines are type checked when they are built so a
// miswired chain fails before any audio is decoded.
package preprocess

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/tphakala/clipscan/internal/myaudio"
)

// Kind is the shape category of a sample flowing between steps.
type Kind int

const (
	KindWaveform Kind = iota + 1
	KindSpectrogram
	KindTensor
)

func (k Kind) String() string {
	switch k {
	case KindWaveform:
		return "waveform"
	case KindSpectrogram:
		return "spectrogram"
	case KindTensor:
		return "tensor"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sample is the value passed between steps.
type Sample interface {
	Kind() Kind
}

// Waveform is mono audio at a known sample rate.
type Waveform myaudio.Waveform

// Kind implements Sample.
func (w *Waveform) Kind() Kind { return KindWaveform }

// Duration returns the waveform length in seconds.
func (w *Waveform) Duration() float64 {
	return myaudio.Waveform(*w).Duration()
}

// Spectrogram holds power values with frequency bins as rows and time frames
// as columns. Limits is the value range the data is expected to occupy, used
// when scaling it into an image.
type Spectrogram struct {
	Values      *mat.Dense
	Frequencies []float64 // Hz, one per row
	Times       []float64 // seconds, frame centres
	Limits      [2]float64
}

// Kind implements Sample.
func (s *Spectrogram) Kind() Kind { return KindSpectrogram }

// Dims returns the number of frequency bins and time frames.
func (s *Spectrogram) Dims() (bins, frames int) {
	return s.Values.Dims()
}

// Tensor is a dense float32 array in row-major order. Image-like tensors use
// channel, height, width layout.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zero tensor of the given shape.
func NewTensor(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, n)}
}

// Kind implements Sample.
func (t *Tensor) Kind() Kind { return KindTensor }

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}

// SameShape reports whether t and other have identical dimensions.
func (t *Tensor) SameShape(other *Tensor) bool {
	if len(t.Shape) != len(other.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return true
}
