package preprocess

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

func asTensor(in Sample) (*Tensor, error) {
	t, ok := in.(*Tensor)
	if !ok {
		return nil, fmt.Errorf("expected tensor, got %s", in.Kind())
	}
	if t.Len() == 0 {
		return nil, fmt.Errorf("tensor is empty")
	}
	return t, nil
}

// ScaleTensorParams computes (x - Mean) / Std. With PerSample the mean and
// standard deviation are measured on each tensor instead.
type ScaleTensorParams struct {
	Mean      float64 `yaml:"mean"`
	Std       float64 `yaml:"std"`
	PerSample bool    `yaml:"per_sample"`
}

func (ScaleTensorParams) Type() StepType   { return StepScaleTensor }
func (ScaleTensorParams) Input() Kind      { return KindTensor }
func (ScaleTensorParams) Output() Kind     { return KindTensor }
func (ScaleTensorParams) Stochastic() bool { return false }

func (p ScaleTensorParams) Validate() error {
	if !p.PerSample && !(p.Std > 0) {
		return fmt.Errorf("std must be positive, got %g", p.Std)
	}
	return nil
}

func (p ScaleTensorParams) apply(_ *runContext, in Sample) (Sample, error) {
	t, err := asTensor(in)
	if err != nil {
		return nil, err
	}
	mean, std := p.Mean, p.Std
	if p.PerSample {
		values := make([]float64, t.Len())
		for i, v := range t.Data {
			values[i] = float64(v)
		}
		mean, std = stat.PopMeanStdDev(values, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
	}

	out := t.Clone()
	for i, v := range out.Data {
		out.Data[i] = float32((float64(v) - mean) / std)
	}
	return out, nil
}

// TensorAddNoiseParams adds gaussian noise to every element.
type TensorAddNoiseParams struct {
	Std float64 `yaml:"std"`
}

func (TensorAddNoiseParams) Type() StepType   { return StepTensorAddNoise }
func (TensorAddNoiseParams) Input() Kind      { return KindTensor }
func (TensorAddNoiseParams) Output() Kind     { return KindTensor }
func (TensorAddNoiseParams) Stochastic() bool { return true }

func (p TensorAddNoiseParams) Validate() error {
	if p.Std < 0 || math.IsNaN(p.Std) {
		return fmt.Errorf("std must be >= 0, got %g", p.Std)
	}
	return nil
}

func (p TensorAddNoiseParams) apply(rc *runContext, in Sample) (Sample, error) {
	t, err := asTensor(in)
	if err != nil {
		return nil, err
	}
	rng := rc.rand()
	out := t.Clone()
	for i := range out.Data {
		out.Data[i] += float32(rng.NormFloat64() * p.Std)
	}
	return out, nil
}
