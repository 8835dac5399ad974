package inference

import (
	"fmt"
	"math"
	"strings"
)

// Activation is the transform applied to raw classifier scores before they
// are stored in the results table.
type Activation string

const (
	// ActivationNone stores raw scores.
	ActivationNone Activation = "none"
	// ActivationSigmoid maps each score independently to (0, 1).
	ActivationSigmoid Activation = "sigmoid"
	// ActivationSoftmax normalizes the scores of a clip to sum to one.
	ActivationSoftmax Activation = "softmax"
	// ActivationSoftmaxLogit applies softmax and maps the result back to the
	// real line with the logit function.
	ActivationSoftmaxLogit Activation = "softmax_and_logit"
)

// ParseActivation accepts the activation names case-insensitively. An empty
// name is ActivationNone.
func ParseActivation(s string) (Activation, error) {
	switch a := Activation(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return ActivationNone, nil
	case ActivationNone, ActivationSigmoid, ActivationSoftmax, ActivationSoftmaxLogit:
		return a, nil
	default:
		return "", fmt.Errorf("invalid activation %q: want one of none, sigmoid, softmax, softmax_and_logit", s)
	}
}

// Apply returns a transformed copy of scores. Sensitivity scales the sigmoid
// input and is ignored by the other activations; values <= 0 mean 1.
func (a Activation) Apply(scores []float32, sensitivity float64) []float32 {
	out := make([]float32, len(scores))
	if sensitivity <= 0 {
		sensitivity = 1
	}

	switch a {
	case ActivationSigmoid:
		for i, s := range scores {
			out[i] = float32(customSigmoid(float64(s), sensitivity))
		}
	case ActivationSoftmax:
		for i, p := range softmax(scores) {
			out[i] = float32(p)
		}
	case ActivationSoftmaxLogit:
		for i, p := range softmax(scores) {
			out[i] = float32(math.Log(p) - math.Log1p(-p))
		}
	default:
		copy(out, scores)
	}
	return out
}

func customSigmoid(x, sensitivity float64) float64 {
	return 1.0 / (1.0 + math.Exp(-sensitivity*x))
}

func softmax(scores []float32) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	peak := math.Inf(-1)
	for _, s := range scores {
		peak = math.Max(peak, float64(s))
	}
	var sum float64
	for i, s := range scores {
		out[i] = math.Exp(float64(s) - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
