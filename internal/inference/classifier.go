// Package inference scores every clip of a dataset with a classifier in
// deterministic batches and collects the outcome in a ResultsTable.
package inference

import (
	"context"

	"github.com/tphakala/clipscan/internal/preprocess"
)

// Classifier scores a batch of tensors. Predict returns one score vector per
// input, in input order, each as long as Classes. Failures should be reported
// as *InferenceBackendError; any other error is wrapped into one.
//
// The engine never calls Predict concurrently with itself.
type Classifier interface {
	Classes() []string
	Predict(ctx context.Context, batch []*preprocess.Tensor) ([][]float32, error)
}

// ClassifierFunc adapts a function and a fixed class list to Classifier.
type ClassifierFunc struct {
	Labels []string
	Fn     func(ctx context.Context, batch []*preprocess.Tensor) ([][]float32, error)
}

func (c ClassifierFunc) Classes() []string { return c.Labels }

func (c ClassifierFunc) Predict(ctx context.Context, batch []*preprocess.Tensor) ([][]float32, error) {
	return c.Fn(ctx, batch)
}
