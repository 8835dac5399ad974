package inference

import (
	"fmt"

	"github.com/tphakala/clipscan/internal/errors"
)

var (
	// ErrInferenceBackend is matched by every *InferenceBackendError.
	ErrInferenceBackend = errors.NewStd("inference backend failure")
	// ErrCancelledRun is matched by every *CancelledRunError.
	ErrCancelledRun = errors.NewStd("inference run cancelled")
)

// InferenceBackendError reports that the classifier could not score a batch:
// resource exhaustion, an invocation failure, a panic or a malformed result.
type InferenceBackendError struct {
	Op  string
	Err error
}

func (e *InferenceBackendError) Error() string {
	if e.Err == nil {
		return "inference backend: " + e.Op
	}
	return fmt.Sprintf("inference backend: %s: %v", e.Op, e.Err)
}

func (e *InferenceBackendError) Unwrap() error { return e.Err }

func (e *InferenceBackendError) Is(target error) bool { return target == ErrInferenceBackend }

// ErrorCategory implements errors.CategorizedError.
func (e *InferenceBackendError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryInference
}

// CancelledRunError is returned together with a partial ResultsTable when the
// run context ends before every batch was scored. The table then holds only
// the batches that completed.
type CancelledRunError struct {
	CompletedBatches int
	TotalBatches     int
	Err              error
}

func (e *CancelledRunError) Error() string {
	return fmt.Sprintf("inference run cancelled after %d of %d batches: %v", e.CompletedBatches, e.TotalBatches, e.Err)
}

func (e *CancelledRunError) Unwrap() error { return e.Err }

func (e *CancelledRunError) Is(target error) bool { return target == ErrCancelledRun }

// ErrorCategory implements errors.CategorizedError.
func (e *CancelledRunError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryCancellation
}
