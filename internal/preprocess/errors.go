package preprocess

import (
	"fmt"

	"github.com/tphakala/clipscan/internal/errors"
)

// ErrPipelineType is matched by every PipelineTypeError.
var ErrPipelineType = errors.NewStd("pipeline type error")

// PipelineTypeError reports a pipeline that cannot be built: consecutive
// steps whose kinds do not line up, or a step definition that is malformed.
type PipelineTypeError struct {
	Step     string
	Position int
	Expected Kind
	Got      Kind
	Reason   string
}

func (e *PipelineTypeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("pipeline step %q (#%d): %s", e.Step, e.Position, e.Reason)
	}
	return fmt.Sprintf("pipeline step %q (#%d) accepts %s but receives %s", e.Step, e.Position, e.Expected, e.Got)
}

func (e *PipelineTypeError) Is(target error) bool {
	return target == ErrPipelineType
}

// ErrorCategory implements errors.CategorizedError.
func (e *PipelineTypeError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryValidation
}

// StepError is returned by Pipeline.Run when a step fails on a sample.
type StepError struct {
	Step string
	Type StepType
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q (%s): %v", e.Step, e.Type, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ErrorCategory implements errors.CategorizedError.
func (e *StepError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryTransform
}
