package myaudio

import (
	"fmt"

	"github.com/tphakala/clipscan/internal/errors"
)

// ErrRecordingNotFound is wrapped by DecodeError when a decoder has no data
// for the requested recording.
var ErrRecordingNotFound = errors.NewStd("recording not found")

// DecodeError reports corrupt, missing or unsupported audio data.
type DecodeError struct {
	Recording string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Recording, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrorCategory implements errors.CategorizedError.
func (e *DecodeError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryAudioDecode
}

// OutOfRangeError reports a requested time range that no padding can recover,
// such as a start past the end of the recording.
type OutOfRangeError struct {
	Recording string
	Start     float64
	End       float64
	Duration  float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("range [%.3fs, %.3fs] is outside recording %s of %.3fs", e.Start, e.End, e.Recording, e.Duration)
}

// ErrorCategory implements errors.CategorizedError.
func (e *OutOfRangeError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryAudioRange
}
