// Package clip defines the identity of a unit of inference work and the
// per-clip failure taxonomy shared by the dataset and the inference engine.
package clip

import (
	"fmt"
	"math"

	"github.com/tphakala/clipscan/internal/errors"
)

// DefaultEpsilon is the time tolerance in seconds used when a recording's
// sample rate is unknown.
const DefaultEpsilon = 1e-6

// Recording is an immutable description of one audio source.
type Recording struct {
	ID         string  // path, URI or in-memory handle understood by the decoder
	Duration   float64 // total duration in seconds
	SampleRate int     // native sample rate in Hz
}

// Epsilon returns the tolerance for comparing times within this recording:
// half a sample period.
func (r Recording) Epsilon() float64 {
	return Epsilon(r.SampleRate)
}

// Epsilon returns half the sample period of sampleRate in seconds.
func Epsilon(sampleRate int) float64 {
	if sampleRate <= 0 {
		return DefaultEpsilon
	}
	return 0.5 / float64(sampleRate)
}

// Identity uniquely identifies a clip: a recording and a time range in seconds.
type Identity struct {
	Recording string
	Start     float64
	End       float64
}

// Duration returns End - Start.
func (id Identity) Duration() float64 {
	return id.End - id.Start
}

// Equal reports whether both identities name the same recording and their
// start and end times agree within eps.
func (id Identity) Equal(other Identity, eps float64) bool {
	return id.Recording == other.Recording &&
		math.Abs(id.Start-other.Start) <= eps &&
		math.Abs(id.End-other.End) <= eps
}

// Resolution returns the smallest time step in seconds that Key keeps apart:
// one sample period, or DefaultEpsilon when sampleRate is unknown.
func Resolution(sampleRate int) float64 {
	return 1 / keyScale(sampleRate)
}

func keyScale(sampleRate int) float64 {
	if sampleRate <= 0 {
		return 1 / DefaultEpsilon
	}
	return float64(sampleRate)
}

// Key quantizes the identity to sample positions so it can index a map.
// Times that differ by less than half a sample period produce the same key.
func (id Identity) Key(sampleRate int) Key {
	scale := keyScale(sampleRate)
	return Key{
		Recording: id.Recording,
		Start:     int64(math.Round(id.Start * scale)),
		End:       int64(math.Round(id.End * scale)),
	}
}

func (id Identity) String() string {
	return fmt.Sprintf("%s[%.3f-%.3f]", id.Recording, id.Start, id.End)
}

// Key is the map key form of an Identity.
type Key struct {
	Recording string
	Start     int64
	End       int64
}

// FailureKind classifies why a clip did not produce scores.
type FailureKind int

const (
	// DecodeFailure means the decoder could not deliver samples for the clip.
	DecodeFailure FailureKind = iota + 1
	// TransformFailure means a pipeline step rejected the clip.
	TransformFailure
	// BatchInferenceFailure means the classifier failed for the whole batch
	// the clip belonged to. The clip's data may be fine.
	BatchInferenceFailure
)

func (k FailureKind) String() string {
	switch k {
	case DecodeFailure:
		return "ClipDecodeFailure"
	case TransformFailure:
		return "ClipTransformFailure"
	case BatchInferenceFailure:
		return "BatchInferenceFailure"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// Category maps the failure kind to an error category.
func (k FailureKind) Category() errors.ErrorCategory {
	switch k {
	case DecodeFailure:
		return errors.CategoryAudioDecode
	case TransformFailure:
		return errors.CategoryTransform
	case BatchInferenceFailure:
		return errors.CategoryInference
	default:
		return errors.CategoryGeneric
	}
}

// Failure is the error record of one clip. Message keeps the collaborator's
// original error text verbatim.
type Failure struct {
	Identity Identity
	Kind     FailureKind
	Message  string
	Err      error
}

// NewFailure wraps err as a failure of kind for the given clip.
func NewFailure(id Identity, kind FailureKind, err error) *Failure {
	f := &Failure{Identity: id, Kind: kind, Err: err}
	if err != nil {
		f.Message = err.Error()
	}
	return f
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s %s: %s", f.Kind, f.Identity, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// ErrorCategory implements errors.CategorizedError.
func (f *Failure) ErrorCategory() errors.ErrorCategory {
	return f.Kind.Category()
}
