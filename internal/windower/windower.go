// Package windower slices a recording's duration into clip time ranges.
package windower

import (
	"fmt"
	"math"
	"strings"

	"github.com/tphakala/clipscan/internal/errors"
)

// EdgePolicy decides what happens to the window that overruns the recording.
type EdgePolicy string

const (
	// DropPartial omits any window whose end would exceed the duration.
	DropPartial EdgePolicy = "drop_partial"
	// Pad keeps the overrunning window at full length; samples past the end
	// are zero-padded when fetched.
	Pad EdgePolicy = "pad"
	// KeepPartial keeps the overrunning window truncated at the duration.
	KeepPartial EdgePolicy = "keep_partial"
	// Full replaces overrunning windows with one final full-length window
	// ending exactly at the duration.
	Full EdgePolicy = "full"
)

// DefaultEdgePolicy is used when a spec leaves the policy empty.
const DefaultEdgePolicy = Pad

// ErrInvalidWindowSpec is matched by every InvalidWindowSpecError.
var ErrInvalidWindowSpec = errors.NewStd("invalid window spec")

// InvalidWindowSpecError reports a window spec that cannot tile a recording.
type InvalidWindowSpecError struct {
	Field  string
	Reason string
}

func (e *InvalidWindowSpecError) Error() string {
	return fmt.Sprintf("invalid window spec: %s %s", e.Field, e.Reason)
}

func (e *InvalidWindowSpecError) Is(target error) bool {
	return target == ErrInvalidWindowSpec
}

// ErrorCategory implements errors.CategorizedError.
func (e *InvalidWindowSpecError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryValidation
}

// Spec holds the windowing parameters in seconds.
type Spec struct {
	ClipDuration float64    `mapstructure:"clipduration" yaml:"clipduration"`
	ClipOverlap  float64    `mapstructure:"clipoverlap" yaml:"clipoverlap"`
	EdgePolicy   EdgePolicy `mapstructure:"edgepolicy" yaml:"edgepolicy"`

	// Epsilon is the tolerance used when comparing window boundaries with the
	// duration. Zero means DefaultEpsilon.
	Epsilon float64 `mapstructure:"-" yaml:"-"`
}

// DefaultEpsilon absorbs floating point drift in start time accumulation.
const DefaultEpsilon = 1e-9

// Window is one clip time range in seconds.
type Window struct {
	Start float64
	End   float64
}

// Duration returns End - Start.
func (w Window) Duration() float64 {
	return w.End - w.Start
}

// Windower produces windows for a validated Spec.
type Windower struct {
	spec Spec
	hop  float64
	eps  float64
}

// ParseEdgePolicy accepts the policy names case-insensitively. An empty
// string yields DefaultEdgePolicy.
func ParseEdgePolicy(s string) (EdgePolicy, error) {
	switch p := EdgePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DefaultEdgePolicy, nil
	case DropPartial, Pad, KeepPartial, Full:
		return p, nil
	default:
		return "", &InvalidWindowSpecError{Field: "edge_policy", Reason: fmt.Sprintf("unknown policy %q", s)}
	}
}

// Validate checks the spec without building a Windower.
func (s Spec) Validate() error {
	switch {
	case math.IsNaN(s.ClipDuration) || math.IsInf(s.ClipDuration, 0) || s.ClipDuration <= 0:
		return &InvalidWindowSpecError{Field: "clip_duration", Reason: fmt.Sprintf("must be positive and finite, got %g", s.ClipDuration)}
	case math.IsNaN(s.ClipOverlap) || math.IsInf(s.ClipOverlap, 0) || s.ClipOverlap < 0:
		return &InvalidWindowSpecError{Field: "clip_overlap", Reason: fmt.Sprintf("must be non-negative and finite, got %g", s.ClipOverlap)}
	case s.ClipOverlap >= s.ClipDuration:
		return &InvalidWindowSpecError{Field: "clip_overlap", Reason: fmt.Sprintf("%g must be less than clip_duration %g", s.ClipOverlap, s.ClipDuration)}
	}
	_, err := ParseEdgePolicy(string(s.EdgePolicy))
	return err
}

// Hop returns the distance between consecutive window starts.
func (s Spec) Hop() float64 {
	return s.ClipDuration - s.ClipOverlap
}

// New validates spec and returns a Windower for it.
func New(spec Spec) (*Windower, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	spec.EdgePolicy, _ = ParseEdgePolicy(string(spec.EdgePolicy))
	eps := spec.Epsilon
	if eps <= 0 {
		eps = DefaultEpsilon
	}
	return &Windower{spec: spec, hop: spec.Hop(), eps: eps}, nil
}

// Spec returns the normalized spec the windower was built from.
func (w *Windower) Spec() Spec {
	return w.spec
}

// Windows returns the ordered windows covering a recording of the given
// duration. Starts are computed as i*hop rather than accumulated.
func (w *Windower) Windows(duration float64) []Window {
	if duration <= w.eps || math.IsNaN(duration) {
		return nil
	}

	c := w.spec.ClipDuration
	var windows []Window
	for i := 0; ; i++ {
		start := float64(i) * w.hop
		if start >= duration-w.eps {
			break
		}
		end := start + c
		if end <= duration+w.eps {
			windows = append(windows, Window{Start: start, End: end})
			continue
		}

		// first window that overruns the recording; everything after it
		// overruns as well
		switch w.spec.EdgePolicy {
		case DropPartial:
		case Pad:
			windows = append(windows, Window{Start: start, End: end})
			continue
		case KeepPartial:
			windows = append(windows, Window{Start: start, End: duration})
			continue
		case Full:
			last := Window{Start: math.Max(0, duration-c), End: duration}
			if n := len(windows); n == 0 || math.Abs(windows[n-1].Start-last.Start) > w.eps {
				windows = append(windows, last)
			}
		}
		break
	}
	return windows
}

// ClipCount returns len(Windows(duration)).
func (w *Windower) ClipCount(duration float64) int {
	return len(w.Windows(duration))
}
