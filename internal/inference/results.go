package inference

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tphakala/clipscan/internal/clip"
)

// ClipResult is the outcome for one clip: Scores on success, Failure
// otherwise.
type ClipResult struct {
	Index    int
	Identity clip.Identity
	Scores   []float32
	Failure  *clip.Failure
}

// OK reports whether the clip was scored.
func (r ClipResult) OK() bool {
	return r.Failure == nil
}

// Row is the persisted shape of a ClipResult. Error and FailureKind are empty
// for scored clips.
type Row struct {
	Recording   string
	Start       float64
	End         float64
	Scores      []float32
	FailureKind string
	Error       string
}

// Prediction holds the binary class decisions of a scored clip.
type Prediction struct {
	Identity clip.Identity
	Present  []bool
}

// Summary counts the clips of a table by outcome.
type Summary struct {
	Total     int
	Succeeded int
	Failures  map[clip.FailureKind]int
}

// Failed returns the total number of failed clips.
func (s Summary) Failed() int {
	return s.Total - s.Succeeded
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d clips, %d scored, %d failed", s.Total, s.Succeeded, s.Failed())
	for _, kind := range []clip.FailureKind{clip.DecodeFailure, clip.TransformFailure, clip.BatchInferenceFailure} {
		if n := s.Failures[kind]; n > 0 {
			fmt.Fprintf(&b, ", %s=%d", kind, n)
		}
	}
	return b.String()
}

// ResultsTable maps every processed clip to its scores or failure. Batches
// are appended under a lock, so a table read while a run is in progress only
// ever shows whole batches.
type ResultsTable struct {
	runID   uuid.UUID
	classes []string
	rates   map[string]int

	mu         sync.RWMutex
	results    []ClipResult
	byKey      map[clip.Key]int
	unreadable []*clip.Failure
}

// NewResultsTable returns an empty table for the given class list.
// Recordings supply the sample rates used to match identities.
func NewResultsTable(classes []string, recordings []clip.Recording) *ResultsTable {
	rates := make(map[string]int, len(recordings))
	for _, rec := range recordings {
		rates[rec.ID] = rec.SampleRate
	}
	return &ResultsTable{
		runID:   uuid.New(),
		classes: slices.Clone(classes),
		rates:   rates,
		byKey:   make(map[clip.Key]int),
	}
}

// RunID identifies the run that produced the table.
func (t *ResultsTable) RunID() uuid.UUID { return t.runID }

// Classes returns the class list in score order.
func (t *ResultsTable) Classes() []string { return slices.Clone(t.classes) }

// Len returns the number of clips in the table.
func (t *ResultsTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.results)
}

func (t *ResultsTable) key(id clip.Identity) clip.Key {
	return id.Key(t.rates[id.Recording])
}

// Add appends one batch atomically. It fails without modifying the table
// when a clip is already present, a result carries neither or both of
// scores and failure, or a score vector has the wrong length.
func (t *ResultsTable) Add(batch []ClipResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending := make(map[clip.Key]struct{}, len(batch))
	for _, r := range batch {
		k := t.key(r.Identity)
		if _, dup := t.byKey[k]; dup {
			return fmt.Errorf("clip %s is already in the results table", r.Identity)
		}
		if _, dup := pending[k]; dup {
			return fmt.Errorf("clip %s appears twice in one batch", r.Identity)
		}
		pending[k] = struct{}{}
		if (r.Failure == nil) == (r.Scores == nil) {
			return fmt.Errorf("clip %s must carry exactly one of scores and failure", r.Identity)
		}
		if r.Failure == nil && len(r.Scores) != len(t.classes) {
			return fmt.Errorf("clip %s has %d scores for %d classes", r.Identity, len(r.Scores), len(t.classes))
		}
	}

	for _, r := range batch {
		t.byKey[t.key(r.Identity)] = len(t.results)
		t.results = append(t.results, r)
	}
	return nil
}

// Get returns the result for a clip. Times are matched at sample resolution.
func (t *ResultsTable) Get(id clip.Identity) (ClipResult, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.byKey[t.key(id)]
	if !ok {
		return ClipResult{}, false
	}
	return t.results[i], true
}

// Results returns every result in dataset index order.
func (t *ResultsTable) Results() []ClipResult {
	t.mu.RLock()
	out := slices.Clone(t.results)
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b ClipResult) int { return a.Index - b.Index })
	return out
}

// ToRows returns the table as rows in dataset index order: recordings in the
// order given to the run, clips of a recording in time order.
func (t *ResultsTable) ToRows() []Row {
	results := t.Results()
	rows := make([]Row, len(results))
	for i, r := range results {
		rows[i] = Row{
			Recording: r.Identity.Recording,
			Start:     r.Identity.Start,
			End:       r.Identity.End,
			Scores:    slices.Clone(r.Scores),
		}
		if r.Failure != nil {
			rows[i].FailureKind = r.Failure.Kind.String()
			rows[i].Error = r.Failure.Message
		}
	}
	return rows
}

// AddUnreadable records files that could not be opened as recordings and so
// produced no clips.
func (t *ResultsTable) AddUnreadable(failures ...*clip.Failure) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unreadable = append(t.unreadable, failures...)
}

// Unreadable returns the files recorded with AddUnreadable.
func (t *ResultsTable) Unreadable() []*clip.Failure {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.unreadable)
}

// InvalidSamples returns the failed clips in index order.
func (t *ResultsTable) InvalidSamples() []ClipResult {
	var out []ClipResult
	for _, r := range t.Results() {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// WriteInvalidSamples writes one tab separated line per failed clip:
// recording, start, end, failure kind and message. Unreadable files come
// first, with empty start and end.
func (t *ResultsTable) WriteInvalidSamples(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, f := range t.Unreadable() {
		msg := strings.ReplaceAll(f.Message, "\n", " ")
		if _, err := fmt.Fprintf(bw, "%s\t\t\t%s\t%s\n", f.Identity.Recording, f.Kind, msg); err != nil {
			return err
		}
	}
	for _, r := range t.InvalidSamples() {
		msg := strings.ReplaceAll(r.Failure.Message, "\n", " ")
		if _, err := fmt.Fprintf(bw, "%s\t%.6f\t%.6f\t%s\t%s\n", r.Identity.Recording, r.Identity.Start, r.Identity.End, r.Failure.Kind, msg); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Summary counts clips by outcome.
func (t *ResultsTable) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Summary{Total: len(t.results), Failures: make(map[clip.FailureKind]int)}
	for _, r := range t.results {
		if r.OK() {
			s.Succeeded++
			continue
		}
		s.Failures[r.Failure.Kind]++
	}
	return s
}

// Predictions turns stored scores into binary class decisions for every
// scored clip. Multi-target mode marks each class scoring at least threshold.
// Single-target mode marks only the highest scoring class and ignores the
// threshold. Scores are compared as stored, after the run's activation.
func (t *ResultsTable) Predictions(threshold float32, singleTarget bool) []Prediction {
	var out []Prediction
	for _, r := range t.Results() {
		if !r.OK() {
			continue
		}
		present := make([]bool, len(r.Scores))
		if singleTarget {
			if best := argmax(r.Scores); best >= 0 {
				present[best] = true
			}
		} else {
			for i, s := range r.Scores {
				present[i] = s >= threshold
			}
		}
		out = append(out, Prediction{Identity: r.Identity, Present: present})
	}
	return out
}

func argmax(scores []float32) int {
	best, bestScore := -1, float32(math.Inf(-1))
	for i, s := range scores {
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}
