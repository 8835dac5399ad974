// Package dataset binds recordings, a window spec and a preprocessing
// pipeline into a randomly indexable sequence of clips.
package dataset

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/tphakala/clipscan/internal/clip"
	"github.com/tphakala/clipscan/internal/errors"
	"github.com/tphakala/clipscan/internal/logger"
	"github.com/tphakala/clipscan/internal/myaudio"
	"github.com/tphakala/clipscan/internal/preprocess"
	"github.com/tphakala/clipscan/internal/windower"
)

// Item is the outcome of retrieving one clip: exactly one of Tensor and
// Failure is set.
type Item struct {
	Index    int
	Identity clip.Identity
	Tensor   *preprocess.Tensor
	Failure  *clip.Failure
}

// OK reports whether the clip was transformed successfully.
func (it Item) OK() bool {
	return it.Failure == nil
}

type entry struct {
	identity clip.Identity
	rec      int
}

// Dataset is a read-only view of every clip of a set of recordings. Get is
// safe for concurrent use.
type Dataset struct {
	recordings []clip.Recording
	windower   *windower.Windower
	pipeline   *preprocess.Pipeline
	decoder    myaudio.AudioDecoder
	mode       preprocess.Mode
	seed       uint64
	index      []entry
	log        logger.Logger
}

// Option configures a Dataset.
type Option func(*Dataset)

// WithMode selects the pipeline mode. The default is inference.
func WithMode(mode preprocess.Mode) Option {
	return func(d *Dataset) {
		d.mode = mode
	}
}

// WithSeed seeds the random source of stochastic steps. Each clip derives its
// own stream from the seed and its index, so results do not depend on the
// order in which clips are retrieved.
func WithSeed(seed uint64) Option {
	return func(d *Dataset) {
		d.seed = seed
	}
}

// New builds the flat clip index: recordings in the given order, windows of
// each recording in time order. It fails with *windower.InvalidWindowSpecError
// for a bad spec and *preprocess.PipelineTypeError when the pipeline does not
// produce a tensor in the selected mode.
func New(recordings []clip.Recording, spec windower.Spec, pipeline *preprocess.Pipeline, decoder myaudio.AudioDecoder, opts ...Option) (*Dataset, error) {
	w, err := windower.New(spec)
	if err != nil {
		return nil, err
	}
	if pipeline == nil {
		return nil, errors.Newf("dataset requires a pipeline").
			Component("dataset").
			Category(errors.CategoryValidation).
			Build()
	}
	if decoder == nil {
		return nil, errors.Newf("dataset requires an audio decoder").
			Component("dataset").
			Category(errors.CategoryValidation).
			Build()
	}

	d := &Dataset{
		recordings: append([]clip.Recording(nil), recordings...),
		windower:   w,
		pipeline:   pipeline,
		decoder:    decoder,
		mode:       preprocess.ModeInference,
		log:        GetLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if out := pipeline.Output(d.mode); out != preprocess.KindTensor {
		return nil, &preprocess.PipelineTypeError{
			Step:     pipeline.Name(),
			Position: pipeline.Len(),
			Reason:   fmt.Sprintf("pipeline produces %s in %s mode, want %s", out, d.mode, preprocess.KindTensor),
		}
	}

	seen := make(map[string]struct{}, len(d.recordings))
	for i, rec := range d.recordings {
		if _, dup := seen[rec.ID]; dup {
			return nil, errors.Newf("recording %q is listed more than once", rec.ID).
				Component("dataset").
				Category(errors.CategoryValidation).
				Build()
		}
		seen[rec.ID] = struct{}{}
		if math.IsNaN(rec.Duration) || math.IsInf(rec.Duration, 0) || rec.Duration < 0 {
			return nil, errors.Newf("recording %q has invalid duration %g", rec.ID, rec.Duration).
				Component("dataset").
				Category(errors.CategoryValidation).
				Build()
		}
		// windows closer than one sample would share a result key
		if res := clip.Resolution(rec.SampleRate); w.Spec().Hop() < res*(1-1e-9) {
			return nil, &windower.InvalidWindowSpecError{
				Field:  "clip_overlap",
				Reason: fmt.Sprintf("hop %g s is shorter than one sample (%g s) of recording %q", w.Spec().Hop(), res, rec.ID),
			}
		}
		for _, win := range w.Windows(rec.Duration) {
			d.index = append(d.index, entry{
				identity: clip.Identity{Recording: rec.ID, Start: win.Start, End: win.End},
				rec:      i,
			})
		}
	}

	d.log.Debug("dataset indexed",
		logger.Int("recordings", len(d.recordings)),
		logger.Int("clips", len(d.index)),
		logger.String("edge_policy", string(w.Spec().EdgePolicy)))
	return d, nil
}

// Len returns the total number of clips.
func (d *Dataset) Len() int {
	return len(d.index)
}

// Recordings returns the recordings in index order.
func (d *Dataset) Recordings() []clip.Recording {
	return append([]clip.Recording(nil), d.recordings...)
}

// Spec returns the normalized window spec.
func (d *Dataset) Spec() windower.Spec {
	return d.windower.Spec()
}

// Pipeline returns the pipeline clips are transformed with.
func (d *Dataset) Pipeline() *preprocess.Pipeline {
	return d.pipeline
}

// Identity returns the clip at index k.
func (d *Dataset) Identity(k int) (clip.Identity, error) {
	if k < 0 || k >= len(d.index) {
		return clip.Identity{}, fmt.Errorf("clip index %d out of range [0, %d)", k, len(d.index))
	}
	return d.index[k].identity, nil
}

// Identities returns every clip in index order.
func (d *Dataset) Identities() []clip.Identity {
	ids := make([]clip.Identity, len(d.index))
	for i, e := range d.index {
		ids[i] = e.identity
	}
	return ids
}

// SampleRate returns the sample rate of the recording clip k belongs to.
func (d *Dataset) SampleRate(k int) int {
	if k < 0 || k >= len(d.index) {
		return 0
	}
	return d.recordings[d.index[k].rec].SampleRate
}

// Get fetches and transforms clip k. Decode and transform problems are
// returned as the item's Failure. The error is non-nil only for an index out
// of range or when ctx ends before the clip is retrieved.
func (d *Dataset) Get(ctx context.Context, k int) (Item, error) {
	id, err := d.Identity(k)
	if err != nil {
		return Item{}, err
	}
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	item := Item{Index: k, Identity: id}

	wf, err := d.decoder.Fetch(ctx, id.Recording, id.Start, id.End)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Item{}, ctxErr
		}
		item.Failure = clip.NewFailure(id, clip.DecodeFailure, err)
		d.logFailure(item.Failure)
		return item, nil
	}

	in := preprocess.Waveform(wf)
	out, err := d.pipeline.Run(&in, preprocess.RunOptions{
		Mode:         d.mode,
		Rand:         rand.New(rand.NewPCG(d.seed, uint64(k))),
		ClipDuration: d.windower.Spec().ClipDuration,
	})
	if err != nil {
		item.Failure = clip.NewFailure(id, clip.TransformFailure, err)
		d.logFailure(item.Failure)
		return item, nil
	}

	tensor, ok := out.(*preprocess.Tensor)
	if !ok {
		item.Failure = clip.NewFailure(id, clip.TransformFailure, fmt.Errorf("pipeline produced %s, want %s", out.Kind(), preprocess.KindTensor))
		d.logFailure(item.Failure)
		return item, nil
	}
	item.Tensor = tensor
	return item, nil
}

func (d *Dataset) logFailure(f *clip.Failure) {
	d.log.Debug("clip failed",
		logger.String("clip", f.Identity.String()),
		logger.String("kind", f.Kind.String()),
		logger.String("reason", f.Message))
}
