package inference

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/clipscan/internal/clip"
	"github.com/tphakala/clipscan/internal/dataset"
	"github.com/tphakala/clipscan/internal/errors"
	"github.com/tphakala/clipscan/internal/logger"
	"github.com/tphakala/clipscan/internal/myaudio"
	"github.com/tphakala/clipscan/internal/preprocess"
	"github.com/tphakala/clipscan/internal/windower"
)

// ClipSource is the random access clip sequence an Engine consumes.
// *dataset.Dataset implements it.
type ClipSource interface {
	Len() int
	Recordings() []clip.Recording
	Get(ctx context.Context, k int) (dataset.Item, error)
}

// Engine scores a ClipSource with a Classifier in batches of consecutive
// indices. Clip retrieval within a batch runs on up to Workers goroutines;
// the classifier is invoked by one goroutine at a time.
type Engine struct {
	classifier  Classifier
	classes     []string
	batchSize   int
	workers     int
	activation  Activation
	sensitivity float64
	seed        uint64
	mode        preprocess.Mode
	recorder    Recorder
	log         logger.Logger

	// serializes classifier use across concurrent runs of one engine
	predictMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the number of goroutines retrieving clips. Values < 1
// mean runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithActivation sets the score activation and the sigmoid sensitivity.
func WithActivation(a Activation, sensitivity float64) Option {
	return func(e *Engine) {
		e.activation = a
		e.sensitivity = sensitivity
	}
}

// WithRecorder reports run statistics to r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithSeed seeds the datasets built by RunInference.
func WithSeed(seed uint64) Option {
	return func(e *Engine) {
		e.seed = seed
	}
}

// WithMode selects the pipeline mode of the datasets built by RunInference.
func WithMode(mode preprocess.Mode) Option {
	return func(e *Engine) {
		e.mode = mode
	}
}

// NewEngine validates the classifier and batch size.
func NewEngine(classifier Classifier, batchSize int, opts ...Option) (*Engine, error) {
	if classifier == nil {
		return nil, errors.Newf("inference engine requires a classifier").
			Component("inference").
			Category(errors.CategoryValidation).
			Build()
	}
	if batchSize < 1 {
		return nil, errors.Newf("batch size must be at least 1, got %d", batchSize).
			Component("inference").
			Category(errors.CategoryValidation).
			Context("batch_size", batchSize).
			Build()
	}
	classes := classifier.Classes()
	if len(classes) == 0 {
		return nil, errors.Newf("classifier reports no classes").
			Component("inference").
			Category(errors.CategoryValidation).
			Build()
	}

	e := &Engine{
		classifier: classifier,
		classes:    append([]string(nil), classes...),
		batchSize:  batchSize,
		activation: ActivationNone,
		mode:       preprocess.ModeInference,
		recorder:   nopRecorder{},
		log:        GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		e.workers = runtime.NumCPU()
	}
	if _, err := ParseActivation(string(e.activation)); err != nil {
		return nil, errors.New(err).
			Component("inference").
			Category(errors.CategoryValidation).
			Build()
	}
	return e, nil
}

// BatchSize returns the configured batch size.
func (e *Engine) BatchSize() int { return e.batchSize }

// span is the half open index range [start, end) of one batch.
type span struct {
	number     int
	start, end int
}

func partition(n, size int) []span {
	spans := make([]span, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		spans = append(spans, span{number: len(spans), start: start, end: min(start+size, n)})
	}
	return spans
}

type fetched struct {
	span  span
	items []dataset.Item
	began time.Time
}

// Run scores every clip of src exactly once. Batches are processed in index
// order and the context is checked between batches. When it ends, Run returns
// the batches completed so far together with a *CancelledRunError.
//
// Retrieval of the next batch overlaps with classification of the current
// one.
func (e *Engine) Run(ctx context.Context, src ClipSource) (*ResultsTable, error) {
	table := NewResultsTable(e.classes, src.Recordings())
	spans := partition(src.Len(), e.batchSize)
	started := time.Now()

	e.recorder.RunStarted()
	log := e.log.With(logger.String("run_id", table.RunID().String()))
	log.Info("inference run started",
		logger.Int("clips", src.Len()),
		logger.Int("batches", len(spans)),
		logger.Int("batch_size", e.batchSize),
		logger.Int("workers", e.workers))

	fetchCtx, stop := context.WithCancel(ctx)
	queue := make(chan fetched, 1)
	var wg sync.WaitGroup
	wg.Go(func() {
		defer close(queue)
		for _, s := range spans {
			began := time.Now()
			items, err := e.fetch(fetchCtx, src, s)
			if err != nil {
				return
			}
			select {
			case queue <- fetched{span: s, items: items, began: began}:
			case <-fetchCtx.Done():
				return
			}
		}
	})
	defer func() {
		stop()
		for range queue {
		}
		wg.Wait()
	}()

	completed := 0
	for completed < len(spans) {
		if ctx.Err() != nil {
			break
		}
		b, ok := <-queue
		if !ok {
			break
		}
		results, status, err := e.score(ctx, b)
		if err != nil {
			// only cancellation aborts scoring
			break
		}
		if err := table.Add(results); err != nil {
			e.recorder.RunFinished(StatusFailed)
			return table, errors.New(err).
				Component("inference").
				Category(errors.CategoryInference).
				Context("batch", b.span.number).
				Build()
		}
		e.recorder.RecordBatch(status, len(results), time.Since(b.began).Seconds())
		for _, r := range results {
			if r.OK() {
				e.recorder.RecordClip(StatusSuccess, "")
			} else {
				e.recorder.RecordClip(StatusFailed, r.Failure.Kind.String())
			}
		}
		completed++
	}

	summary := table.Summary()
	if completed < len(spans) {
		cause := ctx.Err()
		if cause == nil {
			cause = context.Canceled
		}
		e.recorder.RunFinished(StatusCancelled)
		log.Info("inference run cancelled",
			logger.Int("completed_batches", completed),
			logger.Int("batches", len(spans)),
			logger.Int("clips", summary.Total),
			logger.Duration("elapsed", time.Since(started)))
		return table, &CancelledRunError{CompletedBatches: completed, TotalBatches: len(spans), Err: cause}
	}

	if n := summary.Failed(); n > 0 {
		log.Warn("clips failed during inference",
			logger.Int("invalid_samples", n),
			logger.Int("decode_failures", summary.Failures[clip.DecodeFailure]),
			logger.Int("transform_failures", summary.Failures[clip.TransformFailure]),
			logger.Int("batch_failures", summary.Failures[clip.BatchInferenceFailure]))
	}
	e.recorder.RunFinished(StatusSuccess)
	log.Info("inference run finished",
		logger.Int("clips", summary.Total),
		logger.Int("scored", summary.Succeeded),
		logger.Int("batches", len(spans)),
		logger.Duration("elapsed", time.Since(started)))
	return table, nil
}

// fetch retrieves the items of one batch concurrently. Items keep their index
// order regardless of completion order.
func (e *Engine) fetch(ctx context.Context, src ClipSource, s span) ([]dataset.Item, error) {
	items := make([]dataset.Item, s.end-s.start)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for k := s.start; k < s.end; k++ {
		g.Go(func() error {
			item, err := src.Get(gctx, k)
			if err != nil {
				return err
			}
			items[k-s.start] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// score classifies the transformed items of a batch. A classifier failure is
// attributed to every transformed item; items that already failed keep their
// own failure. The error is non-nil only when ctx ended during the call.
func (e *Engine) score(ctx context.Context, b fetched) ([]ClipResult, string, error) {
	results := make([]ClipResult, len(b.items))
	var tensors []*preprocess.Tensor
	var slots []int
	for i, item := range b.items {
		results[i] = ClipResult{Index: item.Index, Identity: item.Identity, Failure: item.Failure}
		if item.OK() {
			tensors = append(tensors, item.Tensor)
			slots = append(slots, i)
		}
	}
	if len(tensors) == 0 {
		return results, StatusSuccess, nil
	}

	scores, err := e.predict(ctx, tensors)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		e.log.Warn("batch inference failed",
			logger.Int("batch", b.span.number),
			logger.Int("first_clip", b.span.start),
			logger.Int("clips", len(tensors)),
			logger.Error(err))
		for _, i := range slots {
			results[i].Failure = clip.NewFailure(results[i].Identity, clip.BatchInferenceFailure, err)
		}
		return results, StatusFailed, nil
	}

	for n, i := range slots {
		results[i].Scores = e.activation.Apply(scores[n], e.sensitivity)
	}
	return results, StatusSuccess, nil
}

// predict invokes the classifier once, converting panics and malformed
// results into *InferenceBackendError.
func (e *Engine) predict(ctx context.Context, batch []*preprocess.Tensor) (scores [][]float32, err error) {
	e.predictMu.Lock()
	defer e.predictMu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			scores, err = nil, &InferenceBackendError{Op: "predict", Err: fmt.Errorf("panic: %v", r)}
		}
		e.recorder.RecordClassifier(time.Since(start).Seconds())
	}()

	scores, err = e.classifier.Predict(ctx, batch)
	if err != nil {
		var backendErr *InferenceBackendError
		if errors.As(err, &backendErr) {
			return nil, err
		}
		return nil, &InferenceBackendError{Op: "predict", Err: err}
	}
	if len(scores) != len(batch) {
		return nil, &InferenceBackendError{Op: "validate", Err: fmt.Errorf("classifier returned %d score vectors for %d inputs", len(scores), len(batch))}
	}
	for i, s := range scores {
		if len(s) != len(e.classes) {
			return nil, &InferenceBackendError{Op: "validate", Err: fmt.Errorf("score vector %d has %d values for %d classes", i, len(s), len(e.classes))}
		}
	}
	return scores, nil
}

// RunInference builds a dataset from recordings, a window spec and a
// pipeline and scores it. Construction problems (an invalid window spec, a
// pipeline that does not produce tensors, a bad batch size) are returned
// before any audio is read. ctx is the cancellation signal; see Engine.Run.
func RunInference(ctx context.Context, recordings []clip.Recording, spec windower.Spec, pipeline *preprocess.Pipeline, decoder myaudio.AudioDecoder, classifier Classifier, batchSize int, opts ...Option) (*ResultsTable, error) {
	e, err := NewEngine(classifier, batchSize, opts...)
	if err != nil {
		return nil, err
	}
	ds, err := dataset.New(recordings, spec, pipeline, decoder,
		dataset.WithMode(e.mode),
		dataset.WithSeed(e.seed))
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, ds)
}
