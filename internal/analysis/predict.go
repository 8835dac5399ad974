// Package analysis runs clip classification over audio files as configured by
// conf.Settings and writes the results.
package analysis

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tphakala/clipscan/internal/conf"
	"github.com/tphakala/clipscan/internal/cpuspec"
	"github.com/tphakala/clipscan/internal/dataset"
	"github.com/tphakala/clipscan/internal/errors"
	"github.com/tphakala/clipscan/internal/inference"
	"github.com/tphakala/clipscan/internal/logger"
	"github.com/tphakala/clipscan/internal/myaudio"
	"github.com/tphakala/clipscan/internal/observability"
	"github.com/tphakala/clipscan/internal/preprocess"
)

// ClassifierFactory opens the classifier for a run. The returned func
// releases it.
type ClassifierFactory func(model conf.ModelSettings) (inference.Classifier, func(), error)

// Predict classifies every clip of the audio files under paths. Files that
// cannot be probed are skipped with a warning. On cancellation the partial
// table is returned together with an inference.CancelledRunError.
func Predict(ctx context.Context, settings *conf.Settings, paths []string, newClassifier ClassifierFactory) (*inference.ResultsTable, error) {
	log := GetLogger()
	start := time.Now()

	files, err := dataset.ExpandPaths(paths...)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Newf("no audio files found").
			Component("analysis").
			Category(errors.CategoryValidation).
			Context("paths", paths).
			Build()
	}

	decoder := myaudio.NewFileDecoder(
		myaudio.WithTargetSampleRate(settings.Audio.SampleRate),
		myaudio.WithCacheTTL(settings.Audio.CacheTTL),
	)

	recordings, unreadable := dataset.RecordingsFromFiles(decoder, files...)
	for _, f := range unreadable {
		log.Warn("Skipping unreadable audio file",
			logger.String("file", f.Identity.Recording),
			logger.Error(f.Err))
	}
	if len(recordings) == 0 {
		return nil, errors.Newf("none of the %d audio files could be read", len(files)).
			Component("analysis").
			Category(errors.CategoryAudioDecode).
			Build()
	}

	pipeline, err := LoadPipeline(settings.Pipeline)
	if err != nil {
		return nil, err
	}

	classifier, release, err := newClassifier(settings.Model)
	if err != nil {
		return nil, err
	}
	defer release()

	activation, err := inference.ParseActivation(settings.Inference.Activation)
	if err != nil {
		return nil, err
	}

	workers := settings.Inference.Workers
	if workers <= 0 {
		workers = cpuspec.GetCPUSpec().DefaultWorkers()
	}

	opts := []inference.Option{
		inference.WithWorkers(workers),
		inference.WithActivation(activation, settings.Inference.Sensitivity),
		inference.WithSeed(settings.Inference.Seed),
	}

	if settings.Metrics.Enabled {
		m, stop, err := startMetrics(settings.Metrics.Listen)
		if err != nil {
			return nil, err
		}
		defer stop()
		opts = append(opts, inference.WithRecorder(m.Inference))
	}

	log.Info("Starting prediction",
		logger.Int("files", len(files)),
		logger.Int("recordings", len(recordings)),
		logger.String("pipeline", pipeline.Name()),
		logger.Int("workers", workers),
		logger.Int("batch_size", settings.Inference.BatchSize))

	table, err := inference.RunInference(ctx, recordings, settings.Window, pipeline, decoder,
		classifier, settings.Inference.BatchSize, opts...)
	if table != nil {
		table.AddUnreadable(unreadable...)
		log.Info("Prediction finished",
			logger.String("summary", table.Summary().String()),
			logger.Int("unreadable_files", len(unreadable)),
			logger.Duration("elapsed", time.Since(start)))
	}
	return table, err
}

// LoadPipeline returns the configured pipeline with its overrides applied.
func LoadPipeline(settings conf.PipelineSettings) (*preprocess.Pipeline, error) {
	var (
		pipeline *preprocess.Pipeline
		err      error
	)
	if settings.Definition != "" {
		pipeline, err = preprocess.LoadDefinitionFile(settings.Definition)
	} else {
		pipeline, err = preprocess.Builtin(settings.Builtin)
	}
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Context("definition", settings.Definition).
			Context("builtin", settings.Builtin).
			Build()
	}

	if len(settings.Overrides) == 0 {
		return pipeline, nil
	}
	return pipeline.WithOverrides(settings.PipelineOverrides()...)
}

// startMetrics serves the metrics endpoint until the returned func is called.
func startMetrics(listen string) (*observability.Metrics, func(), error) {
	m, err := observability.NewMetrics()
	if err != nil {
		return nil, nil, err
	}
	endpoint, err := observability.NewEndpoint(listen, m)
	if err != nil {
		return nil, nil, err
	}

	var wg sync.WaitGroup
	quit := make(chan struct{})
	if err := endpoint.Start(&wg, quit); err != nil {
		return nil, nil, fmt.Errorf("failed to start metrics endpoint on %s: %w", listen, err)
	}
	return m, func() {
		close(quit)
		wg.Wait()
		snap := m.Inference.Snapshot()
		GetLogger().Debug("Metrics endpoint stopped",
			logger.Float64("clips_succeeded", snap.SucceededClips),
			logger.Float64("clips_failed", snap.FailedClips),
			logger.Float64("batches", snap.Batches))
	}, nil
}

// WriteInvalidSamples writes the failed clips of table to path. An empty
// path does nothing.
func WriteInvalidSamples(path string, table *inference.ResultsTable) error {
	if path == "" || table == nil {
		return nil
	}
	file, err := os.Create(path) //nolint:gosec // G304: user supplied output path
	if err != nil {
		return errors.New(err).
			Component("analysis").
			Category(errors.CategoryFileIO).
			FileContext(path).
			Build()
	}
	if err := table.WriteInvalidSamples(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
