package predict

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tphakala/clipscan/internal/analysis"
	"github.com/tphakala/clipscan/internal/classifier/tflite"
	"github.com/tphakala/clipscan/internal/conf"
	"github.com/tphakala/clipscan/internal/errors"
	"github.com/tphakala/clipscan/internal/inference"
)

// Command creates the predict command that scores every clip of the given
// audio files or directories.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict [files or directories...]",
		Short: "Classify the clips of audio files",
		Long: `Split each recording into fixed-length clips, run them through the
preprocessing pipeline and score every clip with a TFLite model.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, conf.GetSettings(), args)
		},
	}

	setupFlags(cmd)

	return cmd
}

// setupFlags configures flags specific to the predict command.
func setupFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	f.Float64("clip-duration", 3.0, "Clip length in seconds")
	f.Float64("clip-overlap", 0.0, "Overlap between consecutive clips in seconds")
	f.String("edge-policy", "pad", "Handling of the final clip: pad, drop_partial, keep_partial or full")
	f.Int("batch-size", 32, "Number of clips per inference batch")
	f.Int("workers", 0, "Decode and preprocess workers (0 = one per CPU)")
	f.String("activation", "sigmoid", "Score activation: sigmoid, softmax, softmax_and_logit or none")
	f.Float64("sensitivity", 1.0, "Sigmoid sensitivity between 0.1 and 1.5")
	f.Float64("threshold", 0.5, "Minimum score reported as a detection")
	f.Bool("single-target", false, "Report only the highest scoring class per clip")
	f.Uint64("seed", 0, "Seed for randomized preprocessing steps")
	f.String("model", "", "Path to the TFLite model file")
	f.String("labels", "", "Path to the label file")
	f.Int("threads", 0, "Interpreter threads (0 = derived from the CPU)")
	f.String("pipeline", "", "Path to a YAML pipeline definition")
	f.StringP("format", "f", analysis.FormatCSV, "Output format: csv or table")
	f.StringP("output", "o", "", "Output file (default: stdout)")
	f.String("invalid-samples", "", "File listing clips that failed")
	f.Bool("metrics", false, "Serve Prometheus metrics while running")
	f.String("metrics-listen", "127.0.0.1:9090", "Metrics listen address")

	for name, key := range map[string]string{
		"clip-duration":   "window.clipduration",
		"clip-overlap":    "window.clipoverlap",
		"edge-policy":     "window.edgepolicy",
		"batch-size":      "inference.batchsize",
		"workers":         "inference.workers",
		"activation":      "inference.activation",
		"sensitivity":     "inference.sensitivity",
		"threshold":       "inference.threshold",
		"single-target":   "inference.singletarget",
		"seed":            "inference.seed",
		"model":           "model.path",
		"labels":          "model.labelpath",
		"threads":         "model.threads",
		"pipeline":        "pipeline.definition",
		"format":          "output.format",
		"output":          "output.path",
		"invalid-samples": "output.invalidsamples",
		"metrics":         "metrics.enabled",
		"metrics-listen":  "metrics.listen",
	} {
		conf.MapFlag(f, name, key)
	}
}

func run(ctx context.Context, settings *conf.Settings, paths []string) error {
	if settings == nil {
		return fmt.Errorf("settings not loaded")
	}
	if settings.Model.Path == "" {
		return errors.Newf("no model configured, set --model or model.path").
			Component("predict").
			Category(errors.CategoryConfiguration).
			Build()
	}

	writer, err := analysis.NewResultWriter(settings.Output.Format, settings.Inference.Threshold, settings.Inference.SingleTarget)
	if err != nil {
		return err
	}

	table, runErr := analysis.Predict(ctx, settings, paths, newTFLiteClassifier)
	if runErr != nil && !errors.Is(runErr, inference.ErrCancelledRun) {
		return runErr
	}
	if table == nil {
		return runErr
	}

	// A cancelled run still reports the batches it completed
	if err := writer.WriteFile(settings.Output.Path, table); err != nil {
		return err
	}
	if err := analysis.WriteInvalidSamples(settings.Output.InvalidSamples, table); err != nil {
		return err
	}
	return runErr
}

func newTFLiteClassifier(model conf.ModelSettings) (inference.Classifier, func(), error) {
	c, err := tflite.New(tflite.Config{
		ModelPath:  model.Path,
		LabelPath:  model.LabelPath,
		Threads:    model.Threads,
		UseXNNPACK: model.UseXNNPACK,
	})
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}
