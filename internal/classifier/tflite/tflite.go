// Package tflite implements inference.Classifier on a TensorFlow Lite model
// whose first input takes one preprocessed clip and whose first output holds
// one score per class.
package tflite

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates/xnnpack"

	"github.com/tphakala/clipscan/internal/classifier"
	"github.com/tphakala/clipscan/internal/cpuspec"
	"github.com/tphakala/clipscan/internal/errors"
	"github.com/tphakala/clipscan/internal/inference"
	"github.com/tphakala/clipscan/internal/logger"
	"github.com/tphakala/clipscan/internal/preprocess"
)

// Config selects the model and interpreter settings.
type Config struct {
	ModelPath  string
	LabelPath  string
	Labels     []string // used when LabelPath is empty
	Threads    int      // 0 picks a count from the CPU topology
	UseXNNPACK bool
}

// Classifier runs a TFLite interpreter. The interpreter is not reentrant, so
// Predict holds a lock for the whole batch.
type Classifier struct {
	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	labels      []string
	inputSize   int
	threads     int
}

var _ inference.Classifier = (*Classifier)(nil)

// New loads the model and labels and checks that the model output matches
// the label count.
func New(cfg Config) (*Classifier, error) {
	start := time.Now()
	log := classifier.GetLogger()

	labels := cfg.Labels
	if cfg.LabelPath != "" {
		var err error
		if labels, err = classifier.LoadLabelFile(cfg.LabelPath); err != nil {
			return nil, err
		}
	}
	if len(labels) == 0 {
		return nil, errors.Newf("no class labels configured").
			Component("tflite").
			Category(errors.CategoryLabelLoad).
			Build()
	}

	modelData, err := os.ReadFile(cfg.ModelPath)
	if err != nil {
		return nil, errors.New(err).
			Component("tflite").
			Category(errors.CategoryModelLoad).
			FileContext(cfg.ModelPath).
			Timing("model-load", time.Since(start)).
			Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.Newf("cannot load TensorFlow Lite model").
			Component("tflite").
			Category(errors.CategoryModelInit).
			Context("model_path", cfg.ModelPath).
			Context("model_size_mb", len(modelData)/1024/1024).
			Timing("model-init", time.Since(start)).
			Build()
	}

	threads := cpuspec.GetCPUSpec().ThreadCount(cfg.Threads)
	options := tflite.NewInterpreterOptions()
	if cfg.UseXNNPACK {
		delegate := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, threads-1))}) //nolint:gosec // G115: thread count bounded by CPU count
		if delegate == nil {
			log.Warn("Failed to create XNNPACK delegate, falling back to default CPU")
			options.SetNumThread(threads)
		} else {
			options.AddDelegate(delegate)
			options.SetNumThread(1)
		}
	} else {
		options.SetNumThread(threads)
	}
	options.SetErrorReporter(func(msg string, _ any) {
		classifier.GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	c := &Classifier{model: model, options: options, labels: labels, threads: threads}
	c.interpreter = tflite.NewInterpreter(model, options)
	if c.interpreter == nil {
		c.Close()
		return nil, errors.Newf("cannot create TensorFlow Lite interpreter").
			Component("tflite").
			Category(errors.CategoryModelInit).
			Context("model_path", cfg.ModelPath).
			Build()
	}
	if status := c.interpreter.AllocateTensors(); status != tflite.OK {
		c.Close()
		return nil, errors.Newf("tensor allocation failed: %v", status).
			Component("tflite").
			Category(errors.CategoryModelInit).
			Context("model_path", cfg.ModelPath).
			Build()
	}

	if err := c.validate(); err != nil {
		c.Close()
		return nil, err
	}

	// TFLite keeps its own copy of the model buffer
	runtime.GC()

	log.Info("TFLite classifier initialized",
		logger.String("model", cfg.ModelPath),
		logger.Int("classes", len(labels)),
		logger.Int("input_size", c.inputSize),
		logger.Int("threads", threads),
		logger.Bool("xnnpack", cfg.UseXNNPACK),
		logger.Duration("load_time", time.Since(start)))
	return c, nil
}

func (c *Classifier) validate() error {
	input := c.interpreter.GetInputTensor(0)
	output := c.interpreter.GetOutputTensor(0)
	if input == nil || output == nil {
		return errors.Newf("model has no input or output tensor").
			Component("tflite").
			Category(errors.CategoryValidation).
			Build()
	}
	c.inputSize = len(input.Float32s())

	outputSize := output.Dim(output.NumDims() - 1)
	if outputSize != len(c.labels) {
		return errors.Newf("label count mismatch: model expects %d classes but %d labels are configured", outputSize, len(c.labels)).
			Component("tflite").
			Category(errors.CategoryValidation).
			Context("expected_labels", outputSize).
			Context("actual_labels", len(c.labels)).
			Build()
	}
	return nil
}

// Classes returns the label list in output order.
func (c *Classifier) Classes() []string {
	return append([]string(nil), c.labels...)
}

// InputSize returns the number of float32 values the model takes per clip.
func (c *Classifier) InputSize() int {
	return c.inputSize
}

// Predict invokes the interpreter once per tensor. A tensor whose length does
// not match the model input fails the whole batch.
func (c *Classifier) Predict(ctx context.Context, batch []*preprocess.Tensor) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interpreter == nil {
		return nil, &inference.InferenceBackendError{Op: "predict", Err: fmt.Errorf("classifier is closed")}
	}

	out := make([][]float32, len(batch))
	for i, tensor := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if tensor.Len() != c.inputSize {
			return nil, &inference.InferenceBackendError{
				Op:  "copy input",
				Err: fmt.Errorf("tensor %d has %d values, model input takes %d", i, tensor.Len(), c.inputSize),
			}
		}

		input := c.interpreter.GetInputTensor(0)
		copy(input.Float32s(), tensor.Data)
		if status := c.interpreter.Invoke(); status != tflite.OK {
			return nil, &inference.InferenceBackendError{Op: "invoke", Err: fmt.Errorf("tensor invoke failed: %v", status)}
		}

		output := c.interpreter.GetOutputTensor(0)
		scores := make([]float32, output.Dim(output.NumDims()-1))
		copy(scores, output.Float32s())
		out[i] = scores
	}
	return out, nil
}

// Close releases the interpreter and model.
func (c *Classifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interpreter != nil {
		c.interpreter.Delete()
		c.interpreter = nil
	}
	if c.options != nil {
		c.options.Delete()
		c.options = nil
	}
	if c.model != nil {
		c.model.Delete()
		c.model = nil
	}
}
