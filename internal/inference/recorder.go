package inference

// Status values passed to a Recorder.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Recorder receives run statistics. metrics.InferenceMetrics implements it.
type Recorder interface {
	// RunStarted and RunFinished bracket every run.
	RunStarted()
	RunFinished(status string)
	// RecordBatch reports a completed batch with its wall time in seconds,
	// covering retrieval and classification.
	RecordBatch(status string, clips int, seconds float64)
	// RecordClassifier reports the duration of one classifier invocation.
	RecordClassifier(seconds float64)
	// RecordClip reports the outcome of one clip. failureKind is empty for
	// scored clips.
	RecordClip(status, failureKind string)
}

type nopRecorder struct{}

func (nopRecorder) RunStarted()                      {}
func (nopRecorder) RunFinished(string)               {}
func (nopRecorder) RecordBatch(string, int, float64) {}
func (nopRecorder) RecordClassifier(float64)         {}
func (nopRecorder) RecordClip(string, string)        {}
