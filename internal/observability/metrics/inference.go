// Package metrics provides custom Prometheus metrics for clipscan.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// InferenceMetrics contains all Prometheus metrics related to inference runs.
// It implements inference.Recorder.
type InferenceMetrics struct {
	ClipsTotal         *prometheus.CounterVec
	ClipFailuresTotal  *prometheus.CounterVec
	BatchesTotal       *prometheus.CounterVec
	RunsTotal          *prometheus.CounterVec
	BatchDuration      prometheus.Histogram
	ClassifierDuration prometheus.Histogram
	ActiveRuns         prometheus.Gauge
}

// NewInferenceMetrics creates the inference metrics and registers them with
// registry.
func NewInferenceMetrics(registry prometheus.Registerer) (*InferenceMetrics, error) {
	m := &InferenceMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register inference metrics: %w", err)
	}
	return m, nil
}

func (m *InferenceMetrics) initMetrics() {
	m.ClipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipscan_clips_total",
			Help: "Total number of clips processed, partitioned by outcome.",
		},
		[]string{"status"},
	)
	m.ClipFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipscan_clip_failures_total",
			Help: "Total number of failed clips, partitioned by failure kind.",
		},
		[]string{"kind"},
	)
	m.BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipscan_batches_total",
			Help: "Total number of batches processed, partitioned by outcome.",
		},
		[]string{"status"},
	)
	m.RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipscan_runs_total",
			Help: "Total number of inference runs, partitioned by outcome.",
		},
		[]string{"status"},
	)
	m.BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clipscan_batch_duration_seconds",
			Help:    "Time taken to retrieve and classify one batch",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
	)
	m.ClassifierDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clipscan_classifier_duration_seconds",
			Help:    "Time taken for one classifier invocation",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
	)
	m.ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clipscan_active_runs",
			Help: "Number of inference runs in progress",
		},
	)
}

// RunStarted marks a run as active.
func (m *InferenceMetrics) RunStarted() {
	m.ActiveRuns.Inc()
}

// RunFinished records the outcome of a run and marks it inactive.
func (m *InferenceMetrics) RunFinished(status string) {
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(status).Inc()
}

// RecordBatch records a completed batch.
func (m *InferenceMetrics) RecordBatch(status string, _ int, seconds float64) {
	m.BatchesTotal.WithLabelValues(status).Inc()
	m.BatchDuration.Observe(seconds)
}

// RecordClassifier records one classifier invocation.
func (m *InferenceMetrics) RecordClassifier(seconds float64) {
	m.ClassifierDuration.Observe(seconds)
}

// RecordClip records the outcome of one clip.
func (m *InferenceMetrics) RecordClip(status, failureKind string) {
	m.ClipsTotal.WithLabelValues(status).Inc()
	if failureKind != "" {
		m.ClipFailuresTotal.WithLabelValues(failureKind).Inc()
	}
}

// Snapshot holds the current values of the inference counters.
type Snapshot struct {
	SucceededClips float64
	FailedClips    float64
	Batches        float64
	ActiveRuns     float64
}

// Snapshot reads the counters recorded so far.
func (m *InferenceMetrics) Snapshot() Snapshot {
	return Snapshot{
		SucceededClips: metricValue(m.ClipsTotal.WithLabelValues("success")),
		FailedClips:    metricValue(m.ClipsTotal.WithLabelValues("failed")),
		Batches: metricValue(m.BatchesTotal.WithLabelValues("success")) +
			metricValue(m.BatchesTotal.WithLabelValues("failed")),
		ActiveRuns: metricValue(m.ActiveRuns),
	}
}

// metricValue returns the value of a counter or gauge, or 0 if it cannot be
// read.
func metricValue(c prometheus.Metric) float64 {
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		return 0
	}
	switch {
	case metric.Counter != nil && metric.Counter.Value != nil:
		return *metric.Counter.Value
	case metric.Gauge != nil && metric.Gauge.Value != nil:
		return *metric.Gauge.Value
	}
	return 0
}

// Describe implements the prometheus.Collector interface.
func (m *InferenceMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ClipsTotal.Describe(ch)
	m.ClipFailuresTotal.Describe(ch)
	m.BatchesTotal.Describe(ch)
	m.RunsTotal.Describe(ch)
	ch <- m.BatchDuration.Desc()
	ch <- m.ClassifierDuration.Desc()
	ch <- m.ActiveRuns.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *InferenceMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ClipsTotal.Collect(ch)
	m.ClipFailuresTotal.Collect(ch)
	m.BatchesTotal.Collect(ch)
	m.RunsTotal.Collect(ch)
	ch <- m.BatchDuration
	ch <- m.ClassifierDuration
	ch <- m.ActiveRuns
}
