package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, cfg *LoggingConfig) (*CentralLogger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	cl, err := NewCentralLogger(cfg, WithConsoleWriter(buf))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cl.Close() })
	return cl, buf
}

func TestModuleLevels(t *testing.T) {
	t.Parallel()

	cl, buf := newBufferLogger(t, &LoggingConfig{
		DefaultLevel: "warn",
		Console:      &ConsoleOutput{Enabled: true, Level: "trace"},
		ModuleLevels: map[string]string{"dataset": "debug"},
	})

	inference := cl.Module("inference")
	inference.Info("hidden info")
	inference.Warn("visible warn")

	dataset := cl.Module("dataset")
	dataset.Trace("hidden trace")
	dataset.Debug("visible debug")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible warn")
	assert.Contains(t, out, "visible debug")
	assert.Contains(t, out, "module=dataset")
	assert.NotContains(t, out, "time=", "console output omits timestamps")
}

func TestFieldsAndSubModules(t *testing.T) {
	t.Parallel()

	cl, buf := newBufferLogger(t, &LoggingConfig{DefaultLevel: "debug", Console: &ConsoleOutput{Enabled: true, Level: "debug"}})

	log := cl.Module("inference").Module("engine").With(String("run_id", "r-1"))
	log.Info("batch done",
		Int("batch", 2),
		Float64("score", 0.123456),
		Bool("ok", true),
		Duration("elapsed", 1500*time.Millisecond),
		Error(errors.New("boom")))

	out := buf.String()
	assert.Contains(t, out, "module=inference.engine")
	assert.Contains(t, out, "run_id=r-1")
	assert.Contains(t, out, "batch=2")
	assert.Contains(t, out, "score=0.123")
	assert.Contains(t, out, "ok=true")
	assert.Contains(t, out, "elapsed=1.5s")
	assert.Contains(t, out, "error=boom")
}

func TestWithContextTraceID(t *testing.T) {
	t.Parallel()

	cl, buf := newBufferLogger(t, &LoggingConfig{})
	ctx := WithTraceID(context.Background(), "trace-42")

	cl.Module("cmd").WithContext(ctx).Info("started")
	cl.Module("cmd").WithContext(context.Background()).Info("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "trace_id=trace-42")
	assert.NotContains(t, lines[1], "trace_id")
}

func TestFileOutputIsJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "run.log")
	cl, console := newBufferLogger(t, &LoggingConfig{
		DefaultLevel: "trace",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: true, Level: "error"},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "trace"},
	})

	cl.Module("windower").Log(LogLevelTrace, "computed windows", Int("count", 5))
	require.NoError(t, cl.Flush())
	require.NoError(t, cl.Close())

	assert.Empty(t, console.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "TRACE", entry["level"])
	assert.Equal(t, "computed windows", entry["msg"])
	assert.Equal(t, "windower", entry["module"])
	assert.EqualValues(t, 5, entry["count"])

	_, err = time.Parse(time.RFC3339, entry["time"].(string))
	assert.NoError(t, err)
}

func TestInvalidTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timezone")

	_, err = NewCentralLogger(nil)
	require.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, traceLevelValue, parseLogLevel("trace"))
	assert.Equal(t, parseLogLevel("info"), parseLogLevel("nonsense"))
}
