package cpuspec

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPerformanceCores(t *testing.T) {
	t.Parallel()

	tests := []struct {
		brand string
		want  int
	}{
		{"12th Gen Intel(R) Core(TM) i9-12900K", 8},
		{"13th Gen Intel(R) Core(TM) i5-13600K", 6},
		{"14th Gen Intel(R) Core(TM) i3-14100", 4},
		{"Intel(R) Core(TM) Ultra 7 265K", 8},
		{"Intel(R) Core(TM) Ultra 5 Processor 225", 4},
		{"Apple M1", 4},
		{"Apple M2 Max", 12},
		{"Apple  M4   Pro", 8},
		{"Intel(R) Core(TM) i7-8700K CPU @ 3.70GHz", 0},
		{"AMD Ryzen 9 7950X 16-Core Processor", 0},
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(tt.brand, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, PerformanceCores(tt.brand))
		})
	}
}

func TestThreadCount(t *testing.T) {
	t.Parallel()

	cpus := runtime.NumCPU()

	hybrid := CPUSpec{PerformanceCores: 1, LogicalCores: 64}
	assert.Equal(t, 1, hybrid.GetOptimalThreadCount())
	assert.Equal(t, 1, hybrid.ThreadCount(0))

	plain := CPUSpec{LogicalCores: 1}
	assert.Equal(t, 1, plain.GetOptimalThreadCount())

	unknown := CPUSpec{}
	assert.Equal(t, cpus, unknown.GetOptimalThreadCount())
	assert.Equal(t, cpus, unknown.ThreadCount(cpus+100), "capped at available CPUs")
	assert.Equal(t, 1, unknown.ThreadCount(1))
	assert.Equal(t, cpus, unknown.DefaultWorkers())
}

func TestGetCPUSpec(t *testing.T) {
	t.Parallel()

	spec := GetCPUSpec()
	assert.Positive(t, spec.GetOptimalThreadCount())
	assert.LessOrEqual(t, spec.GetOptimalThreadCount(), runtime.NumCPU())
	if spec.PerformanceCores > 0 {
		assert.True(t, spec.Hybrid)
	}
}
