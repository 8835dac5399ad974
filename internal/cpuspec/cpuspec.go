// Package cpuspec probes the host CPU to size interpreter threads and clip
// retrieval workers.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName        string
	PhysicalCores    int
	LogicalCores     int
	PerformanceCores int // 0 when the part is unknown or not hybrid
	Hybrid           bool
	TotalMemory      uint64 // bytes, 0 when unknown
}

// P-core counts of hybrid desktop parts keyed by model number.
var intelCorePCores = map[string]int{
	"12900": 8, "12700": 8, "12600": 6, "12400": 6, "12100": 4,
	"13900": 8, "13700": 8, "13600": 6, "13500": 6, "13400": 6,
	"14900": 8, "14700": 8, "14600": 6, "14400": 6, "14100": 4,
}

var intelUltraPCores = map[string]int{
	"9 285": 8,
	"7 265": 8, "7 255": 8,
	"5 235": 6, "5 225": 4,
}

// Pro parts ship in two configurations; the larger one is listed.
var applePCores = map[string]int{
	"m1": 4, "m1 pro": 8, "m1 max": 8, "m1 ultra": 16,
	"m2": 4, "m2 pro": 8, "m2 max": 12, "m2 ultra": 24,
	"m3": 4, "m3 pro": 8, "m3 max": 12, "m3 ultra": 24,
	"m4": 6, "m4 pro": 8, "m4 max": 12,
}

var (
	intelCoreRegex  = regexp.MustCompile(`intel.*core.*i[3579]-(\d{5})`)
	intelUltraRegex = regexp.MustCompile(`intel.*core.*ultra\s+([579])\s+(?:processor\s+)?(\d{3})`)
	appleRegex      = regexp.MustCompile(`apple\s+(m[1-4](?:\s*(?:pro|max|ultra))?)`)
	spaces          = regexp.MustCompile(`\s+`)
)

// GetCPUSpec returns the CPU specification of the host. cpuid supplies the
// brand and topology; gopsutil fills in core counts cpuid cannot read, as on
// most ARM systems, and the installed memory.
func GetCPUSpec() CPUSpec {
	spec := CPUSpec{
		BrandName:     cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		Hybrid:        cpuid.CPU.Supports(cpuid.HYBRID_CPU),
	}

	if spec.BrandName == "" {
		if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
			spec.BrandName = infos[0].ModelName
		}
	}
	if spec.PhysicalCores <= 0 {
		if n, err := cpu.Counts(false); err == nil {
			spec.PhysicalCores = n
		}
	}
	if spec.LogicalCores <= 0 {
		if n, err := cpu.Counts(true); err == nil {
			spec.LogicalCores = n
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		spec.TotalMemory = vm.Total
	}

	spec.PerformanceCores = PerformanceCores(spec.BrandName)
	if spec.PerformanceCores > 0 {
		spec.Hybrid = true
	}
	return spec
}

// PerformanceCores returns the number of performance cores of a known hybrid
// CPU brand string, or 0.
func PerformanceCores(brandName string) int {
	brand := spaces.ReplaceAllString(strings.ToLower(brandName), " ")

	if m := intelUltraRegex.FindStringSubmatch(brand); m != nil {
		return intelUltraPCores[m[1]+" "+m[2]]
	}
	if m := intelCoreRegex.FindStringSubmatch(brand); m != nil {
		return intelCorePCores[m[1]]
	}
	if m := appleRegex.FindStringSubmatch(brand); m != nil {
		return applePCores[m[1]]
	}
	return 0
}

// GetOptimalThreadCount returns the recommended number of interpreter
// threads: the performance cores on hybrid parts, otherwise every logical
// core, never more than the CPUs available to the process.
func (c CPUSpec) GetOptimalThreadCount() int {
	available := runtime.NumCPU()
	if c.PerformanceCores > 0 {
		return min(c.PerformanceCores, available)
	}
	if c.LogicalCores > 0 {
		return min(c.LogicalCores, available)
	}
	return available
}

// ThreadCount resolves a configured interpreter thread count. Zero selects
// the optimal count; larger values are capped at the available CPUs.
func (c CPUSpec) ThreadCount(configured int) int {
	available := runtime.NumCPU()
	if configured <= 0 {
		return c.GetOptimalThreadCount()
	}
	return min(configured, available)
}

// DefaultWorkers returns the default number of clip retrieval workers. Decode
// and transform work scales with every logical CPU.
func (c CPUSpec) DefaultWorkers() int {
	return max(1, runtime.NumCPU())
}
