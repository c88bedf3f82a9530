// Package benchmark - Scenario suites over the workload catalog and their reports.
package benchmark

import (
	"time"

	"github.com/nvr-ai/go-gpuperf/profiler"
)

// PerformanceMetrics captures the outcome of one scenario.
type PerformanceMetrics struct {
	Scenario        Scenario       `json:"scenario"         yaml:"scenario"`
	Timestamp       time.Time      `json:"timestamp"        yaml:"timestamp"`
	TotalDuration   time.Duration  `json:"total_duration"   yaml:"total_duration"`
	Frames          int            `json:"frames"           yaml:"frames"`
	FramesPerSecond float64        `json:"frames_per_second" yaml:"frames_per_second"`
	FrequencyHz     uint64         `json:"frequency_hz"     yaml:"frequency_hz"`
	Measurements    int64          `json:"measurements"     yaml:"measurements"`
	Dropped         int64          `json:"dropped"          yaml:"dropped"`
	DeviceLosses    int64          `json:"device_losses"    yaml:"device_losses"`
	Labels          []LabelMetrics `json:"labels"           yaml:"labels"`
	MemoryStats     MemoryMetrics  `json:"memory_stats"     yaml:"memory_stats"`
	CPUStats        CPUMetrics     `json:"cpu_stats"        yaml:"cpu_stats"`
}

// LabelMetrics are the GPU durations of one workload in milliseconds.
type LabelMetrics struct {
	Label   string  `json:"label"   yaml:"label"`
	Count   int64   `json:"count"   yaml:"count"`
	Dropped int64   `json:"dropped" yaml:"dropped"`
	Min     float64 `json:"min_ms"  yaml:"min_ms"`
	Max     float64 `json:"max_ms"  yaml:"max_ms"`
	Avg     float64 `json:"avg_ms"  yaml:"avg_ms"`
	P50     float64 `json:"p50_ms"  yaml:"p50_ms"`
	P95     float64 `json:"p95_ms"  yaml:"p95_ms"`
	// Share is this label's fraction of the summed average frame time.
	Share float64 `json:"share" yaml:"share"`
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"       yaml:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes" yaml:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"         yaml:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"            yaml:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"  yaml:"heap_alloc_bytes"`
	HeapSysBytes    uint64 `json:"heap_sys_bytes"    yaml:"heap_sys_bytes"`
}

// CPUMetrics captures CPU usage statistics
type CPUMetrics struct {
	NumCPU       int `json:"num_cpu"       yaml:"num_cpu"`
	NumGoroutine int `json:"num_goroutine" yaml:"num_goroutine"`
}

// LabelMetricsFrom converts profiler statistics, filling in each label's share
// of the total average time.
func LabelMetricsFrom(stats []profiler.LabelStats) []LabelMetrics {
	var total float64
	for _, s := range stats {
		total += s.Avg
	}

	out := make([]LabelMetrics, len(stats))
	for i, s := range stats {
		out[i] = LabelMetrics{
			Label:   s.Label,
			Count:   s.Count,
			Dropped: s.Dropped,
			Min:     s.Min,
			Max:     s.Max,
			Avg:     s.Avg,
			P50:     s.P50,
			P95:     s.P95,
		}
		if total > 0 {
			out[i].Share = s.Avg / total
		}
	}
	return out
}
