package health

import (
	"math"
	"runtime"
	"time"
)

// RuntimeStats is a snapshot of process resource usage reported on /health.
type RuntimeStats struct {
	Goroutines       int       `json:"goroutines"`
	MemoryAllocated  uint64    `json:"memory_allocated_bytes"`
	MemorySystem     uint64    `json:"memory_system_bytes"`
	MemoryHeapInUse  uint64    `json:"memory_heap_inuse_bytes"`
	MemoryStackInUse uint64    `json:"memory_stack_inuse_bytes"`
	GCCycles         uint32    `json:"gc_cycles"`
	GCPauseTotal     uint64    `json:"gc_pause_total_ns"`
	LastGCTime       time.Time `json:"last_gc_time"`
}

// ReadRuntimeStats collects the current runtime statistics.
func ReadRuntimeStats() RuntimeStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var lastGCTime time.Time
	if memStats.LastGC > 0 {
		gcNano := memStats.LastGC
		if gcNano <= math.MaxInt64 {
			lastGCTime = time.Unix(0, int64(gcNano))
		} else {
			lastGCTime = time.Unix(0, math.MaxInt64)
		}
	}

	return RuntimeStats{
		Goroutines:       runtime.NumGoroutine(),
		MemoryAllocated:  memStats.Alloc,
		MemorySystem:     memStats.Sys,
		MemoryHeapInUse:  memStats.HeapInuse,
		MemoryStackInUse: memStats.StackInuse,
		GCCycles:         memStats.NumGC,
		GCPauseTotal:     memStats.PauseTotalNs,
		LastGCTime:       lastGCTime,
	}
}
