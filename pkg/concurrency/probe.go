package concurrency

import "runtime"

// bytesPerMiB converts byte counts to MiB.
const bytesPerMiB = 1 << 20

// MemoryProbe reports the process's resident memory.
type MemoryProbe interface {
	ResidentMB() float64
}

// MemoryProbeFunc adapts a function to MemoryProbe.
type MemoryProbeFunc func() float64

// ResidentMB implements MemoryProbe.
func (f MemoryProbeFunc) ResidentMB() float64 { return f() }

// RuntimeProbe reads memory obtained from the OS by the Go runtime.
// MemStats.Sys is an upper bound on the heap, stacks and runtime metadata
// actually mapped, which is what a memory-constrained host cares about.
type RuntimeProbe struct{}

// ResidentMB implements MemoryProbe.
func (RuntimeProbe) ResidentMB() float64 {
	var ms runtime.MemStats

	runtime.ReadMemStats(&ms)

	return float64(ms.Sys) / bytesPerMiB
}
