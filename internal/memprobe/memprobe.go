// Package memprobe reports host memory pressure to the resource cache.
package memprobe

import "runtime"

// HeapProbe reports pressure when the live heap crosses a ratio of a
// soft limit. With no limit configured it uses the next-GC goal as the
// reference, which tracks the runtime's own pacing.
type HeapProbe struct {
	// SoftLimitBytes is the heap budget. 0 means use the runtime's
	// next-GC target.
	SoftLimitBytes uint64

	// Ratio is the fraction of the budget at which pressure is
	// reported, e.g. 0.85.
	Ratio float64
}

// UnderPressure reads current heap usage and compares it to the budget.
func (p *HeapProbe) UnderPressure() bool {
	ratio := p.Ratio
	if ratio <= 0 {
		ratio = 0.85
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	limit := p.SoftLimitBytes
	if limit == 0 {
		limit = ms.NextGC
	}
	if limit == 0 {
		return false
	}
	return float64(ms.HeapAlloc) >= float64(limit)*ratio
}

// Func adapts a plain function to the cache's probe interface, used in
// tests and for host-supplied probes.
type Func func() bool

// UnderPressure calls the wrapped function.
func (f Func) UnderPressure() bool { return f() }
