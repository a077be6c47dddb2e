// Package mlfqs implements the pure arithmetic of the multi-level feedback
// queue scheduler: load average, recent CPU decay, and the derived
// priority formula. It knows nothing about threads, tables, or gates —
// timer.Tick calls these functions once per bookkeeping interval and
// writes the results back onto the thread table itself.
package mlfqs

import "github.com/nbtaylor/gophertos/fixedpoint"

// fiftyNineSixtieths and oneSixtieth are the load-average decay weights,
// computed once rather than re-derived on every call.
var (
	fiftyNineSixtieths = fixedpoint.Div(fixedpoint.FromInt(59), fixedpoint.FromInt(60))
	oneSixtieth        = fixedpoint.Div(fixedpoint.FromInt(1), fixedpoint.FromInt(60))
)

// LoadAvg computes the next system load average from the previous value
// and the number of threads that are RUNNING or READY (idle excluded),
// sampled once per second:
//
//	load_avg := (59/60)*load_avg + (1/60)*ready_threads
func LoadAvg(prev fixedpoint.FP, readyThreads int) fixedpoint.FP {
	decayed := fixedpoint.Mul(fiftyNineSixtieths, prev)
	contribution := fixedpoint.MulInt(oneSixtieth, readyThreads)
	return fixedpoint.Add(decayed, contribution)
}

// RecentCPU computes a thread's next recent_cpu value from its previous
// value, the current system load average, and its nice value, sampled
// once per second:
//
//	recent_cpu := (2*load_avg)/(2*load_avg+1) * recent_cpu + nice
//
// The per-tick +1 for the currently running thread is applied directly by
// timer.Tick, not here, since it happens every tick rather than every
// second.
func RecentCPU(prev, loadAvg fixedpoint.FP, nice int) fixedpoint.FP {
	twoLoadAvg := fixedpoint.MulInt(loadAvg, 2)
	coefficient := fixedpoint.Div(twoLoadAvg, fixedpoint.AddInt(twoLoadAvg, 1))
	return fixedpoint.AddInt(fixedpoint.Mul(coefficient, prev), nice)
}

// Priority derives a thread's MLFQS priority from its recent_cpu and nice
// value, clamped to [min, max]:
//
//	priority := PRI_MAX - (recent_cpu/4) - (nice*2)
func Priority(recentCPU fixedpoint.FP, nice, min, max int) int {
	p := max - fixedpoint.ToIntRound(fixedpoint.DivInt(recentCPU, 4)) - nice*2
	if p < min {
		return min
	}
	if p > max {
		return max
	}
	return p
}
