// Package timer implements the alarm clock and the per-tick scheduler
// bookkeeping: the sleep list threads block on via Sleep, and Tick, the
// handler a driver goroutine calls once per simulated timer interrupt.
package timer

import (
	"github.com/rs/zerolog"

	"github.com/nbtaylor/gophertos/fixedpoint"
	"github.com/nbtaylor/gophertos/ilist"
	"github.com/nbtaylor/gophertos/irq"
	"github.com/nbtaylor/gophertos/kthread"
	"github.com/nbtaylor/gophertos/mlfqs"
)

// TimeSlice is how many consecutive ticks a thread may hold the CPU
// before Tick requests a yield on its behalf, independent of whether a
// higher-priority thread is ready (that case is caught live by every
// CheckShouldYield call, regardless of this counter).
const TimeSlice = 4

// Config configures a Timer.
type Config struct {
	FrequencyHz int  // ticks per second; load_avg/recent_cpu recompute every FrequencyHz ticks
	MLFQSMode   bool // when true, priorities are recomputed from recent_cpu every 4 ticks
}

// DefaultConfig matches spec: 100Hz, priority donation (not MLFQS) by
// default.
func DefaultConfig() Config {
	return Config{FrequencyHz: 100, MLFQSMode: false}
}

// Timer owns the monotonic tick counter, the sleep list, and the system
// load average (consumed only by MLFQS).
type Timer struct {
	gate *irq.Gate
	tb   *kthread.Table
	cfg  Config
	log  zerolog.Logger

	ticks    uint64
	sleeping *ilist.List // of *kthread.Thread, ascending by WakeTick

	loadAvg fixedpoint.FP

	lastTID        kthread.TID
	ticksOnCurrent int
}

// New constructs a Timer bound to the given gate and thread table. Both
// must be the same instances the rest of the kernel was wired with: the
// sleep list and tick counter are shared state guarded by that gate, same
// as everything in kthread.Table.
func New(gate *irq.Gate, tb *kthread.Table, cfg Config, log zerolog.Logger) *Timer {
	return &Timer{
		gate:     gate,
		tb:       tb,
		cfg:      cfg,
		log:      log,
		sleeping: ilist.New(),
		lastTID:  kthread.TIDError,
	}
}

func sleepLess(a, b any) bool {
	return a.(*kthread.Thread).WakeTick() < b.(*kthread.Thread).WakeTick()
}

// Ticks returns the number of timer ticks since boot.
func (tm *Timer) Ticks() uint64 {
	old := tm.gate.Disable()
	defer tm.gate.Enable(old)
	return tm.ticks
}

// LoadAvg returns the current system load average. Tick recomputes it once
// per second in either scheduling mode; only MLFQS makes use of it.
func (tm *Timer) LoadAvg() fixedpoint.FP {
	old := tm.gate.Disable()
	defer tm.gate.Enable(old)
	return tm.loadAvg
}

// Sleep blocks the calling thread for at least n ticks. A non-positive n
// is a no-op, matching spec's "never block for a non-positive duration".
// Must be called with interrupts enabled; restores the caller's interrupt
// level via defer on every exit path, including a panic unwinding through
// it.
func (tm *Timer) Sleep(n int64) {
	if n <= 0 {
		return
	}

	old := tm.gate.Disable()
	defer tm.gate.Enable(old)

	cur := tm.tb.Current()
	cur.SetSleepUntil(tm.ticks + uint64(n))
	tm.sleeping.InsertOrdered(cur, sleepLess)
	tm.tb.Block()
	cur.ClearSleep()
}

// Tick advances the clock by one and runs the per-tick scheduler
// bookkeeping described in spec: charge the running thread's recent_cpu,
// drain the sleep list, and — once a second, or every 4 ticks in MLFQS
// mode — recompute load average, recent_cpu, and derived priorities. Tick
// never blocks, allocates off the fast paths, or calls Yield directly; it
// only ever sets the deferred-yield flag, since nothing can forcibly
// suspend a running goroutine the way a hardware interrupt preempts a
// CPU. Holds the gate for its entire duration, so it must only ever call
// kthread.Table's Locked-suffixed methods, never ones that re-disable
// interrupts themselves.
func (tm *Timer) Tick() {
	old := tm.gate.Disable()
	defer tm.gate.Enable(old)

	tm.ticks++

	cur := tm.tb.Current()
	if cur != tm.tb.Idle() {
		cur.RecentCPU = toKthread(fixedpoint.AddInt(toFP(cur.RecentCPU), 1))
	}

	tm.drainSleepListLocked()

	if tm.cfg.FrequencyHz > 0 && tm.ticks%uint64(tm.cfg.FrequencyHz) == 0 {
		tm.recomputeLoadAndCPULocked()
	}

	if tm.cfg.MLFQSMode && tm.ticks%4 == 0 {
		tm.recomputePrioritiesLocked()
	}

	tm.chargeTimeSliceLocked(cur)
}

func (tm *Timer) drainSleepListLocked() {
	for {
		front := tm.sleeping.Front()
		if front == nil {
			return
		}
		t := front.Value().(*kthread.Thread)
		if t.WakeTick() > tm.ticks {
			return
		}
		tm.sleeping.Remove(front)
		tm.tb.UnblockLocked(t)
		tm.log.Debug().Int("tid", int(t.TID)).Uint64("tick", tm.ticks).Msg("woke sleeping thread")
	}
}

func (tm *Timer) recomputeLoadAndCPULocked() {
	ready := tm.tb.ReadyLocked()
	readyThreads := len(ready)
	if tm.tb.Current() != tm.tb.Idle() {
		readyThreads++
	}
	tm.loadAvg = mlfqs.LoadAvg(tm.loadAvg, readyThreads)

	idle := tm.tb.Idle()
	for _, t := range tm.tb.AllLocked() {
		if t == idle {
			continue
		}
		t.RecentCPU = toKthread(mlfqs.RecentCPU(toFP(t.RecentCPU), tm.loadAvg, t.Nice))
	}
}

func (tm *Timer) recomputePrioritiesLocked() {
	idle := tm.tb.Idle()
	for _, t := range tm.tb.AllLocked() {
		if t == idle {
			continue
		}
		p := mlfqs.Priority(toFP(t.RecentCPU), t.Nice, kthread.PriorityMin, kthread.PriorityMax)
		tm.tb.SetDerivedPriority(t, p)
	}
}

// chargeTimeSliceLocked requests a yield once the running thread has held
// the CPU for TimeSlice consecutive ticks, giving equal-priority CPU-bound
// threads a chance to round-robin even absent any higher-priority
// contender.
func (tm *Timer) chargeTimeSliceLocked(cur *kthread.Thread) {
	if cur.TID == tm.lastTID {
		tm.ticksOnCurrent++
	} else {
		tm.lastTID = cur.TID
		tm.ticksOnCurrent = 1
	}
	if tm.ticksOnCurrent >= TimeSlice {
		tm.tb.RequestYield()
		tm.ticksOnCurrent = 0
	}
}

func toFP(x kthread.FixedPoint) fixedpoint.FP      { return fixedpoint.FP(x) }
func toKthread(x fixedpoint.FP) kthread.FixedPoint { return kthread.FixedPoint(x) }
