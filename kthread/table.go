package kthread

import (
	"github.com/rs/zerolog"

	"github.com/nbtaylor/gophertos/ilist"
	"github.com/nbtaylor/gophertos/irq"
)

// Config tunes the thread table. Zero values are not valid; use
// DefaultConfig as a starting point.
type Config struct {
	// MaxThreads bounds the thread table, standing in for a real kernel's
	// fixed page pool: Create returns TIDError once this many live
	// threads exist.
	MaxThreads int
	// MLFQSMode disables priority donation (DonateTo changes nothing) and
	// makes SetPriority a no-op, since priorities are then derived instead
	// (see the mlfqs package and SetDerivedPriority).
	MLFQSMode bool
}

// DefaultConfig matches spec.md's defaults: donation enabled, a generous
// thread-table capacity.
func DefaultConfig() Config {
	return Config{MaxThreads: 4096, MLFQSMode: false}
}

// Table is the scheduler's global state: every live thread, the ready
// queue, and the currently running thread. All mutation happens with
// Gate held.
type Table struct {
	cfg  Config
	Gate *irq.Gate
	log  zerolog.Logger

	all   map[TID]*Thread
	ready *ilist.List // of *Thread, ordered by descending EffectivePriority

	current *Thread
	idle    *Thread

	nextTID TID

	yieldRequested bool
}

func readyLess(a, b any) bool {
	return a.(*Thread).effectivePriority > b.(*Thread).effectivePriority
}

// NewTable constructs an empty thread table. The caller must still call
// Bootstrap to install the initial ("main") thread before using any other
// operation.
func NewTable(cfg Config, gate *irq.Gate, log zerolog.Logger) *Table {
	return &Table{
		cfg:   cfg,
		Gate:  gate,
		log:   log.With().Str("component", "kthread").Logger(),
		all:   make(map[TID]*Thread),
		ready: ilist.New(),
	}
}

// Bootstrap installs the calling goroutine itself as the initial kernel
// thread (conventionally named "main"), RUNNING, so that every later
// Block/Yield/Sleep call has a valid "current" thread to switch away from.
// It must be called exactly once, before StartIdle.
func (tb *Table) Bootstrap(name string, priority int) *Thread {
	old := tb.Gate.Disable()
	defer tb.Gate.Enable(old)

	t := newThread(tb.nextTID, name, priority)
	t.status = Running
	tb.nextTID++
	tb.all[t.TID] = t
	tb.current = t
	return t
}

// StartIdle spawns the idle thread, the singleton that runs whenever no
// other thread is READY. It never appears in the ready queue; the
// scheduler selects it by default when the queue is empty.
func (tb *Table) StartIdle() *Thread {
	old := tb.Gate.Disable()
	t := newThread(tb.nextTID, "idle", PriorityMin)
	tb.nextTID++
	tb.all[t.TID] = t
	tb.idle = t
	tb.Gate.Enable(old)

	go func() {
		<-t.resume
		// Completes the handoff from whoever scheduled us in for the
		// first time: per spec.md §6, first entry lands with interrupts
		// enabled.
		tb.Gate.Enable(irq.Enabled)
		for {
			// The idle thread never blocks on its own account; it simply
			// yields the instant it is scheduled, so any READY thread
			// immediately preempts it again.
			tb.Yield()
		}
	}()
	return t
}

// Current returns the thread the scheduler considers RUNNING.
func (tb *Table) Current() *Thread {
	return tb.current
}

// All returns a snapshot slice of every live thread, for introspection and
// invariant checking.
func (tb *Table) All() []*Thread {
	old := tb.Gate.Disable()
	defer tb.Gate.Enable(old)
	out := make([]*Thread, 0, len(tb.all))
	for _, t := range tb.all {
		out = append(out, t)
	}
	return out
}

// Lookup returns the live thread with the given TID, or nil if it has
// exited or never existed. Used for introspection and by tests driving
// specific threads through a scenario.
func (tb *Table) Lookup(tid TID) *Thread {
	old := tb.Gate.Disable()
	defer tb.Gate.Enable(old)
	return tb.all[tid]
}

// Ready returns a snapshot of the ready queue, highest priority first.
func (tb *Table) Ready() []*Thread {
	old := tb.Gate.Disable()
	defer tb.Gate.Enable(old)
	vs := tb.ready.Values()
	out := make([]*Thread, len(vs))
	for i, v := range vs {
		out[i] = v.(*Thread)
	}
	return out
}

// Create allocates a new thread in Ready state, running entry(aux) once
// scheduled. If the new thread's priority exceeds the caller's, the
// caller yields immediately after creating it (spec.md §4.3).
func (tb *Table) Create(name string, priority int, entry func(aux any), aux any) TID {
	old := tb.Gate.Disable()
	if len(tb.all) >= tb.cfg.MaxThreads {
		tb.Gate.Enable(old)
		tb.log.Warn().Str("name", name).Msg("thread table full")
		return TIDError
	}

	t := newThread(tb.nextTID, name, priority)
	tb.nextTID++
	tb.all[t.TID] = t
	tb.readyLocked(t)
	tid := t.TID
	caller := tb.current
	tb.Gate.Enable(old)

	go func() {
		<-t.resume
		// Completes the handoff from whoever scheduled us in for the
		// first time: per spec.md §6, first entry lands with interrupts
		// enabled.
		tb.Gate.Enable(irq.Enabled)
		entry(aux)
		tb.Exit()
	}()

	tb.log.Debug().Int("tid", int(tid)).Str("name", name).Int("priority", priority).Msg("created")

	if priority > caller.effectivePriority {
		tb.Yield()
	}
	return tid
}

// readyLocked marks t Ready and inserts it into the ready queue. Caller
// must hold the gate.
func (tb *Table) readyLocked(t *Thread) {
	t.status = Ready
	t.readyElem = tb.ready.InsertOrdered(t, readyLess)
}

// Block transitions the running thread to BLOCKED and reschedules.
// Precondition: called by the running thread itself, interrupts already
// disabled by the caller (e.g. from within ksync.Semaphore.Down).
func (tb *Table) Block() {
	if tb.Gate.Current() != irq.Disabled {
		Fatal("Block called with interrupts enabled", tb.current)
	}
	tb.current.status = Blocked
	tb.reschedule()
}

// Unblock transitions t from BLOCKED to READY and inserts it into the
// ready queue in priority order. Does not preempt — callers decide
// whether a yield is warranted.
func (tb *Table) Unblock(t *Thread) {
	old := tb.Gate.Disable()
	defer tb.Gate.Enable(old)
	tb.unblockLocked(t)
}

func (tb *Table) unblockLocked(t *Thread) {
	if t.status != Blocked {
		Fatal("Unblock called on a thread that is not BLOCKED", t)
	}
	t.sleeping = false
	tb.readyLocked(t)
}

// Yield moves the running thread back to READY (ordered by priority) and
// reschedules. A no-op if no other thread is actually ready of equal or
// higher priority — the thread still goes through the ready queue so
// round-robin tie-breaking among equal priorities is honored.
func (tb *Table) Yield() {
	old := tb.Gate.Disable()
	cur := tb.current
	if cur != tb.idle {
		tb.readyLocked(cur)
	} else {
		// the idle thread is never tracked in the ready queue; it's
		// simply re-selected whenever nothing else is ready.
		cur.status = Ready
	}
	tb.reschedule()
	tb.Gate.Enable(old)
}

// SetPriority sets the running thread's base priority (clamped to
// [PriorityMin, PriorityMax] — see DESIGN.md's resolution of the
// "priority above PRI_MAX" open question) and recomputes its effective
// priority. If a READY thread now outranks it, the caller yields. In MLFQS
// mode it does nothing.
func (tb *Table) SetPriority(p int) {
	if tb.cfg.MLFQSMode {
		return
	}
	if p < PriorityMin {
		p = PriorityMin
	}
	if p > PriorityMax {
		p = PriorityMax
	}

	old := tb.Gate.Disable()
	cur := tb.current
	cur.basePriority = p
	cur.recomputeEffectivePriority()
	should := tb.hasHigherPriorityReadyLocked(cur)
	tb.Gate.Enable(old)

	if should {
		tb.Yield()
	}
}

// CheckShouldYield yields immediately if some READY thread now outranks
// the running thread, or if the timer interrupt handler left a deferred
// request pending from the last tick. Kernel-thread bodies that spend a
// long time between blocking operations (CPU-bound MLFQS test threads,
// notably) must call this periodically: it is this simulation's
// substitute for a hardware timer forcibly preempting running code, since
// a goroutine cannot be stopped from the outside without its cooperation.
func (tb *Table) CheckShouldYield() {
	old := tb.Gate.Disable()
	should := tb.yieldRequested || tb.hasHigherPriorityReadyLocked(tb.current)
	tb.yieldRequested = false
	tb.Gate.Enable(old)

	if should {
		tb.Yield()
	}
}

// RequestYield is called by the timer interrupt handler (already holding
// the gate for the handler's whole duration) to defer a yield decision to
// the next CheckShouldYield call.
func (tb *Table) RequestYield() {
	tb.yieldRequested = true
}

// Idle returns the idle thread singleton, so the timer driver can exclude
// it from CPU-accounting and load-average bookkeeping.
func (tb *Table) Idle() *Thread {
	return tb.idle
}

// UnblockLocked is Unblock for a caller that already holds the gate —
// timer.Tick, notably, which holds it for its entire duration and would
// deadlock re-disabling interrupts on the same goroutine.
func (tb *Table) UnblockLocked(t *Thread) {
	tb.unblockLocked(t)
}

// AllLocked is All for a caller that already holds the gate.
func (tb *Table) AllLocked() []*Thread {
	out := make([]*Thread, 0, len(tb.all))
	for _, t := range tb.all {
		out = append(out, t)
	}
	return out
}

// ReadyLocked is Ready for a caller that already holds the gate.
func (tb *Table) ReadyLocked() []*Thread {
	vs := tb.ready.Values()
	out := make([]*Thread, len(vs))
	for i, v := range vs {
		out[i] = v.(*Thread)
	}
	return out
}

// SetDerivedPriority overwrites both base and effective priority directly,
// bypassing the donation bookkeeping SetPriority performs — the MLFQS
// scheduler (timer package) uses this every 4 ticks to assign priorities
// derived from nice and recent_cpu, never from donation, which is always
// disabled in MLFQS mode. Repositions t in the ready queue if it's
// currently READY. Caller must hold the gate.
func (tb *Table) SetDerivedPriority(t *Thread, p int) {
	if p < PriorityMin {
		p = PriorityMin
	}
	if p > PriorityMax {
		p = PriorityMax
	}
	t.basePriority = p
	t.effectivePriority = p
	if t.status == Ready {
		tb.requeueLocked(t)
	}
}

// DonateTo raises t's effective priority to at least priority and, if t is
// currently READY, repositions it in the ready queue so the queue's
// insertion-sorted order stays consistent with the new priority. Reports
// whether anything actually changed — ksync.Lock's donation chain walk
// uses this to stop propagating further up the chain once a step is a
// no-op. In MLFQS mode it changes nothing and reports false. Caller must
// hold the gate.
func (tb *Table) DonateTo(t *Thread, priority int) bool {
	if tb.cfg.MLFQSMode {
		return false
	}
	changed := t.donate(priority)
	if changed && t.status == Ready {
		tb.requeueLocked(t)
	}
	return changed
}

// RecomputeEffective restores t's effective priority to
// max(base_priority, every currently held lock's MaxWaiterPriority).
// ksync.Lock.Release calls this after dropping a lock to unwind whatever
// donation that lock's waiters contributed. Caller must hold the gate.
func (tb *Table) RecomputeEffective(t *Thread) {
	t.recomputeEffectivePriority()
}

func (tb *Table) requeueLocked(t *Thread) {
	tb.ready.Remove(t.readyElem)
	t.readyElem = tb.ready.InsertOrdered(t, readyLess)
}

func (tb *Table) hasHigherPriorityReadyLocked(cur *Thread) bool {
	front := tb.ready.Front()
	if front == nil {
		return false
	}
	return front.Value().(*Thread).effectivePriority > cur.effectivePriority
}

// Exit marks the running thread DYING and switches away for the last
// time; the calling goroutine never resumes past this call.
func (tb *Table) Exit() {
	tb.Gate.Disable()
	cur := tb.current
	cur.status = Dying
	delete(tb.all, cur.TID)
	tb.log.Debug().Int("tid", int(cur.TID)).Str("name", cur.Name).Msg("exited")

	next := tb.pickNextLocked()
	tb.current = next
	next.status = Running
	next.resume <- struct{}{}
	// Deliberately does not call Gate.Enable: unlike reschedule's general
	// case, this goroutine never parks on its own resume channel again to
	// be woken up later, so it cannot be the one to complete the handoff.
	// next's own resumption path (either the fresh-thread entry above, or
	// its own earlier reschedule call unwinding back to a captured old
	// level) releases the gate instead.
	select {} // a DYING thread never runs again: park this goroutine for good
}

// pickNextLocked pops the highest-priority ready thread, or the idle
// thread if none is ready. Caller must hold the gate.
func (tb *Table) pickNextLocked() *Thread {
	if v := tb.ready.PopFront(); v != nil {
		return v.(*Thread)
	}
	return tb.idle
}

// reschedule performs the scheduler's core selection + context switch. The
// caller must hold the gate and must already have set tb.current's status
// to something other than Running. It blocks the calling goroutine until
// this thread is chosen to run again.
func (tb *Table) reschedule() {
	prev := tb.current
	next := tb.pickNextLocked()
	tb.current = next
	next.status = Running

	if prev == next {
		return
	}
	next.resume <- struct{}{}
	<-prev.resume
	prev.checkMagic()
}
