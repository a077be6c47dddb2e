// Package kthread implements the thread table: thread descriptors, the
// READY/RUNNING/BLOCKED/DYING state machine, the ready queue, and
// preemptive scheduler selection. It is deliberately ignorant of locks and
// condition variables (package ksync, built on top of it) — the only
// coupling point is the LockLike interface a thread's WaitingOn/HeldLocks
// fields are typed with, so this package never imports ksync.
package kthread

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"

	"github.com/nbtaylor/gophertos/ilist"
)

// TID identifies a thread. TIDError is returned by Create on resource
// exhaustion (spec's "out of thread pages" condition).
type TID int

// TIDError is the sentinel returned by Create when the thread table is
// full.
const TIDError TID = -1

// Priority bounds, spec-mandated.
const (
	PriorityMin = 0
	PriorityMax = 63
)

// Status is a thread's position in the lifecycle state machine.
type Status int

const (
	// Ready means the thread is runnable and sitting in the ready queue.
	Ready Status = iota
	// Running means the thread currently owns the (single, simulated) CPU.
	Running
	// Blocked means the thread is waiting on a semaphore, lock, condition
	// variable, or the sleep list, and is not in the ready queue.
	Blocked
	// Dying means the thread has called Exit and is being torn down; Exit
	// itself removes its descriptor from the thread table.
	Dying
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Blocked:
		return "BLOCKED"
	case Dying:
		return "DYING"
	default:
		return "UNKNOWN"
	}
}

// LockLike is the minimal view kthread needs of a ksync.Lock, so that a
// Thread can reference the lock it's waiting on and the locks it holds
// without this package importing ksync.
type LockLike interface {
	// HolderLocked returns the thread currently holding the lock, or nil.
	// Callers must already hold the scheduler's gate: the donation chain
	// walk (ksync.Lock.donateChainLocked) holds it across the whole
	// traversal, so this must not re-acquire anything.
	HolderLocked() *Thread
	// MaxWaiterPriorityLocked returns the highest effective priority among
	// the lock's current waiters, re-scanned live (not cached from
	// enqueue time), or PriorityMin if there are no waiters. Callers must
	// already hold the scheduler's gate, same as HolderLocked.
	MaxWaiterPriorityLocked() int
}

const threadMagic = 0xc0ffee42

// Thread is one kernel thread's descriptor.
type Thread struct {
	TID    TID
	Name   string
	status Status

	basePriority      int
	effectivePriority int

	heldLocks *ilist.List // of LockLike, ordered by descending MaxWaiterPriority
	waitingOn LockLike

	Nice      int        // MLFQS-only
	RecentCPU FixedPoint // MLFQS-only, see fixedpoint.FP for the real type

	wakeTick uint64 // valid only while sleeping
	sleeping bool

	magic uint32

	resume chan struct{}

	readyElem *ilist.Elem // this thread's element in the ready list, if Ready
}

// FixedPoint is a local alias so this package doesn't need to import
// fixedpoint just to name the field type; mlfqs and timer convert through
// fixedpoint.FP, which is bit-for-bit this type.
type FixedPoint = int32

func newThread(tid TID, name string, priority int) *Thread {
	return &Thread{
		TID:               tid,
		Name:              name,
		status:            Blocked, // per spec: created BLOCKED, then immediately unblocked
		basePriority:      priority,
		effectivePriority: priority,
		heldLocks:         ilist.New(),
		magic:             threadMagic,
		resume:            make(chan struct{}),
	}
}

// Status returns the thread's current lifecycle state.
func (t *Thread) Status() Status { return t.status }

// BasePriority returns the owner-assigned priority.
func (t *Thread) BasePriority() int { return t.basePriority }

// EffectivePriority returns the priority the scheduler uses.
func (t *Thread) EffectivePriority() int { return t.effectivePriority }

// WaitingOn returns the lock this thread is blocked acquiring, or nil.
func (t *Thread) WaitingOn() LockLike { return t.waitingOn }

// SetWaitingOn records the lock this thread is blocked trying to acquire.
// ksync.Lock.Acquire's donation chain walk follows WaitingOn().HolderLocked()
// link by link, so it must be set before blocking and cleared on resume.
// Callers must hold the scheduler's gate.
func (t *Thread) SetWaitingOn(l LockLike) { t.waitingOn = l }

// HeldLocks returns the intrusive list of locks this thread currently
// holds, ordered by descending MaxWaiterPriority.
func (t *Thread) HeldLocks() *ilist.List { return t.heldLocks }

// Sleeping reports whether this thread is parked on the timer's sleep
// list, valid only as a diagnostic: the timer package is the only thing
// that should ever act on it.
func (t *Thread) Sleeping() bool { return t.sleeping }

// WakeTick returns the tick at which the timer should unblock this
// thread. Valid only while Sleeping is true.
func (t *Thread) WakeTick() uint64 { return t.wakeTick }

// SetSleepUntil marks the thread as sleeping until the given tick.
// Callers must hold the scheduler's gate.
func (t *Thread) SetSleepUntil(tick uint64) {
	t.sleeping = true
	t.wakeTick = tick
}

// ClearSleep clears the sleeping marker once the timer has woken the
// thread. Callers must hold the scheduler's gate.
func (t *Thread) ClearSleep() {
	t.sleeping = false
}

// checkMagic panics (via Fatal) if the integrity sentinel has been
// clobbered — an integrity check, not a security boundary, matching
// spec.md's framing of stack-overflow detection.
func (t *Thread) checkMagic() {
	if t.magic != threadMagic {
		Fatal("thread magic corrupted (stack overflow?)", t)
	}
}

// donate raises t's effective priority to at least priority, returning
// whether it actually changed anything (callers use this to decide
// whether propagating further up a donation chain is still necessary).
func (t *Thread) donate(priority int) bool {
	if priority <= t.effectivePriority {
		return false
	}
	t.effectivePriority = priority
	return true
}

// recomputeEffectivePriority restores effective priority to
// max(base, every currently-held lock's MaxWaiterPriority), used after
// SetPriority and after releasing a lock.
func (t *Thread) recomputeEffectivePriority() {
	max := t.basePriority
	t.heldLocks.ForEach(func(v any) {
		if p := v.(LockLike).MaxWaiterPriorityLocked(); p > max {
			max = p
		}
	})
	t.effectivePriority = max
}

func (t *Thread) String() string {
	return fmt.Sprintf("Thread{tid=%d name=%q status=%s base=%d eff=%d}",
		t.TID, t.Name, t.status, t.basePriority, t.effectivePriority)
}

// Fatal reports an invariant violation: a programming bug, not a
// recoverable condition. It panics with a diagnostic message carrying the
// tid, the name, and a full dump of the thread descriptor.
func Fatal(reason string, t *Thread) {
	var dump string
	if t != nil {
		dump = spew.Sdump(t)
	}
	panic(fmt.Sprintf("fatal kernel invariant violation: %s (tid=%v name=%q)\n%s", reason, tidOf(t), nameOf(t), dump))
}

func tidOf(t *Thread) TID {
	if t == nil {
		return TIDError
	}
	return t.TID
}

func nameOf(t *Thread) string {
	if t == nil {
		return "<nil>"
	}
	return t.Name
}
