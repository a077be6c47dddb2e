package ksync

import (
	"github.com/nbtaylor/gophertos/irq"
	"github.com/nbtaylor/gophertos/kthread"
)

// maxDonationDepth bounds the donation chain walk, per spec: unbounded
// traversal over a pathological chain of locks is a latency hazard, not a
// correctness one, so it's simply capped.
const maxDonationDepth = 8

// Lock is a binary semaphore augmented with holder tracking and priority
// donation. Donation is skipped entirely when donationEnabled is false
// (the MLFQS scheduler derives priorities instead of accepting donation).
type Lock struct {
	gate            *irq.Gate
	tb              *kthread.Table
	sem             *Semaphore
	donationEnabled bool

	holder *kthread.Thread
}

// NewLock constructs an unheld lock. donationEnabled should be false when
// the thread table is running in MLFQS mode.
func NewLock(gate *irq.Gate, tb *kthread.Table, donationEnabled bool) *Lock {
	return &Lock{
		gate:            gate,
		tb:              tb,
		sem:             NewSemaphore(1, gate, tb),
		donationEnabled: donationEnabled,
	}
}

// Holder returns the thread currently holding the lock, or nil.
func (l *Lock) Holder() *kthread.Thread {
	old := l.gate.Disable()
	defer l.gate.Enable(old)
	return l.holder
}

// HolderLocked is Holder for a caller that already holds the gate.
// Implements kthread.LockLike.
func (l *Lock) HolderLocked() *kthread.Thread {
	return l.holder
}

// MaxWaiterPriority returns the highest effective priority among threads
// currently blocked acquiring this lock, re-scanned live.
func (l *Lock) MaxWaiterPriority() int {
	return l.sem.MaxWaiterPriority()
}

// MaxWaiterPriorityLocked is MaxWaiterPriority for a caller that already
// holds the gate. Implements kthread.LockLike.
func (l *Lock) MaxWaiterPriorityLocked() int {
	return l.sem.maxWaiterPriorityLocked()
}

// Acquire blocks until the lock is free, donating priority up the holder
// chain along the way (unless donation is disabled).
func (l *Lock) Acquire() {
	current := l.tb.Current()

	old := l.gate.Disable()
	holder := l.holder
	if holder != nil && l.donationEnabled {
		current.SetWaitingOn(l)
		l.donateChainLocked(holder, current.EffectivePriority())
	}
	l.gate.Enable(old)

	l.sem.Down()

	old = l.gate.Disable()
	current.SetWaitingOn(nil)
	l.holder = current
	current.HeldLocks().InsertOrdered(l, lockByMaxWaiterPriorityDesc)
	l.gate.Enable(old)
}

// donateChainLocked walks L.holder, L.holder.waiting_on.holder, … up to
// maxDonationDepth, raising each visited thread's effective priority to at
// least priority. Stops early once a step makes no change — further up the
// chain nothing would change either, since the donated value only ever
// increases. Caller must hold the gate.
func (l *Lock) donateChainLocked(holder *kthread.Thread, priority int) {
	h := holder
	for depth := 0; depth < maxDonationDepth && h != nil; depth++ {
		if !l.tb.DonateTo(h, priority) {
			return
		}
		waitingOn := h.WaitingOn()
		if waitingOn == nil {
			return
		}
		h = waitingOn.HolderLocked()
	}
}

// TryAcquire acquires the lock without blocking and never donates.
// Reports whether it succeeded.
func (l *Lock) TryAcquire() bool {
	if !l.sem.TryDown() {
		return false
	}
	current := l.tb.Current()
	old := l.gate.Disable()
	l.holder = current
	current.HeldLocks().InsertOrdered(l, lockByMaxWaiterPriorityDesc)
	l.gate.Enable(old)
	return true
}

// Release gives up the lock, restoring the holder's effective priority to
// what it would be without this lock's donors, and wakes the
// highest-priority waiter if any.
func (l *Lock) Release() {
	current := l.tb.Current()

	old := l.gate.Disable()
	removeFromHeldLocks(current, l)
	l.holder = nil
	l.tb.RecomputeEffective(current)
	l.gate.Enable(old)

	l.sem.Up()
}

// HeldByCurrent reports whether the running thread holds this lock.
func (l *Lock) HeldByCurrent() bool {
	return l.Holder() == l.tb.Current()
}

func removeFromHeldLocks(t *kthread.Thread, l *Lock) {
	locks := t.HeldLocks()
	for e := locks.Front(); e != nil; e = locks.Next(e) {
		if e.Value().(*Lock) == l {
			locks.Remove(e)
			return
		}
	}
}

func lockByMaxWaiterPriorityDesc(a, b any) bool {
	return a.(*Lock).MaxWaiterPriorityLocked() > b.(*Lock).MaxWaiterPriorityLocked()
}

var _ kthread.LockLike = (*Lock)(nil)
