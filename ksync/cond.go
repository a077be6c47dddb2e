package ksync

import (
	"github.com/nbtaylor/gophertos/ilist"
	"github.com/nbtaylor/gophertos/irq"
	"github.com/nbtaylor/gophertos/kthread"
)

// condWaiter pairs a per-wait semaphore with the thread that's parked on
// it, so Signal can find the currently highest-priority waiter without
// needing any cooperation from Semaphore's own waiter-list internals.
type condWaiter struct {
	thread *kthread.Thread
	sem    *Semaphore
}

// Cond is a condition variable: a list of per-waiter semaphores, one per
// outstanding Wait call.
type Cond struct {
	gate    *irq.Gate
	tb      *kthread.Table
	waiters *ilist.List // of *condWaiter, FIFO
}

// NewCond constructs an empty condition variable.
func NewCond(gate *irq.Gate, tb *kthread.Table) *Cond {
	return &Cond{gate: gate, tb: tb, waiters: ilist.New()}
}

// Wait atomically releases l and blocks until signaled, then re-acquires
// l before returning. Precondition: l is held by the running thread.
func (c *Cond) Wait(l *Lock) {
	if !l.HeldByCurrent() {
		kthread.Fatal("Cond.Wait called without holding the lock", c.tb.Current())
	}

	w := &condWaiter{thread: c.tb.Current(), sem: NewSemaphore(0, c.gate, c.tb)}
	old := c.gate.Disable()
	c.waiters.PushBack(w)
	c.gate.Enable(old)

	l.Release()
	w.sem.Down()
	l.Acquire()
}

// Signal wakes the waiter whose thread currently has the highest effective
// priority, re-scanned at signal time since priorities may have changed
// since Wait was called. No-op if there are no waiters.
func (c *Cond) Signal() {
	old := c.gate.Disable()
	w := c.popHighestWaiterLocked()
	c.gate.Enable(old)

	if w != nil {
		w.sem.Up()
	}
}

// Broadcast wakes every current waiter.
func (c *Cond) Broadcast() {
	for {
		old := c.gate.Disable()
		w := c.popHighestWaiterLocked()
		c.gate.Enable(old)
		if w == nil {
			return
		}
		w.sem.Up()
	}
}

func (c *Cond) popHighestWaiterLocked() *condWaiter {
	var best *ilist.Elem
	var bestPriority int
	for e := c.waiters.Front(); e != nil; e = c.waiters.Next(e) {
		w := e.Value().(*condWaiter)
		if best == nil || w.thread.EffectivePriority() > bestPriority {
			best = e
			bestPriority = w.thread.EffectivePriority()
		}
	}
	if best == nil {
		return nil
	}
	w := best.Value().(*condWaiter)
	c.waiters.Remove(best)
	return w
}
