// Package ksync implements the synchronization layer built on top of
// kthread's scheduler: a counting semaphore, a priority-donating lock, and
// a condition variable. Every operation here runs with the irq gate held
// for its critical section — this package introduces no mutex of its own,
// since the gate already is the kernel's sole mutual-exclusion mechanism.
package ksync

import (
	"github.com/nbtaylor/gophertos/ilist"
	"github.com/nbtaylor/gophertos/irq"
	"github.com/nbtaylor/gophertos/kthread"
)

// Semaphore is a non-negative counter with a waiter list. The waiter list
// is kept in plain FIFO insertion order, not sorted by priority: priorities
// can change underneath a waiting thread via donation, so Up scans
// linearly for the currently highest-priority waiter at dequeue time
// rather than trying to keep the list sorted (spec's "re-sorted or
// re-scanned at dequeue" choice — this implementation picks re-scan).
type Semaphore struct {
	gate    *irq.Gate
	tb      *kthread.Table
	value   int
	waiters *ilist.List // of *kthread.Thread, FIFO
}

// NewSemaphore constructs a semaphore with the given initial value.
func NewSemaphore(value int, gate *irq.Gate, tb *kthread.Table) *Semaphore {
	if value < 0 {
		panic("ksync: semaphore initial value must be non-negative")
	}
	return &Semaphore{gate: gate, tb: tb, value: value, waiters: ilist.New()}
}

// Down blocks until the semaphore's value is positive, then decrements it.
func (s *Semaphore) Down() {
	old := s.gate.Disable()
	for s.value == 0 {
		s.waiters.PushBack(s.tb.Current())
		s.tb.Block()
	}
	s.value--
	s.gate.Enable(old)
}

// TryDown decrements and returns true if the value is already positive,
// without ever blocking.
func (s *Semaphore) TryDown() bool {
	old := s.gate.Disable()
	defer s.gate.Enable(old)
	if s.value > 0 {
		s.value--
		return true
	}
	return false
}

// Up increments the value and, if any thread is waiting, wakes the one
// with the currently highest effective priority (ties broken FIFO). If the
// woken thread now outranks the running thread, the caller yields.
func (s *Semaphore) Up() {
	old := s.gate.Disable()
	s.value++
	woken := s.popHighestWaiterLocked()
	if woken != nil {
		s.tb.UnblockLocked(woken)
	}
	s.gate.Enable(old)

	if woken != nil {
		s.tb.CheckShouldYield()
	}
}

// popHighestWaiterLocked scans the waiter list for the thread with the
// highest current effective priority (first one wins ties, preserving
// FIFO order among equals) and removes it. Caller must hold the gate.
func (s *Semaphore) popHighestWaiterLocked() *kthread.Thread {
	var best *ilist.Elem
	var bestPriority int
	for e := s.waiters.Front(); e != nil; e = s.waiters.Next(e) {
		t := e.Value().(*kthread.Thread)
		if best == nil || t.EffectivePriority() > bestPriority {
			best = e
			bestPriority = t.EffectivePriority()
		}
	}
	if best == nil {
		return nil
	}
	t := best.Value().(*kthread.Thread)
	s.waiters.Remove(best)
	return t
}

// MaxWaiterPriority returns the highest effective priority currently among
// this semaphore's waiters, or kthread.PriorityMin if there are none.
// Exported so Lock can compute its own max_waiter_priority from its
// internal semaphore.
func (s *Semaphore) MaxWaiterPriority() int {
	old := s.gate.Disable()
	defer s.gate.Enable(old)
	return s.maxWaiterPriorityLocked()
}

// maxWaiterPriorityLocked is MaxWaiterPriority for a caller that already
// holds the gate — Lock's InsertOrdered/recompute paths, which run their
// comparators while the gate is held for the whole critical section.
func (s *Semaphore) maxWaiterPriorityLocked() int {
	max := kthread.PriorityMin
	s.waiters.ForEach(func(v any) {
		if p := v.(*kthread.Thread).EffectivePriority(); p > max {
			max = p
		}
	})
	return max
}
