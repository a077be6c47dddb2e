package kthread

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbtaylor/gophertos/irq"
)

func newTestTable(cfg Config) (*Table, *Thread) {
	gate := irq.NewGate()
	tb := NewTable(cfg, gate, zerolog.Nop())
	main := tb.Bootstrap("main", 31)
	tb.StartIdle()
	return tb, main
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestBootstrapInstallsRunningMainThread(t *testing.T) {
	tb, main := newTestTable(DefaultConfig())
	assert.Equal(t, Running, main.Status())
	assert.Same(t, main, tb.Current())
}

func TestCreateInsertsIntoReadyQueueOrderedByPriority(t *testing.T) {
	tb, _ := newTestTable(DefaultConfig())

	done := make(chan struct{})
	tid := tb.Create("low", 10, func(aux any) { <-done }, nil)
	require.NotEqual(t, TIDError, tid)

	tb.Create("high", 20, func(aux any) { <-done }, nil)

	ready := tb.Ready()
	require.Len(t, ready, 2)
	assert.Equal(t, "high", ready[0].Name)
	assert.Equal(t, "low", ready[1].Name)

	close(done)
}

func TestCreateHigherPriorityPreemptsCaller(t *testing.T) {
	tb, main := newTestTable(Config{MaxThreads: 16})
	// main starts at priority 31; a thread created at a higher priority
	// must make main yield immediately, per spec.md §4.3.
	ran := make(chan struct{})
	tb.Create("urgent", 40, func(aux any) {
		close(ran)
		tb.Exit()
	}, nil)

	waitFor(t, func() bool {
		select {
		case <-ran:
			return true
		default:
			return false
		}
	})
	assert.Equal(t, Running, main.Status())
}

func TestCreateReturnsTIDErrorWhenTableFull(t *testing.T) {
	tb, _ := newTestTable(Config{MaxThreads: 1}) // "main" and "idle" already fill it
	done := make(chan struct{})
	defer close(done)
	tid := tb.Create("overflow", 10, func(aux any) { <-done }, nil)
	assert.Equal(t, TIDError, tid)
}

func TestBlockUnblockRoundTrip(t *testing.T) {
	tb, main := newTestTable(Config{MaxThreads: 16})

	blocked := make(chan *Thread, 1)
	woken := make(chan struct{})
	// Same priority as main: Create alone won't hand it the CPU (that
	// only happens for a strictly higher priority), so the test drives
	// the handoff explicitly with Yield, the way cooperating kernel
	// threads would.
	tb.Create("waiter", 31, func(aux any) {
		gate := tb.Gate
		old := gate.Disable()
		blocked <- tb.Current()
		tb.Block()
		gate.Enable(old)
		close(woken)
		tb.Exit()
	}, nil)

	tb.Yield() // let "waiter" run until it blocks itself
	assert.Equal(t, Running, main.Status())

	waiter := <-blocked
	assert.Equal(t, Blocked, waiter.Status())

	tb.Unblock(waiter)
	assert.Equal(t, Ready, waiter.Status())

	tb.Yield() // let "waiter" run to completion
	select {
	case <-woken:
	case <-time.After(time.Second):
		t.Fatal("waiter never resumed after Unblock")
	}
}

func TestUnblockOnNonBlockedThreadIsFatal(t *testing.T) {
	tb, main := newTestTable(DefaultConfig())
	assert.Panics(t, func() { tb.Unblock(main) })
}

func TestBlockWithInterruptsEnabledIsFatal(t *testing.T) {
	tb, _ := newTestTable(DefaultConfig())
	assert.Panics(t, func() { tb.Block() })
}

func TestInsertOrderedTieBreakIsFIFOInReadyQueue(t *testing.T) {
	tb, _ := newTestTable(Config{MaxThreads: 16})

	done := make(chan struct{})
	never := func(aux any) { <-done }
	// Neither thread outranks main (31), so both simply sit in the ready
	// queue without running; this exercises InsertOrdered's FIFO
	// tie-break directly through Create/Ready.
	tb.Create("a", 10, never, nil)
	tb.Create("b", 10, never, nil)

	ready := tb.Ready()
	require.Len(t, ready, 2)
	assert.Equal(t, "a", ready[0].Name)
	assert.Equal(t, "b", ready[1].Name)

	close(done)
}

func TestSetPriorityClampsToValidRange(t *testing.T) {
	tb, main := newTestTable(DefaultConfig())
	tb.SetPriority(PriorityMax + 10)
	assert.Equal(t, PriorityMax, main.BasePriority())

	tb.SetPriority(PriorityMin - 10)
	assert.Equal(t, PriorityMin, main.BasePriority())
}

func TestSetPriorityYieldsWhenOutranked(t *testing.T) {
	tb, main := newTestTable(Config{MaxThreads: 16})

	ran := make(chan struct{})
	tb.Create("higher", 20, func(aux any) {
		close(ran)
		tb.Exit()
	}, nil)

	// "higher" (20) does not outrank main (31), so Create leaves it
	// waiting in the ready queue; lowering main below it must make
	// SetPriority yield to it. Assert the higher thread got to run and
	// main is back to Running once it does.
	tb.SetPriority(5)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("higher priority thread never ran")
	}
	waitFor(t, func() bool { return main.Status() == Running })
}

func TestCheckShouldYieldIsNoopWhenNoOneOutranksCurrent(t *testing.T) {
	tb, main := newTestTable(Config{MaxThreads: 16})

	done := make(chan struct{})
	tb.Create("waiter", 10, func(aux any) { <-done }, nil)

	// main (31) still outranks "waiter" (10), so CheckShouldYield must be
	// a no-op here.
	before := main.Status()
	tb.CheckShouldYield()
	assert.Equal(t, before, main.Status())

	close(done)
}

func TestCheckShouldYieldHonorsDeferredRequest(t *testing.T) {
	tb, main := newTestTable(Config{MaxThreads: 16})

	ran := make(chan struct{})
	tb.Create("equal", 31, func(aux any) {
		close(ran)
		tb.Exit()
	}, nil)

	// "equal" doesn't outrank main, so it just sits ready; a pending
	// timer-tick request is what forces the check to yield.
	tb.RequestYield()
	tb.CheckShouldYield()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("CheckShouldYield did not honor the deferred yield request")
	}
	waitFor(t, func() bool { return main.Status() == Running })
}

func TestExitRemovesThreadFromTable(t *testing.T) {
	tb, _ := newTestTable(Config{MaxThreads: 16})
	exited := make(chan TID, 1)
	tid := tb.Create("short", 40, func(aux any) {
		exited <- tb.Current().TID
	}, nil)

	select {
	case gotTID := <-exited:
		assert.Equal(t, tid, gotTID)
	case <-time.After(time.Second):
		t.Fatal("thread never ran")
	}

	waitFor(t, func() bool {
		for _, th := range tb.All() {
			if th.TID == tid {
				return false
			}
		}
		return true
	})
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "READY", Ready.String())
	assert.Equal(t, "RUNNING", Running.String())
	assert.Equal(t, "BLOCKED", Blocked.String())
	assert.Equal(t, "DYING", Dying.String())
	assert.Equal(t, "UNKNOWN", Status(99).String())
}
