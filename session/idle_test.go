package session

import (
	"sync"
	"testing"
	"time"
)

// fakeTimers captures debounce callbacks so tests control time.
type fakeTimers struct {
	mu  sync.Mutex
	fns []func()
}

func (f *fakeTimers) afterFunc(d time.Duration, fn func()) *time.Timer {
	f.mu.Lock()
	f.fns = append(f.fns, fn)
	f.mu.Unlock()
	return time.NewTimer(time.Hour)
}

// fire runs every callback armed so far. Stale ones are no-ops.
func (f *fakeTimers) fire() {
	f.mu.Lock()
	fns := f.fns
	f.fns = nil
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func newTestTracker() (*idleTracker, *fakeTimers) {
	ft := &fakeTimers{}
	tr := newIdleTracker(defaultIdleDelay)
	tr.afterFunc = ft.afterFunc
	return tr, ft
}

func isIdle(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestIdleNoTasks(t *testing.T) {
	tr, ft := newTestTracker()
	idleC := tr.Reset()

	tr.Settle()
	if isIdle(idleC) {
		t.Fatal("idle before the debounce window elapsed")
	}
	ft.fire()
	if !isIdle(idleC) {
		t.Fatal("not idle after an empty quiet window")
	}
}

func TestNoIdleBeforeSettle(t *testing.T) {
	tr, ft := newTestTracker()
	idleC := tr.Reset()

	ft.fire()
	if isIdle(idleC) {
		t.Fatal("idle declared while the run's top-level phase was in flight")
	}

	tr.Settle()
	ft.fire()
	if !isIdle(idleC) {
		t.Fatal("not idle after settlement and a quiet window")
	}
}

func TestSlowTopLevelScheduling(t *testing.T) {
	tr, ft := newTestTracker()
	idleC := tr.Reset()

	// Top-level phase outlasts the quiet window before its first
	// scheduling call; the registration must still be honored.
	ft.fire()
	tr.Register(1, TaskTimeout)
	if got := tr.Pending(); got != 1 {
		t.Fatalf("pending = %d, want registration honored", got)
	}

	tr.Settle()
	ft.fire()
	if isIdle(idleC) {
		t.Fatal("idle declared with the late-scheduled task pending")
	}

	tr.Fired(1)
	ft.fire()
	if !isIdle(idleC) {
		t.Fatal("not idle after the task fired")
	}
}

func TestIdleWaitsForPendingTask(t *testing.T) {
	tr, ft := newTestTracker()
	idleC := tr.Reset()

	tr.Register(1, TaskTimeout)
	tr.Settle()
	ft.fire()
	if isIdle(idleC) {
		t.Fatal("idle declared with a pending task")
	}

	tr.Fired(1)
	ft.fire()
	if !isIdle(idleC) {
		t.Fatal("not idle after the task fired and the window elapsed")
	}
}

func TestRegistrationDuringWindowCancelsIdle(t *testing.T) {
	tr, ft := newTestTracker()
	idleC := tr.Reset()
	tr.Settle()

	tr.Register(1, TaskTimeout)
	tr.Fired(1) // arms a new window
	tr.Register(2, TaskTimeout)

	ft.fire() // both earlier windows are stale
	if isIdle(idleC) {
		t.Fatal("idle declared despite a registration during the window")
	}

	tr.Fired(2)
	ft.fire()
	if !isIdle(idleC) {
		t.Fatal("not idle after the chained task completed")
	}
}

func TestIntervalSurvivesFiring(t *testing.T) {
	tr, ft := newTestTracker()
	idleC := tr.Reset()
	tr.Settle()

	tr.Register(1, TaskInterval)
	tr.Fired(1)
	tr.Fired(1)
	if got := tr.Pending(); got != 1 {
		t.Fatalf("pending = %d, want 1 (interval persists)", got)
	}
	ft.fire()
	if isIdle(idleC) {
		t.Fatal("idle declared while an interval is registered")
	}

	tr.Cancel(1)
	ft.fire()
	if !isIdle(idleC) {
		t.Fatal("not idle after the interval was cancelled")
	}
}

func TestCancelUnknownTask(t *testing.T) {
	tr, ft := newTestTracker()
	idleC := tr.Reset()
	tr.Settle()

	tr.Register(1, TaskTimeout)
	tr.Cancel(99) // unknown: must not arm a window
	ft.fire()
	if isIdle(idleC) {
		t.Fatal("idle declared with a task still pending")
	}

	tr.Cancel(1)
	ft.fire()
	if !isIdle(idleC) {
		t.Fatal("not idle after cancelling the only task")
	}
}

func TestResetClearsRegistry(t *testing.T) {
	tr, ft := newTestTracker()
	first := tr.Reset()
	tr.Register(1, TaskInterval)

	second := tr.Reset()
	if got := tr.Pending(); got != 0 {
		t.Fatalf("pending after reset = %d, want 0", got)
	}
	tr.Settle()
	ft.fire()
	if isIdle(first) {
		t.Error("previous run's channel resolved by the new run")
	}
	if !isIdle(second) {
		t.Error("new run not idle after quiet window")
	}
}

func TestRegisterAfterIdleIgnored(t *testing.T) {
	tr, ft := newTestTracker()
	idleC := tr.Reset()
	tr.Settle()
	ft.fire()
	if !isIdle(idleC) {
		t.Fatal("not idle")
	}

	// The run settled and finished; a straggler registration belongs to
	// a superseded run.
	tr.Register(1, TaskTimeout)
	if got := tr.Pending(); got != 0 {
		t.Errorf("pending = %d, want registration after idle ignored", got)
	}
}
