package session

import (
	"sync"
	"time"
)

// defaultIdleDelay is the quiet window with no new registrations after
// which a batch run is declared idle.
const defaultIdleDelay = 50 * time.Millisecond

// idleTracker detects true completion of a batch run. Top-level code may
// schedule callbacks that outlive it; the tracker counts outstanding
// registrations and declares idle only after the pending count has stayed
// at zero for a full debounce window. Chains of callbacks scheduling
// further callbacks keep the run alive without assuming a fixed number of
// rounds.
type idleTracker struct {
	quiet     time.Duration
	afterFunc func(time.Duration, func()) *time.Timer

	mu      sync.Mutex
	pending map[int64]TaskKind
	timer   *time.Timer
	gen     uint64
	settled bool
	idle    bool
	idleCh  chan struct{}
}

func newIdleTracker(quiet time.Duration) *idleTracker {
	if quiet <= 0 {
		quiet = defaultIdleDelay
	}
	return &idleTracker{
		quiet:     quiet,
		afterFunc: time.AfterFunc,
		pending:   make(map[int64]TaskKind),
		idleCh:    make(chan struct{}),
	}
}

// Reset clears the registry at the start of a run and returns the channel
// that closes once this run goes idle. The window stays unarmed until
// Settle reports the run's synchronous phase complete.
func (t *idleTracker) Reset() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disarmLocked()
	t.pending = make(map[int64]TaskKind)
	t.settled = false
	t.idle = false
	t.idleCh = make(chan struct{})
	return t.idleCh
}

// Settle marks the run's synchronous top-level phase complete. Idle is
// only ever declared after settlement; a long top-level phase cannot
// exhaust the quiet window before its scheduling calls arrive.
func (t *idleTracker) Settle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settled = true
	t.armLocked()
}

// Register records a newly scheduled callback. A registration during the
// debounce window cancels the pending idle declaration.
func (t *idleTracker) Register(id int64, kind TaskKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.idle {
		return
	}
	t.pending[id] = kind
	t.disarmLocked()
}

// Fired records that a callback ran. One-shot callbacks leave the
// registry; intervals stay until cancelled.
func (t *idleTracker) Fired(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if kind, ok := t.pending[id]; ok && kind == TaskTimeout {
		delete(t.pending, id)
	}
	if len(t.pending) == 0 {
		t.armLocked()
	}
}

// Cancel removes a callback without running it.
func (t *idleTracker) Cancel(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[id]; !ok {
		return
	}
	delete(t.pending, id)
	if len(t.pending) == 0 {
		t.armLocked()
	}
}

func (t *idleTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *idleTracker) armLocked() {
	if t.idle || !t.settled || len(t.pending) > 0 {
		return
	}
	t.disarmLocked()
	t.gen++
	gen := t.gen
	ch := t.idleCh
	t.timer = t.afterFunc(t.quiet, func() {
		t.declareIdle(gen, ch)
	})
}

func (t *idleTracker) disarmLocked() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *idleTracker) declareIdle(gen uint64, ch chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || t.idle || !t.settled || len(t.pending) > 0 || ch != t.idleCh {
		return
	}
	t.idle = true
	close(t.idleCh)
}
