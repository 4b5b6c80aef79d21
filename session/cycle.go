package session

import (
	"context"
	"sync"
	"time"
)

// Result holds the outcome of one execution cycle.
type Result struct {
	// Output is the concatenation of all chunks, in emission order.
	Output string

	// Chunks is the ordered, stream-coalesced output.
	Chunks []OutputChunk

	ExitCode int
	Duration time.Duration
	Err      error
}

// Cycle is the handle for one in-flight execute or run. Done closes after
// the terminal event; Result is valid from that point on.
type Cycle struct {
	id    uint64
	batch bool
	start time.Time
	mux   outputMux
	done  chan struct{}

	once   sync.Once
	mu     sync.Mutex
	result Result
}

func newCycle(id uint64, batch bool) *Cycle {
	return &Cycle{
		id:    id,
		batch: batch,
		start: time.Now(),
		done:  make(chan struct{}),
	}
}

// Done is closed once the cycle reaches its terminal event.
func (c *Cycle) Done() <-chan struct{} { return c.done }

// Result returns the outcome. It is the zero Result until Done closes.
func (c *Cycle) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Wait blocks until the cycle finishes or ctx expires.
func (c *Cycle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		return c.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// finish resolves the cycle exactly once.
func (c *Cycle) finish(exitCode int, err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.result = Result{
			Output:   c.mux.String(),
			Chunks:   c.mux.Chunks(),
			ExitCode: exitCode,
			Duration: time.Since(c.start),
			Err:      err,
		}
		c.mu.Unlock()
		close(c.done)
	})
}
