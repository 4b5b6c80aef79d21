package session

import "sync"

const channelDepth = 64

// Channel is the single-producer/single-consumer asynchronous boundary
// between a session controller and its backend worker. Requests are
// delivered in send order, responses in emission order; the two directions
// never reorder messages relative to their own stream.
type Channel struct {
	requests  chan Message
	responses chan Message
	done      chan struct{}

	mu  sync.Mutex
	err error
}

func NewChannel() *Channel {
	return &Channel{
		requests:  make(chan Message, channelDepth),
		responses: make(chan Message, channelDepth),
		done:      make(chan struct{}),
	}
}

// Send delivers a controller request to the backend worker.
func (c *Channel) Send(m Message) error {
	select {
	case <-c.done:
		return c.failure()
	default:
	}
	select {
	case c.requests <- m:
		return nil
	case <-c.done:
		return c.failure()
	}
}

// Emit delivers a backend response to the controller.
func (c *Channel) Emit(m Message) error {
	select {
	case <-c.done:
		return c.failure()
	default:
	}
	select {
	case c.responses <- m:
		return nil
	case <-c.done:
		return c.failure()
	}
}

func (c *Channel) Requests() <-chan Message { return c.requests }

func (c *Channel) Responses() <-chan Message { return c.responses }

// Done is closed when the channel is closed or fails.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Err reports why the channel stopped. It is nil after a clean Close and
// non-nil after Fail.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the channel down cleanly. Safe to call more than once.
func (c *Channel) Close() {
	c.closeWith(nil)
}

// Fail poisons the channel: pending waiters observe err instead of hanging.
func (c *Channel) Fail(err error) {
	c.closeWith(err)
}

func (c *Channel) closeWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	c.err = err
	close(c.done)
}

func (c *Channel) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrChannelClosed
}
