package session

import (
	"log/slog"
	"time"
)

type config struct {
	initTimeout  time.Duration
	idleDelay    time.Duration
	primary      string
	continuation string
	framer       *Framer
	observer     func(Event)
	logger       *slog.Logger
}

func defaultConfig() config {
	return config{
		initTimeout:  30 * time.Second,
		idleDelay:    defaultIdleDelay,
		primary:      ">>> ",
		continuation: "... ",
		framer:       NewFramer(),
		logger:       slog.New(slog.DiscardHandler),
	}
}

// Option configures a session.
type Option func(*config)

// WithInitTimeout bounds how long Init waits for the backend-ready signal.
func WithInitTimeout(d time.Duration) Option {
	return func(c *config) { c.initTimeout = d }
}

// WithIdleDelay sets the debounce window used to declare a batch run idle.
func WithIdleDelay(d time.Duration) Option {
	return func(c *config) { c.idleDelay = d }
}

// WithPrompts sets the primary and continuation prompt strings. A backend
// may still override them via its ReadyInfo.
func WithPrompts(primary, continuation string) Option {
	return func(c *config) {
		c.primary = primary
		c.continuation = continuation
	}
}

// WithFramer replaces the default C-like input framer, for backends whose
// syntax uses different comment or string delimiters.
func WithFramer(f *Framer) Option {
	return func(c *config) { c.framer = f }
}

// WithObserver registers a callback receiving session events. The callback
// runs on the session's dispatch goroutine and must not block.
func WithObserver(fn func(Event)) Option {
	return func(c *config) { c.observer = fn }
}

// WithLogger sets the structured logger. Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}
