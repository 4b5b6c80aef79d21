package conch

import (
	"context"
	"time"

	"github.com/conchlabs/conch/backend/quickjs"
	"github.com/conchlabs/conch/session"
)

// Result is the outcome of a one-shot run.
type Result = session.Result

// Config controls one-shot execution.
type Config struct {
	// Timeout bounds the whole run, startup included.
	Timeout time.Duration

	// Engine to instantiate the interpreter on. When nil a throwaway
	// engine is created and closed with the run; supply a shared one to
	// amortize compilation across runs.
	Engine *quickjs.Engine

	// SessionOptions pass through to session.New.
	SessionOptions []session.Option

	// BackendOptions pass through to quickjs.New.
	BackendOptions []quickjs.Option
}

// DefaultConfig returns a Config with a 30 second timeout.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

// Run executes source as a batch program and blocks for its result.
// Output from scheduled timers is included; the run finishes only once
// the task registry drains.
func Run(source string, cfg Config) Result {
	start := time.Now()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	eng := cfg.Engine
	if eng == nil {
		var err error
		eng, err = quickjs.NewEngine()
		if err != nil {
			return Result{Err: err, Duration: time.Since(start)}
		}
		defer eng.Close()
	}

	sess := session.New(quickjs.New(eng, cfg.BackendOptions...), cfg.SessionOptions...)
	defer sess.Close()

	if err := sess.Init(ctx); err != nil {
		return Result{Err: err, Duration: time.Since(start)}
	}

	cycle, err := sess.Run(source)
	if err != nil {
		return Result{Err: err, Duration: time.Since(start)}
	}

	result, err := cycle.Wait(ctx)
	if err != nil {
		// Timeout or cancellation; salvage whatever arrived.
		sess.Interrupt()
		result = cycle.Result()
		result.Err = err
		result.Duration = time.Since(start)
	}
	return result
}
