package session

import "context"

// ReadyInfo describes a successfully initialized backend.
type ReadyInfo struct {
	// Banner is an optional greeting printed once on startup.
	Banner string

	// PrimaryPrompt and ContinuationPrompt override the session defaults
	// when non-empty.
	PrimaryPrompt      string
	ContinuationPrompt string
}

// SourceUnit is one complete unit of source handed to a backend.
type SourceUnit struct {
	Text string

	// Batch marks a whole-program run whose completion is gated on the
	// idle tracker rather than the backend's synchronous return alone.
	Batch bool
}

// EmitFunc delivers backend events (output, diagnostics, task activity)
// to the session controller while an execution is in progress. The
// controller stamps and orders the messages; backends only need to call
// it in true emission order.
type EmitFunc func(Message)

// ExecResult is the synchronous outcome of one execute or run.
type ExecResult struct {
	ExitCode int

	// Exception carries the backend-reported error text for a failed
	// unit. The session recovers: this is not fatal.
	Exception string

	// Err reports a transport-level failure, typically the isolated
	// execution context dying. It is fatal to the session.
	Err error
}

// Backend is the adapter contract for a language implementation. The core
// makes no assumption about how the adapter compiles or executes source;
// it only consumes this interface from a dedicated worker goroutine.
//
// Initialize is called once. The controller dispatches at most one
// execute/run at a time, but a superseded execution may still be draining
// when the next one starts; adapters that cannot overlap serialize
// internally. Interrupt and Completions may be called while an Execute is
// in flight and must be safe to do so.
type Backend interface {
	Name() string
	Initialize(ctx context.Context) (ReadyInfo, error)
	Execute(ctx context.Context, unit SourceUnit, emit EmitFunc) ExecResult
	Completions(ctx context.Context, prefix string) ([]string, error)
	Interrupt()
	Dispose() error
}
