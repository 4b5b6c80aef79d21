package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned by operations on a terminated session.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionBusy is returned when a submit or run is attempted while
	// another execution cycle is still in flight.
	ErrSessionBusy = errors.New("session busy")

	// ErrNotReady is returned when an operation requires a ready session.
	ErrNotReady = errors.New("session not ready")

	// ErrInterrupted resolves the cycle that an interrupt superseded.
	ErrInterrupted = errors.New("interrupted")

	// ErrChannelClosed is returned by sends on a closed execution channel.
	ErrChannelClosed = errors.New("execution channel closed")
)

// BackendInitError reports a failed backend initialization. It is fatal to
// the session: the caller must close it and create a new one.
type BackendInitError struct {
	Backend string
	Err     error
}

func (e *BackendInitError) Error() string {
	return fmt.Sprintf("initialize %s backend: %v", e.Backend, e.Err)
}

func (e *BackendInitError) Unwrap() error { return e.Err }

// ChannelError reports that the execution channel itself failed, typically
// because the isolated execution context terminated unexpectedly. It is
// fatal to the session.
type ChannelError struct {
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("execution channel failed: %v", e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
