package session

// EventKind tags an observer event.
type EventKind uint8

const (
	EventStatus EventKind = iota
	EventPrompt
	EventOutput
	EventError
	EventInterrupted
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventPrompt:
		return "prompt"
	case EventOutput:
		return "output"
	case EventError:
		return "error"
	case EventInterrupted:
		return "interrupted"
	case EventDone:
		return "done"
	}
	return "unknown"
}

// Event is delivered to the session observer as the controller processes
// backend responses. Within one session events arrive in true emission
// order, and the done or error event of a cycle is always its last.
type Event struct {
	Kind    EventKind
	Session string

	// Text is the status line, prompt string or error text.
	Text string

	// Chunk is set for EventOutput.
	Chunk OutputChunk
}
