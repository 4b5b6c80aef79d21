package session

// Stream identifies which output stream a fragment belongs to.
type Stream uint8

const (
	StreamOut Stream = iota
	StreamErr
)

func (s Stream) String() string {
	if s == StreamErr {
		return "err"
	}
	return "out"
}

// TaskKind distinguishes one-shot from repeating scheduled callbacks.
type TaskKind uint8

const (
	TaskTimeout TaskKind = iota
	TaskInterval
)

func (k TaskKind) String() string {
	if k == TaskInterval {
		return "interval"
	}
	return "timeout"
}

// MessageKind tags a record exchanged over the execution channel.
type MessageKind string

// Controller to backend.
const (
	KindInit      MessageKind = "init"
	KindExecute   MessageKind = "execute"
	KindRun       MessageKind = "run"
	KindInterrupt MessageKind = "interrupt"
	KindComplete  MessageKind = "complete"
)

// Backend to controller.
const (
	KindStatus        MessageKind = "status"
	KindReady         MessageKind = "ready"
	KindPrompt        MessageKind = "prompt"
	KindOutput        MessageKind = "output"
	KindResult        MessageKind = "result"
	KindError         MessageKind = "error"
	KindCompletions   MessageKind = "completions"
	KindInterrupted   MessageKind = "interrupted"
	KindDone          MessageKind = "done"
	KindTaskScheduled MessageKind = "task_scheduled"
	KindTaskFired     MessageKind = "task_fired"
	KindTaskCancelled MessageKind = "task_cancelled"
)

// Message is the tagged record exchanged over the execution channel.
// Payload fields are populated according to Kind; Cycle correlates a
// response with the execute/run/complete request that caused it.
type Message struct {
	Kind       MessageKind `json:"kind"`
	Cycle      uint64      `json:"cycle,omitempty"`
	Text       string      `json:"text,omitempty"`
	Stream     Stream      `json:"stream,omitempty"`
	ExitCode   int         `json:"exit_code,omitempty"`
	Candidates []string    `json:"candidates,omitempty"`
	TaskID     int64       `json:"task_id,omitempty"`
	TaskKind   TaskKind    `json:"task_kind,omitempty"`
}
