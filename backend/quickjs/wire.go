package quickjs

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/conchlabs/conch/session"
)

// Wire signal constants - the guest bootstrap emits these on stderr.
// Format: \x00CONCH_<NAME>:<payload>\x00. Regular stderr output passes
// through as err-stream output.
//
// Done and error signals carry the sequence number of the exec command
// they answer. A superseded execution keeps running inside the guest
// after the host abandons it; the sequence number keeps its late done
// from resolving the next execution.
const (
	readySignal       = "\x00CONCH_READY\x00"
	donePrefix        = "\x00CONCH_DONE:"
	errorPrefix       = "\x00CONCH_ERROR:"
	taskPrefix        = "\x00CONCH_TASK:"
	completionsPrefix = "\x00CONCH_COMPLETIONS:"
	signalSuffix      = "\x00"
)

type signalType int

const (
	signalNone signalType = iota
	signalReady
	signalDone
	signalError
	signalTask
	signalCompletions
)

// findNextSignal returns the earliest signal occurrence in content.
func findNextSignal(content string) (int, signalType) {
	best := -1
	bestType := signalNone

	consider := func(idx int, t signalType) {
		if idx != -1 && (best == -1 || idx < best) {
			best = idx
			bestType = t
		}
	}

	consider(strings.Index(content, readySignal), signalReady)
	consider(strings.Index(content, donePrefix), signalDone)
	consider(strings.Index(content, errorPrefix), signalError)
	consider(strings.Index(content, taskPrefix), signalTask)
	consider(strings.Index(content, completionsPrefix), signalCompletions)

	return best, bestType
}

// extractPayload pulls the payload of a prefixed signal starting at idx.
// ok is false when the terminator has not arrived yet.
func extractPayload(content string, idx int, prefix string) (payload, remaining string, ok bool) {
	after := content[idx+len(prefix):]
	end := strings.Index(after, signalSuffix)
	if end == -1 {
		return "", "", false
	}
	return after[:end], after[end+1:], true
}

// taskSignal is the payload of a CONCH_TASK signal.
type taskSignal struct {
	Op      string `json:"op"` // schedule, fired, cancel
	ID      int64  `json:"id"`
	Kind    string `json:"kind"` // timeout, interval
	DelayMS int64  `json:"delay_ms,omitempty"`
}

// errorSignal is the payload of a CONCH_ERROR signal.
type errorSignal struct {
	Seq     uint64 `json:"seq"`
	Message string `json:"message"`
}

// wire parses the guest's stderr into control signals and streams the
// rest through as err-stream output.
type wire struct {
	em     *emitter
	onTask func(taskSignal)

	mu      sync.Mutex
	buf     bytes.Buffer
	ready   bool
	readyCh chan struct{}
	execSeq uint64
	doneCh  chan error
	compCh  chan []string
}

func newWire(em *emitter, onTask func(taskSignal)) *wire {
	return &wire{
		em:      em,
		onTask:  onTask,
		readyCh: make(chan struct{}),
		doneCh:  make(chan error, 1),
		compCh:  make(chan []string, 1),
	}
}

func (w *wire) Ready() <-chan struct{} {
	return w.readyCh
}

// resetExec installs a fresh done channel answering the given sequence
// number. Done signals for other sequences are dropped.
func (w *wire) resetExec(seq uint64) <-chan error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.execSeq = seq
	w.doneCh = make(chan error, 1)
	return w.doneCh
}

func (w *wire) resetCompletions() <-chan []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.compCh = make(chan []string, 1)
	return w.compCh
}

func (w *wire) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(data)

	for {
		content := w.buf.String()
		if content == "" {
			break
		}

		idx, sig := findNextSignal(content)
		if sig == signalNone {
			w.flushPassthrough(content)
			break
		}

		if idx > 0 {
			w.passthrough(content[:idx])
		}

		var rest string
		complete := true

		switch sig {
		case signalReady:
			rest = content[idx+len(readySignal):]
			if !w.ready {
				w.ready = true
				close(w.readyCh)
			}

		case signalDone:
			payload, remaining, ok := extractPayload(content, idx, donePrefix)
			if !ok {
				w.setBuf(content[idx:])
				complete = false
				break
			}
			rest = remaining
			if seq, err := strconv.ParseUint(payload, 10, 64); err == nil {
				w.resolve(seq, nil)
			}

		case signalError:
			payload, remaining, ok := extractPayload(content, idx, errorPrefix)
			if !ok {
				w.setBuf(content[idx:])
				complete = false
				break
			}
			rest = remaining
			var es errorSignal
			if err := json.Unmarshal([]byte(payload), &es); err == nil {
				w.resolve(es.Seq, errors.New(es.Message))
			}

		case signalTask:
			payload, remaining, ok := extractPayload(content, idx, taskPrefix)
			if !ok {
				w.setBuf(content[idx:])
				complete = false
				break
			}
			rest = remaining
			var ts taskSignal
			if err := json.Unmarshal([]byte(payload), &ts); err == nil && w.onTask != nil {
				w.onTask(ts)
			}

		case signalCompletions:
			payload, remaining, ok := extractPayload(content, idx, completionsPrefix)
			if !ok {
				w.setBuf(content[idx:])
				complete = false
				break
			}
			rest = remaining
			var cands []string
			if err := json.Unmarshal([]byte(payload), &cands); err != nil {
				cands = nil
			}
			select {
			case w.compCh <- cands:
			default:
			}
		}

		if !complete {
			break
		}
		w.setBuf(rest)
	}

	return len(data), nil
}

// resolve delivers an execution outcome if it answers the current
// sequence. Late outcomes from superseded executions are dropped.
func (w *wire) resolve(seq uint64, execErr error) {
	if seq != w.execSeq {
		return
	}
	select {
	case w.doneCh <- execErr:
	default:
	}
}

func (w *wire) setBuf(s string) {
	w.buf.Reset()
	w.buf.WriteString(s)
}

// flushPassthrough emits signal-free content, holding back a trailing
// fragment that may be the start of a signal still in flight.
func (w *wire) flushPassthrough(content string) {
	hold := strings.LastIndex(content, signalSuffix)
	if hold == -1 {
		w.passthrough(content)
		w.buf.Reset()
		return
	}
	w.passthrough(content[:hold])
	w.setBuf(content[hold:])
}

func (w *wire) passthrough(text string) {
	if text == "" {
		return
	}
	w.em.send(session.Message{
		Kind:   session.KindOutput,
		Stream: session.StreamErr,
		Text:   text,
	})
}
