// Package quickjs hosts a QuickJS interpreter compiled to WASM as a
// session backend. The guest runs a small bootstrap loop that reads
// JSON commands from stdin and reports results through NUL-framed
// signals on stderr; stdout streams through untouched.
package quickjs

import (
	_ "embed"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/conchlabs/conch/session"
)

//go:embed stdlib.js
var stdlib string

const defaultStartTimeout = 30 * time.Second

type backendConfig struct {
	startTimeout time.Duration
	env          map[string]string
}

// Option configures a Backend.
type Option func(*backendConfig)

// WithStartTimeout bounds how long Initialize waits for the interpreter
// to come up.
func WithStartTimeout(d time.Duration) Option {
	return func(c *backendConfig) {
		c.startTimeout = d
	}
}

// WithEnv sets an environment variable inside the guest.
func WithEnv(key, value string) Option {
	return func(c *backendConfig) {
		if c.env == nil {
			c.env = make(map[string]string)
		}
		c.env[key] = value
	}
}

// Backend runs one persistent QuickJS instance. It implements
// session.Backend.
type Backend struct {
	eng *Engine
	cfg backendConfig

	emitter *emitter
	wire    *wire
	sched   *scheduler

	stdin       *io.PipeWriter
	stdinReader *io.PipeReader

	mu      sync.Mutex
	writeMu sync.Mutex
	execMu  sync.Mutex
	compMu  sync.Mutex
	module  api.Module
	seq     uint64
	started bool
	closed  bool
	exitErr error
	exited  chan struct{}
}

// New creates a Backend on the given Engine. The interpreter does not
// start until Initialize.
func New(eng *Engine, opts ...Option) *Backend {
	cfg := backendConfig{startTimeout: defaultStartTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Backend{eng: eng, cfg: cfg}
}

// Name returns "quickjs".
func (b *Backend) Name() string {
	return "quickjs"
}

// Initialize instantiates the interpreter and waits for its ready
// signal.
func (b *Backend) Initialize(ctx context.Context) (session.ReadyInfo, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return session.ReadyInfo{}, session.ErrSessionClosed
	}
	if b.started {
		b.mu.Unlock()
		return session.ReadyInfo{}, errors.New("backend already initialized")
	}

	compiled, err := b.eng.compiledModule(ctx)
	if err != nil {
		b.mu.Unlock()
		return session.ReadyInfo{}, err
	}

	b.stdinReader, b.stdin = io.Pipe()
	b.emitter = &emitter{}
	b.sched = newScheduler(b.fireTask)
	b.wire = newWire(b.emitter, b.onTask)
	b.exited = make(chan struct{})

	moduleConfig := wazero.NewModuleConfig().
		WithStdout(&outputWriter{em: b.emitter, stream: session.StreamOut}).
		WithStderr(b.wire).
		WithStdin(b.stdinReader).
		WithArgs("qjs", "--std", "-e", stdlib).
		WithName("")
	for k, v := range b.cfg.env {
		moduleConfig = moduleConfig.WithEnv(k, v)
	}

	exited := b.exited
	b.mu.Unlock()

	go func() {
		mod, err := b.eng.runtime.InstantiateModule(context.Background(), compiled, moduleConfig)
		b.mu.Lock()
		b.module = mod
		if err != nil {
			b.exitErr = err
		}
		b.mu.Unlock()
		close(exited)
	}()

	select {
	case <-b.wire.Ready():
		b.mu.Lock()
		b.started = true
		b.mu.Unlock()
		return session.ReadyInfo{
			Banner:             "QuickJS (wasm) via conch",
			PrimaryPrompt:      "js> ",
			ContinuationPrompt: "... ",
		}, nil
	case <-exited:
		return session.ReadyInfo{}, fmt.Errorf("interpreter exited during startup: %w", b.exitError())
	case <-ctx.Done():
		return session.ReadyInfo{}, ctx.Err()
	case <-time.After(b.cfg.startTimeout):
		return session.ReadyInfo{}, errors.New("interpreter start timeout")
	}
}

// guestCommand is the JSON line format the bootstrap loop reads from
// stdin.
type guestCommand struct {
	Type   string `json:"type"`
	Seq    uint64 `json:"seq,omitempty"`
	Code   string `json:"code,omitempty"`
	Batch  bool   `json:"batch,omitempty"`
	ID     int64  `json:"id,omitempty"`
	Prefix string `json:"prefix,omitempty"`
}

func (b *Backend) send(cmd guestCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_, err = b.stdin.Write(data)
	return err
}

// Execute submits one source unit and blocks for its outcome. Superseded
// executions return on ctx cancellation while the guest keeps draining;
// their late done signal is dropped by sequence number.
func (b *Backend) Execute(ctx context.Context, unit session.SourceUnit, emit session.EmitFunc) session.ExecResult {
	b.execMu.Lock()
	defer b.execMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return session.ExecResult{Err: session.ErrSessionClosed}
	}
	if !b.started {
		b.mu.Unlock()
		return session.ExecResult{Err: errors.New("backend not initialized")}
	}
	b.seq++
	seq := b.seq
	exited := b.exited
	b.mu.Unlock()

	b.emitter.set(emit)
	doneC := b.wire.resetExec(seq)
	if unit.Batch {
		b.sched.reset()
	}

	// The pipe write can block while the guest drains a superseded unit,
	// so it must not sit between the caller and ctx cancellation.
	sendErr := make(chan error, 1)
	go func() {
		sendErr <- b.send(guestCommand{Type: "exec", Seq: seq, Code: unit.Text, Batch: unit.Batch})
	}()

	for {
		select {
		case err := <-sendErr:
			if err != nil {
				return session.ExecResult{Err: fmt.Errorf("write command: %w", err)}
			}
			sendErr = nil
		case <-ctx.Done():
			return session.ExecResult{ExitCode: 1, Exception: fmt.Sprintf("execution aborted: %v", ctx.Err())}
		case execErr := <-doneC:
			if execErr != nil {
				return session.ExecResult{ExitCode: 1, Exception: execErr.Error()}
			}
			return session.ExecResult{}
		case <-exited:
			return session.ExecResult{Err: b.exitError()}
		}
	}
}

// Completions asks the guest for identifier completions. When an
// execution is in flight the guest answers after it finishes. Requests
// are serialized; the wire carries one completion answer at a time.
func (b *Backend) Completions(ctx context.Context, prefix string) ([]string, error) {
	b.compMu.Lock()
	defer b.compMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, session.ErrSessionClosed
	}
	if !b.started {
		b.mu.Unlock()
		return nil, errors.New("backend not initialized")
	}
	exited := b.exited
	b.mu.Unlock()

	candsC := b.wire.resetCompletions()

	go func() {
		_ = b.send(guestCommand{Type: "complete", Prefix: prefix})
	}()

	select {
	case cands := <-candsC:
		return cands, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-exited:
		return nil, b.exitError()
	}
}

// Interrupt stops scheduled callbacks from firing and tells the guest to
// drop its task table. A unit already evaluating runs to completion; its
// outcome is discarded by the sequence filter.
func (b *Backend) Interrupt() {
	b.mu.Lock()
	if b.closed || !b.started {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	b.sched.reset()
	go func() {
		_ = b.send(guestCommand{Type: "interrupt"})
	}()
}

// Dispose tears the interpreter down. Closing stdin EOFs the bootstrap
// loop; the module close covers a guest stuck mid-evaluation.
func (b *Backend) Dispose() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if b.sched != nil {
		b.sched.reset()
	}
	if b.stdinReader != nil {
		b.stdinReader.Close()
	}
	if b.stdin != nil {
		b.stdin.Close()
	}
	if b.module != nil {
		b.module.Close(context.Background())
	}

	return nil
}

func (b *Backend) exitError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exitErr != nil {
		return fmt.Errorf("interpreter exited: %w", b.exitErr)
	}
	return errors.New("interpreter exited")
}

// onTask translates guest task signals into host timers and controller
// messages.
func (b *Backend) onTask(ts taskSignal) {
	kind := session.TaskTimeout
	if ts.Kind == "interval" {
		kind = session.TaskInterval
	}

	switch ts.Op {
	case "schedule":
		b.sched.schedule(ts.ID, kind, time.Duration(ts.DelayMS)*time.Millisecond)
		b.emitter.send(session.Message{Kind: session.KindTaskScheduled, TaskID: ts.ID, TaskKind: kind})
	case "fired":
		b.emitter.send(session.Message{Kind: session.KindTaskFired, TaskID: ts.ID, TaskKind: kind})
	case "cancel":
		b.sched.cancel(ts.ID)
		b.emitter.send(session.Message{Kind: session.KindTaskCancelled, TaskID: ts.ID, TaskKind: kind})
	}
}

// fireTask runs on a timer goroutine. The write goes out asynchronously
// so a busy guest never stalls the scheduler.
func (b *Backend) fireTask(id int64) {
	go func() {
		_ = b.send(guestCommand{Type: "fire", ID: id})
	}()
}

// emitter fans backend events to the controller's current sink. The
// sink survives Execute returning so output from late-firing tasks
// keeps its original cycle attribution on the controller side.
type emitter struct {
	mu   sync.Mutex
	emit session.EmitFunc
}

func (e *emitter) set(fn session.EmitFunc) {
	e.mu.Lock()
	e.emit = fn
	e.mu.Unlock()
}

func (e *emitter) send(m session.Message) {
	e.mu.Lock()
	fn := e.emit
	e.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

// outputWriter streams guest stdout to the controller.
type outputWriter struct {
	em     *emitter
	stream session.Stream
}

func (w *outputWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		w.em.send(session.Message{
			Kind:   session.KindOutput,
			Stream: w.stream,
			Text:   string(p),
		})
	}
	return len(p), nil
}
