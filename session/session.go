package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a session's lifecycle state.
type State uint8

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateBusy
	StateErrored
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateErrored:
		return "errored"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Submission is the synchronous outcome of Submit. When the accumulated
// buffer is not yet a complete unit, Complete is false and Cycle is nil;
// the session stays ready with the buffer retained and the continuation
// prompt active.
type Submission struct {
	Complete bool
	Cycle    *Cycle
}

// Session orchestrates one backend instance: it owns the input buffer and
// lifecycle state, frames submitted input, and multiplexes the message
// protocol to the backend worker. Sessions are independent of each other;
// multiple sessions of the same backend kind may run concurrently.
type Session struct {
	id      string
	backend Backend
	cfg     config
	ch      *Channel
	idle    *idleTracker

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	readyCh   chan struct{}
	readyOnce sync.Once

	mu           sync.Mutex
	state        State
	prompt       string
	primary      string
	continuation string
	buffer       string
	seq          uint64
	current      *Cycle
	idleC        <-chan struct{}
	execCancel   context.CancelFunc
	initErr      error
	info         ReadyInfo
	waiters      map[uint64]chan Message
}

// New creates a session bound to one backend instance. The session owns
// the backend from this point: Close disposes it.
func New(backend Backend, opts ...Option) *Session {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:           uuid.NewString(),
		backend:      backend,
		cfg:          cfg,
		ch:           NewChannel(),
		idle:         newIdleTracker(cfg.idleDelay),
		lifeCtx:      ctx,
		lifeCancel:   cancel,
		readyCh:      make(chan struct{}),
		state:        StateUninitialized,
		prompt:       cfg.primary,
		primary:      cfg.primary,
		continuation: cfg.continuation,
		waiters:      make(map[uint64]chan Message),
	}
}

// ID returns the session's identity.
func (s *Session) ID() string { return s.id }

// Backend returns the backend kind this session hosts.
func (s *Session) Backend() string { return s.backend.Name() }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Prompt returns the current prompt string.
func (s *Session) Prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

// Init starts the backend worker and waits for the backend-ready signal.
// Failure is fatal to the session: dispose and create a new one.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("init from state %s", state)
	}
	s.state = StateLoading
	s.mu.Unlock()

	go s.worker()
	go s.dispatch()

	if err := s.ch.Send(Message{Kind: KindInit}); err != nil {
		s.markErrored(err)
		return &BackendInitError{Backend: s.backend.Name(), Err: err}
	}

	timer := time.NewTimer(s.cfg.initTimeout)
	defer timer.Stop()

	select {
	case <-s.readyCh:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == StateReady {
			return nil
		}
		err := s.initErr
		if err == nil {
			err = ErrChannelClosed
		}
		return &BackendInitError{Backend: s.backend.Name(), Err: err}
	case <-ctx.Done():
		s.markErrored(ctx.Err())
		return &BackendInitError{Backend: s.backend.Name(), Err: ctx.Err()}
	case <-timer.C:
		err := errors.New("session start timeout")
		s.markErrored(err)
		return &BackendInitError{Backend: s.backend.Name(), Err: err}
	}
}

// Submit appends text to the input buffer and, if the framer reports a
// complete unit, dispatches it as one execute message. Valid only while
// ready; a submit during an in-flight cycle is rejected with
// ErrSessionBusy and has no observable effect.
func (s *Session) Submit(text string) (Submission, error) {
	s.mu.Lock()
	switch s.state {
	case StateReady:
	case StateBusy:
		s.mu.Unlock()
		return Submission{}, ErrSessionBusy
	case StateTerminated:
		s.mu.Unlock()
		return Submission{}, ErrSessionClosed
	default:
		s.mu.Unlock()
		return Submission{}, ErrNotReady
	}

	if s.buffer == "" {
		s.buffer = text
	} else {
		s.buffer = s.buffer + "\n" + text
	}

	if !s.cfg.framer.Complete(s.buffer) {
		s.prompt = s.continuation
		prompt := s.prompt
		s.mu.Unlock()
		s.notify(Event{Kind: EventPrompt, Text: prompt})
		return Submission{}, nil
	}

	source := s.buffer
	s.buffer = ""
	s.state = StateBusy
	s.seq++
	c := newCycle(s.seq, false)
	s.current = c
	s.mu.Unlock()

	if err := s.ch.Send(Message{Kind: KindExecute, Cycle: c.id, Text: source}); err != nil {
		s.finishCycle(c, 0, err)
		return Submission{}, err
	}
	return Submission{Complete: true, Cycle: c}, nil
}

// Run dispatches a whole program as one batch run. The cycle's terminal
// event fires only after both the backend's synchronous result and the
// idle tracker's quiet window, so scheduled callbacks are covered.
func (s *Session) Run(source string) (*Cycle, error) {
	s.mu.Lock()
	switch s.state {
	case StateReady:
	case StateBusy:
		s.mu.Unlock()
		return nil, ErrSessionBusy
	case StateTerminated:
		s.mu.Unlock()
		return nil, ErrSessionClosed
	default:
		s.mu.Unlock()
		return nil, ErrNotReady
	}

	s.state = StateBusy
	s.idleC = s.idle.Reset()
	s.seq++
	c := newCycle(s.seq, true)
	s.current = c
	s.mu.Unlock()

	if err := s.ch.Send(Message{Kind: KindRun, Cycle: c.id, Text: source}); err != nil {
		s.finishCycle(c, 0, err)
		return nil, err
	}
	return c, nil
}

// Interrupt clears the buffer, restores the primary prompt and supersedes
// any in-flight cycle. Cancellation of backend work is best-effort: the
// superseded cycle resolves immediately with ErrInterrupted and any late
// output for it is discarded rather than surfaced.
func (s *Session) Interrupt() {
	s.mu.Lock()
	switch s.state {
	case StateUninitialized, StateErrored, StateTerminated:
		s.mu.Unlock()
		return
	}
	s.buffer = ""
	s.prompt = s.primary
	prompt := s.prompt
	c := s.current
	s.current = nil
	if s.state == StateBusy {
		s.state = StateReady
	}
	cancel := s.execCancel
	s.execCancel = nil
	var cid uint64
	if c != nil {
		cid = c.id
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = s.ch.Send(Message{Kind: KindInterrupt, Cycle: cid})
	if c != nil {
		c.finish(0, ErrInterrupted)
	}
	s.notify(Event{Kind: EventInterrupted})
	s.notify(Event{Kind: EventPrompt, Text: prompt})
}

// Completions forwards a completion request to the backend. It is
// stateless and allowed while an execution is in flight; a backend with
// no completion support answers with an empty list.
func (s *Session) Completions(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	switch s.state {
	case StateReady, StateBusy:
	case StateTerminated:
		s.mu.Unlock()
		return nil, ErrSessionClosed
	default:
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	s.seq++
	id := s.seq
	ch := make(chan Message, 1)
	s.waiters[id] = ch
	s.mu.Unlock()

	if err := s.ch.Send(Message{Kind: KindComplete, Cycle: id, Text: prefix}); err != nil {
		s.dropWaiter(id)
		return nil, err
	}

	select {
	case m := <-ch:
		if m.Text != "" {
			return nil, errors.New(m.Text)
		}
		return m.Candidates, nil
	case <-ctx.Done():
		s.dropWaiter(id)
		return nil, ctx.Err()
	case <-s.ch.Done():
		s.dropWaiter(id)
		return nil, s.channelFailure()
	}
}

// Close terminates the session from any state. Buffered input and pending
// tasks are discarded without firing; the backend is disposed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return nil
	}
	s.state = StateTerminated
	s.buffer = ""
	c := s.current
	s.current = nil
	cancel := s.execCancel
	s.execCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.lifeCancel()
	s.ch.Close()
	if c != nil {
		c.finish(0, ErrSessionClosed)
	}
	s.readyOnce.Do(func() { close(s.readyCh) })
	return s.backend.Dispose()
}

// worker consumes controller requests and drives the backend adapter.
// Execute and completion requests run on their own goroutines so an
// interrupt can reach the backend while an execution is in flight.
func (s *Session) worker() {
	for {
		select {
		case <-s.ch.Done():
			return
		case msg := <-s.ch.Requests():
			switch msg.Kind {
			case KindInit:
				s.initialize()
			case KindExecute, KindRun:
				go s.executeUnit(msg)
			case KindInterrupt:
				s.backend.Interrupt()
				_ = s.ch.Emit(Message{Kind: KindInterrupted, Cycle: msg.Cycle})
			case KindComplete:
				go s.completeRequest(msg)
			}
		}
	}
}

func (s *Session) initialize() {
	_ = s.ch.Emit(Message{Kind: KindStatus, Text: "loading " + s.backend.Name() + " backend"})
	info, err := s.backend.Initialize(s.lifeCtx)
	if err != nil {
		_ = s.ch.Emit(Message{Kind: KindError, Text: err.Error()})
		return
	}
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
	_ = s.ch.Emit(Message{Kind: KindReady, Text: info.Banner})
}

func (s *Session) executeUnit(req Message) {
	ctx, cancel := context.WithCancel(s.lifeCtx)
	s.mu.Lock()
	s.execCancel = cancel
	s.mu.Unlock()
	defer cancel()

	unit := SourceUnit{Text: req.Text, Batch: req.Kind == KindRun}
	res := s.backend.Execute(ctx, unit, func(m Message) {
		m.Cycle = req.Cycle
		_ = s.ch.Emit(m)
	})

	if res.Err != nil {
		s.ch.Fail(res.Err)
		return
	}
	if res.Exception != "" {
		_ = s.ch.Emit(Message{Kind: KindError, Cycle: req.Cycle, Text: res.Exception, ExitCode: res.ExitCode})
		return
	}
	_ = s.ch.Emit(Message{Kind: KindResult, Cycle: req.Cycle, ExitCode: res.ExitCode})
}

func (s *Session) completeRequest(req Message) {
	cands, err := s.backend.Completions(s.lifeCtx, req.Text)
	m := Message{Kind: KindCompletions, Cycle: req.Cycle, Candidates: cands}
	if err != nil {
		m.Text = err.Error()
	}
	_ = s.ch.Emit(m)
}

// dispatch consumes backend responses in emission order and applies them
// to the state machine.
func (s *Session) dispatch() {
	for {
		select {
		case <-s.ch.Done():
			s.channelStopped()
			return
		case msg := <-s.ch.Responses():
			s.handle(msg)
		}
	}
}

func (s *Session) handle(msg Message) {
	switch msg.Kind {
	case KindStatus:
		s.notify(Event{Kind: EventStatus, Text: msg.Text})

	case KindReady:
		s.mu.Lock()
		if s.state != StateLoading {
			s.mu.Unlock()
			return
		}
		if s.info.PrimaryPrompt != "" {
			s.primary = s.info.PrimaryPrompt
		}
		if s.info.ContinuationPrompt != "" {
			s.continuation = s.info.ContinuationPrompt
		}
		s.prompt = s.primary
		s.state = StateReady
		prompt := s.prompt
		banner := msg.Text
		s.mu.Unlock()
		s.readyOnce.Do(func() { close(s.readyCh) })
		if banner != "" {
			s.notify(Event{Kind: EventStatus, Text: banner})
		}
		s.notify(Event{Kind: EventPrompt, Text: prompt})

	case KindPrompt:
		s.mu.Lock()
		s.prompt = msg.Text
		s.mu.Unlock()
		s.notify(Event{Kind: EventPrompt, Text: msg.Text})

	case KindOutput:
		s.mu.Lock()
		c := s.current
		if c == nil || c.id != msg.Cycle {
			s.mu.Unlock()
			s.cfg.logger.Debug("discarding output for superseded cycle",
				"session", s.id, "cycle", msg.Cycle)
			return
		}
		c.mux.Append(msg.Stream, msg.Text)
		s.mu.Unlock()
		s.notify(Event{Kind: EventOutput, Chunk: OutputChunk{Stream: msg.Stream, Text: msg.Text}})

	case KindTaskScheduled:
		if s.currentBatch(msg.Cycle) {
			s.idle.Register(msg.TaskID, msg.TaskKind)
		}
	case KindTaskFired:
		if s.currentBatch(msg.Cycle) {
			s.idle.Fired(msg.TaskID)
		}
	case KindTaskCancelled:
		if s.currentBatch(msg.Cycle) {
			s.idle.Cancel(msg.TaskID)
		}

	case KindResult, KindDone:
		s.mu.Lock()
		c := s.current
		if c == nil || c.id != msg.Cycle {
			s.mu.Unlock()
			s.cfg.logger.Debug("discarding result for superseded cycle",
				"session", s.id, "cycle", msg.Cycle)
			return
		}
		if c.batch {
			idleC := s.idleC
			s.mu.Unlock()
			s.idle.Settle()
			go s.awaitIdle(c, msg.ExitCode, idleC)
			return
		}
		s.mu.Unlock()
		s.finishCycle(c, msg.ExitCode, nil)

	case KindError:
		s.mu.Lock()
		if s.state == StateLoading {
			s.initErr = errors.New(msg.Text)
			s.state = StateErrored
			s.mu.Unlock()
			s.readyOnce.Do(func() { close(s.readyCh) })
			return
		}
		c := s.current
		if c == nil || c.id != msg.Cycle {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.finishCycle(c, msg.ExitCode, errors.New(msg.Text))

	case KindCompletions:
		s.mu.Lock()
		ch := s.waiters[msg.Cycle]
		delete(s.waiters, msg.Cycle)
		s.mu.Unlock()
		if ch != nil {
			ch <- msg
		}

	case KindInterrupted:
		s.cfg.logger.Debug("backend acknowledged interrupt", "session", s.id)
	}
}

// awaitIdle gates a batch cycle's terminal event on the idle tracker.
func (s *Session) awaitIdle(c *Cycle, exitCode int, idleC <-chan struct{}) {
	select {
	case <-idleC:
		s.finishCycle(c, exitCode, nil)
	case <-c.done:
		// superseded by interrupt or close
	case <-s.ch.Done():
		// channelStopped resolves the cycle
	}
}

// finishCycle clears the buffer, restores the primary prompt, returns the
// session to ready and resolves the cycle. The terminal done or error
// event is the last event of the cycle.
func (s *Session) finishCycle(c *Cycle, exitCode int, err error) {
	s.mu.Lock()
	if s.current == c {
		s.current = nil
		s.buffer = ""
		s.prompt = s.primary
		if s.state == StateBusy {
			s.state = StateReady
		}
	}
	prompt := s.primary
	s.mu.Unlock()

	c.finish(exitCode, err)

	s.notify(Event{Kind: EventPrompt, Text: prompt})
	if err != nil {
		s.notify(Event{Kind: EventError, Text: err.Error()})
	} else {
		s.notify(Event{Kind: EventDone})
	}
}

func (s *Session) channelStopped() {
	err := s.ch.Err()
	s.mu.Lock()
	c := s.current
	s.current = nil
	if s.state != StateTerminated && err != nil {
		s.state = StateErrored
		if s.initErr == nil {
			s.initErr = err
		}
	}
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })

	if c == nil {
		return
	}
	if err != nil {
		cerr := &ChannelError{Err: err}
		c.finish(0, cerr)
		s.notify(Event{Kind: EventError, Text: cerr.Error()})
		return
	}
	c.finish(0, ErrSessionClosed)
}

func (s *Session) currentBatch(cycle uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && s.current.batch && s.current.id == cycle
}

func (s *Session) markErrored(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTerminated {
		s.state = StateErrored
	}
	if s.initErr == nil {
		s.initErr = err
	}
}

func (s *Session) dropWaiter(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.waiters, id)
}

func (s *Session) channelFailure() error {
	if err := s.ch.Err(); err != nil {
		return &ChannelError{Err: err}
	}
	return ErrChannelClosed
}

func (s *Session) notify(ev Event) {
	if s.cfg.observer == nil {
		return
	}
	ev.Session = s.id
	s.cfg.observer(ev)
}
