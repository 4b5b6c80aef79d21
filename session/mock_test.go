package session

import (
	"context"
	"strings"
	"sync"
)

// mockBackend implements Backend for exercising controller logic without
// a real interpreter.
type mockBackend struct {
	mu          sync.Mutex
	initErr     error
	info        ReadyInfo
	handler     func(unit SourceUnit, emit EmitFunc) ExecResult
	completions []string
	completeErr error
	units       []SourceUnit
	interrupts  int
	disposed    bool
	block       chan struct{}
}

func newMockBackend() *mockBackend {
	return &mockBackend{info: ReadyInfo{Banner: "mock ready"}}
}

func (m *mockBackend) Name() string { return "mock" }

func (m *mockBackend) Initialize(ctx context.Context) (ReadyInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initErr != nil {
		return ReadyInfo{}, m.initErr
	}
	return m.info, nil
}

func (m *mockBackend) Execute(ctx context.Context, unit SourceUnit, emit EmitFunc) ExecResult {
	m.mu.Lock()
	m.units = append(m.units, unit)
	handler := m.handler
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ExecResult{ExitCode: 1, Exception: ctx.Err().Error()}
		}
	}
	if handler != nil {
		return handler(unit, emit)
	}
	return ExecResult{}
}

func (m *mockBackend) Completions(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	var out []string
	for _, c := range m.completions {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockBackend) Interrupt() {
	m.mu.Lock()
	m.interrupts++
	m.mu.Unlock()
}

func (m *mockBackend) Dispose() error {
	m.mu.Lock()
	m.disposed = true
	m.mu.Unlock()
	return nil
}

func (m *mockBackend) unitTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.units))
	for i, u := range m.units {
		out[i] = u.Text
	}
	return out
}

func (m *mockBackend) interruptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interrupts
}

func (m *mockBackend) wasDisposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// eventLog collects observer events for assertions.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) byKind(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
