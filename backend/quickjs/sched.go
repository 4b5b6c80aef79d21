package quickjs

import (
	"sync"
	"time"

	"github.com/conchlabs/conch/session"
)

// scheduler owns the host-side timers behind guest setTimeout and
// setInterval. The guest only records callbacks; the host decides when
// one is due and writes a fire command back over stdin.
type scheduler struct {
	fire      func(id int64)
	afterFunc func(time.Duration, func()) *time.Timer

	mu    sync.Mutex
	tasks map[int64]*hostTask
}

type hostTask struct {
	kind  session.TaskKind
	delay time.Duration
	timer *time.Timer
}

func newScheduler(fire func(id int64)) *scheduler {
	return &scheduler{
		fire:      fire,
		afterFunc: time.AfterFunc,
		tasks:     make(map[int64]*hostTask),
	}
}

func (s *scheduler) schedule(id int64, kind session.TaskKind, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.tasks[id]; ok {
		prev.timer.Stop()
	}

	task := &hostTask{kind: kind, delay: delay}
	task.timer = s.afterFunc(delay, func() { s.due(id) })
	s.tasks[id] = task
}

// due runs on the timer goroutine. Intervals re-arm themselves;
// one-shot tasks leave the table before the fire command goes out.
func (s *scheduler) due(id int64) {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if ok {
		if task.kind == session.TaskInterval {
			task.timer = s.afterFunc(task.delay, func() { s.due(id) })
		} else {
			delete(s.tasks, id)
		}
	}
	s.mu.Unlock()

	if ok {
		s.fire(id)
	}
}

func (s *scheduler) cancel(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task, ok := s.tasks[id]; ok {
		task.timer.Stop()
		delete(s.tasks, id)
	}
}

// reset drops every timer. Called at the start of a batch run and on
// interrupt so stale callbacks from earlier work never fire.
func (s *scheduler) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range s.tasks {
		task.timer.Stop()
	}
	s.tasks = make(map[int64]*hostTask)
}

func (s *scheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
