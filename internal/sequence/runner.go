// Package sequence provides single-threaded task runners.
//
// A Runner executes posted tasks one at a time in posting order. Components
// that are not safe for concurrent use (the loader dispatcher in particular)
// are bound to exactly one Runner and only touched from its tasks.
package sequence

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrStopped is returned when posting to a runner that has been stopped.
var ErrStopped = errors.New("sequence: runner stopped")

// Task is a unit of work executed on a runner.
type Task func()

// Runner executes tasks sequentially in FIFO order.
type Runner interface {
	// Post schedules task to run after every previously posted task.
	// Post never runs task synchronously.
	Post(task Task) error
}

// PanicHandler is invoked when a task panics on a Loop.
type PanicHandler func(value any, stack []byte)

// Loop is a Runner backed by a single goroutine.
type Loop struct {
	mu      sync.Mutex
	tasks   []Task
	wake    chan struct{}
	stopped bool

	running atomic.Bool
	done    chan struct{}

	onPanic PanicHandler
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithPanicHandler recovers panicking tasks and reports them to h.
// Without a handler a panicking task crashes the process.
func WithPanicHandler(h PanicHandler) LoopOption {
	return func(l *Loop) {
		l.onPanic = h
	}
}

// NewLoop creates a loop. Call Run to start executing tasks.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Post implements Runner.
func (l *Loop) Post(task Task) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run executes tasks until ctx is cancelled or Stop is called.
// Tasks still queued when the loop exits are discarded.
func (l *Loop) Run(ctx context.Context) {
	if l.running.Swap(true) {
		return
	}
	defer close(l.done)

	for {
		l.mu.Lock()
		batch := l.tasks
		l.tasks = nil
		stopped := l.stopped
		l.mu.Unlock()

		for _, task := range batch {
			l.runTask(task)
		}

		if stopped {
			return
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.wake:
		}
	}
}

// Start runs the loop on a new goroutine.
func (l *Loop) Start(ctx context.Context) {
	go l.Run(ctx)
}

// Stop prevents further posts. Tasks already queued still run.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) runTask(task Task) {
	if l.onPanic == nil {
		task()
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.onPanic(r, debug.Stack())
		}
	}()
	task()
}

// Manual is a Runner whose tasks only run when the owner asks.
// It is used by tests to observe state between a call and its posted
// follow-up work.
type Manual struct {
	mu    sync.Mutex
	tasks []Task
}

// NewManual creates an empty manual runner.
func NewManual() *Manual {
	return &Manual{}
}

// Post implements Runner.
func (m *Manual) Post(task Task) error {
	m.mu.Lock()
	m.tasks = append(m.tasks, task)
	m.mu.Unlock()
	return nil
}

// Pending returns the number of queued tasks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// RunOne runs the oldest queued task. It returns false if none was queued.
func (m *Manual) RunOne() bool {
	m.mu.Lock()
	if len(m.tasks) == 0 {
		m.mu.Unlock()
		return false
	}
	task := m.tasks[0]
	m.tasks = m.tasks[1:]
	m.mu.Unlock()

	task()
	return true
}

// RunUntilIdle runs tasks, including ones posted while running, until the
// queue is empty. It returns the number of tasks run.
func (m *Manual) RunUntilIdle() int {
	n := 0
	for m.RunOne() {
		n++
	}
	return n
}
