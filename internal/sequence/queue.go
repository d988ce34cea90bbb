package sequence

import "sync"

// Queue is a Runner that forwards tasks to a parent runner until it is
// closed. A load's runner is a Queue on the main Loop, closed once the
// load finishes so late frames for it are turned away.
type Queue struct {
	parent Runner

	mu     sync.Mutex
	closed bool
}

// NewQueue creates a queue feeding parent.
func NewQueue(parent Runner) *Queue {
	return &Queue{parent: parent}
}

// Post implements Runner. It returns ErrStopped once the queue is closed.
func (q *Queue) Post(task Task) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()

	if closed {
		return ErrStopped
	}
	return q.parent.Post(task)
}

// Close stops forwarding. Tasks already forwarded still run.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
