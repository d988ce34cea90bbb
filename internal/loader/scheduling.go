package loader

import (
	"sync"

	"github.com/dshills/loadwire/internal/sequence"
	"github.com/dshills/loadwire/internal/wire"
)

// SchedulingFilter routes inbound frames from the transport goroutine to
// the runner of the load they belong to. Loads without a runner of their
// own use the fallback. It is safe for concurrent use.
//
// Every runner handed to the filter must execute tasks on the dispatcher's
// sequence (a sequence.Queue on the dispatcher's Loop, for example).
type SchedulingFilter struct {
	fallback sequence.Runner

	mu      sync.RWMutex
	runners map[RequestID]sequence.Runner
}

// NewSchedulingFilter creates a filter posting to fallback by default.
func NewSchedulingFilter(fallback sequence.Runner) *SchedulingFilter {
	return &SchedulingFilter{
		fallback: fallback,
		runners:  make(map[RequestID]sequence.Runner),
	}
}

// SetRequestRunner associates id with r.
func (f *SchedulingFilter) SetRequestRunner(id RequestID, r sequence.Runner) {
	f.mu.Lock()
	f.runners[id] = r
	f.mu.Unlock()
}

// ClearRequestRunner drops the association of id.
func (f *SchedulingFilter) ClearRequestRunner(id RequestID) {
	f.mu.Lock()
	delete(f.runners, id)
	f.mu.Unlock()
}

// RunnerFor returns the runner frames for id are posted to.
func (f *SchedulingFilter) RunnerFor(id RequestID) sequence.Runner {
	f.mu.RLock()
	r, ok := f.runners[id]
	f.mu.RUnlock()
	if ok {
		return r
	}
	return f.fallback
}

// Route posts handle(f) to the runner of the frame's load. It returns
// false without posting, and without taking the frame's descriptors, if f
// is not a resource frame. A frame that cannot be posted is dropped and
// its descriptors closed.
func (f *SchedulingFilter) Route(frame wire.Frame, handle func(wire.Frame)) bool {
	if !wire.KindOf(frame.Data).IsInbound() {
		return false
	}
	id, _ := wire.PeekRequestID(frame.Data)
	r := f.RunnerFor(RequestID(id))
	if err := r.Post(func() { handle(frame) }); err != nil {
		frame.Close()
	}
	return true
}
