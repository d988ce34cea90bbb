package loader

import (
	"sync/atomic"

	"github.com/dshills/loadwire/internal/sequence"
	"github.com/dshills/loadwire/internal/shm"
	"github.com/dshills/loadwire/internal/timeticks"
)

// RequestID identifies a load within one process. It is only meaningful
// to the process that allocated it.
type RequestID int32

// IDAllocator hands out increasing request ids starting at zero.
// It is safe for concurrent use.
type IDAllocator struct {
	next atomic.Int32
}

// Next returns a fresh id.
func (a *IDAllocator) Next() RequestID {
	return RequestID(a.next.Add(1) - 1)
}

// Process holds the state shared by every dispatcher of one process.
// Construct one per process and pass it to each dispatcher.
type Process struct {
	ids    IDAllocator
	clock  timeticks.Clock
	mapper shm.Mapper
	main   sequence.Runner
}

// ProcessOption configures a Process.
type ProcessOption func(*Process)

// WithClock sets the local clock.
func WithClock(c timeticks.Clock) ProcessOption {
	return func(p *Process) {
		p.clock = c
	}
}

// WithMapper sets the shared-memory mapper.
func WithMapper(m shm.Mapper) ProcessOption {
	return func(p *Process) {
		p.mapper = m
	}
}

// WithMainRunner sets the runner frame-level notifications are delivered
// on.
func WithMainRunner(r sequence.Runner) ProcessOption {
	return func(p *Process) {
		p.main = r
	}
}

// NewProcess creates process state with a monotonic clock and an mmap
// based mapper unless overridden.
func NewProcess(opts ...ProcessOption) *Process {
	p := &Process{}
	for _, opt := range opts {
		opt(p)
	}
	if p.clock == nil {
		p.clock = timeticks.NewClock()
	}
	if p.mapper == nil {
		p.mapper = shm.NewMemMapper()
	}
	return p
}

// NextRequestID allocates a request id.
func (p *Process) NextRequestID() RequestID {
	return p.ids.Next()
}

// Now returns the local time.
func (p *Process) Now() timeticks.Ticks {
	return p.clock.Now()
}
