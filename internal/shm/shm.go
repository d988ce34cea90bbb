// Package shm maps shared-memory segments handed over by a peer process.
//
// Allocation of segments is the peer's job. This package only wraps the
// descriptor it receives (Handle), maps it read-only (Mapper) and tracks
// the lifetime of the resulting view (Mapping).
package shm

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrInvalidHandle indicates a nil or already closed handle.
	ErrInvalidHandle = errors.New("shm: invalid handle")

	// ErrSize indicates a requested mapping size outside the allowed range.
	ErrSize = errors.New("shm: size out of range")

	// ErrUnsupported indicates the platform cannot map shared memory.
	ErrUnsupported = errors.New("shm: unsupported platform")
)

// Handle is an owned descriptor for a shared-memory segment.
// Closing a handle more than once is a no-op.
type Handle struct {
	mu     sync.Mutex
	fd     int
	closed bool
}

// NewHandle takes ownership of fd. A negative fd yields an invalid handle.
func NewHandle(fd int) *Handle {
	h := &Handle{fd: fd}
	if fd < 0 {
		h.closed = true
	}
	return h
}

// FD returns the descriptor, or -1 if the handle is invalid.
func (h *Handle) FD() int {
	if h == nil {
		return -1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return -1
	}
	return h.fd
}

// Valid reports whether the handle still owns a descriptor.
func (h *Handle) Valid() bool {
	return h.FD() >= 0
}

// Close releases the descriptor.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return closeFD(h.fd)
}

// Mapper maps handles into memory.
type Mapper interface {
	// Map maps size bytes of h read-only. On success the mapping holds one
	// reference owned by the caller. The handle is consumed either way.
	Map(h *Handle, size int) (*Mapping, error)
}

// Mapping is a reference-counted read-only view of a segment. The memory
// is unmapped when the last reference is released; Bytes returns nil from
// then on.
type Mapping struct {
	mu    sync.Mutex
	data  []byte
	refs  int
	unmap func([]byte) error
}

func newMapping(data []byte, unmap func([]byte) error) *Mapping {
	return &Mapping{data: data, refs: 1, unmap: unmap}
}

// NewMapping wraps memory obtained elsewhere. unmap may be nil.
func NewMapping(data []byte, unmap func([]byte) error) *Mapping {
	return newMapping(data, unmap)
}

// Bytes returns the mapped memory.
func (m *Mapping) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// Len returns the mapped size.
func (m *Mapping) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// Retain adds a reference. It returns false if the mapping is already gone.
func (m *Mapping) Retain() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs == 0 {
		return false
	}
	m.refs++
	return true
}

// Release drops a reference and unmaps on the last one.
func (m *Mapping) Release() error {
	m.mu.Lock()
	if m.refs == 0 {
		m.mu.Unlock()
		return nil
	}
	m.refs--
	if m.refs > 0 {
		m.mu.Unlock()
		return nil
	}
	data := m.data
	m.data = nil
	unmap := m.unmap
	m.mu.Unlock()

	if unmap == nil || data == nil {
		return nil
	}
	if err := unmap(data); err != nil {
		return fmt.Errorf("shm: unmap: %w", err)
	}
	return nil
}

// Mapped reports whether the memory is still mapped.
func (m *Mapping) Mapped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs > 0
}

// MemMapper maps handles with mmap(2). It counts live mappings so tests
// and diagnostics can check for leaks.
type MemMapper struct {
	live atomic.Int64
}

// NewMemMapper creates a mapper.
func NewMemMapper() *MemMapper {
	return &MemMapper{}
}

// Live returns the number of mappings not yet unmapped.
func (mm *MemMapper) Live() int64 {
	return mm.live.Load()
}

// Map implements Mapper.
func (mm *MemMapper) Map(h *Handle, size int) (*Mapping, error) {
	defer h.Close()

	fd := h.FD()
	if fd < 0 {
		return nil, ErrInvalidHandle
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrSize, size)
	}

	data, err := mapReadOnly(fd, size)
	if err != nil {
		return nil, fmt.Errorf("shm: map %d bytes: %w", size, err)
	}
	mm.live.Add(1)

	return newMapping(data, func(b []byte) error {
		mm.live.Add(-1)
		return unmapMemory(b)
	}), nil
}
