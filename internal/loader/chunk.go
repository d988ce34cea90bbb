package loader

import (
	"sync"

	"github.com/dshills/loadwire/internal/logging"
	"github.com/dshills/loadwire/internal/shm"
	"github.com/dshills/loadwire/internal/wire"
)

// chunkFactory creates views over a request's data buffer and sends one
// data-received ack per view, in creation order, as views are released.
// Views may be released from any goroutine.
type chunkFactory struct {
	sender  Sender
	id      RequestID
	mapping *shm.Mapping
	log     *logging.Logger

	mu       sync.Mutex
	next     uint64
	oldest   uint64
	released map[uint64]bool
	stopped  bool
}

func newChunkFactory(sender Sender, id RequestID, mapping *shm.Mapping, log *logging.Logger) *chunkFactory {
	return &chunkFactory{
		sender:   sender,
		id:       id,
		mapping:  mapping,
		log:      log,
		released: make(map[uint64]bool),
	}
}

// create returns a view of [offset, offset+length), or nil if the factory
// is stopped or the memory is gone.
func (f *chunkFactory) create(offset, length int) *sharedChunk {
	if f == nil {
		return nil
	}

	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	if !f.mapping.Retain() {
		f.mu.Unlock()
		return nil
	}
	seq := f.next
	f.next++
	f.mu.Unlock()

	mem := f.mapping.Bytes()
	return &sharedChunk{
		factory: f,
		seq:     seq,
		data:    mem[offset : offset+length],
	}
}

// stop suppresses acks for views released from now on. Outstanding views
// stay readable until released.
func (f *chunkFactory) stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *chunkFactory) release(seq uint64) {
	f.mu.Lock()
	f.released[seq] = true
	acks := 0
	for f.released[f.oldest] {
		delete(f.released, f.oldest)
		f.oldest++
		acks++
	}
	stopped := f.stopped
	f.mu.Unlock()

	if err := f.mapping.Release(); err != nil {
		f.log.Warn("request %d: %v", f.id, err)
	}

	if stopped {
		return
	}
	for i := 0; i < acks; i++ {
		if err := f.sender.Send(&wire.DataReceivedAck{ID: int32(f.id)}); err != nil {
			f.log.Warn("request %d: send ack: %v", f.id, err)
		}
	}
}

// sharedChunk is a ReceivedData backed by shared memory.
type sharedChunk struct {
	factory *chunkFactory
	seq     uint64

	mu   sync.Mutex
	data []byte
	done bool
}

// Payload returns the bytes, or nil after Release.
func (c *sharedChunk) Payload() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

// Len returns the payload length.
func (c *sharedChunk) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Release acknowledges the range. Extra calls are no-ops.
func (c *sharedChunk) Release() {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	c.data = nil
	c.mu.Unlock()

	c.factory.release(c.seq)
}

// copiedData is a ReceivedData that owns a private copy of its bytes and
// needs no acknowledgement.
type copiedData struct {
	data []byte
}

func copyRange(mem []byte, start, end int) *copiedData {
	if mem == nil {
		return &copiedData{}
	}
	b := make([]byte, end-start)
	copy(b, mem[start:end])
	return &copiedData{data: b}
}

func (c *copiedData) Payload() []byte { return c.data }
func (c *copiedData) Len() int        { return len(c.data) }
func (c *copiedData) Release()        { c.data = nil }
