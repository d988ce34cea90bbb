package loader

import (
	"fmt"

	"github.com/dshills/loadwire/internal/wire"
)

// onSetDataBuffer attaches the segment response bodies are written to.
// A valid handle must come with a positive size within MaxBufferSize; an
// invalid handle must come with size zero and detaches the buffer.
func (d *Dispatcher) onSetDataBuffer(m *wire.SetDataBuffer) {
	id := RequestID(m.ID)
	req := d.lookup(id)
	if req == nil {
		wire.ReleaseResources(m)
		return
	}

	valid := m.Handle.Valid()
	if (valid && m.Size <= 0) || (!valid && m.Size != 0) || m.Size > d.config.MaxBufferSize {
		wire.ReleaseResources(m)
		d.fail(&FatalError{
			Kind:      FatalBuffer,
			RequestID: id,
			Err:       fmt.Errorf("%w: %d bytes (valid handle: %t, max %d)", ErrBufferSize, m.Size, valid, d.config.MaxBufferSize),
		})
		return
	}

	// Re-attachment replaces the previous segment.
	d.detachBuffer(req)
	if !valid {
		return
	}

	mapping, err := d.proc.mapper.Map(m.Handle, m.Size)
	if err != nil {
		d.fail(&FatalError{Kind: FatalMapFailure, RequestID: id, Err: err})
		return
	}

	req.buffer = mapping
	req.bufferSize = m.Size
	req.chunks = newChunkFactory(d.sender, id, mapping, d.log)
}

// onReceivedData hands the peer a view of [Offset, Offset+Length) of the
// attached buffer. The view acknowledges itself when released; without a
// view the range is acknowledged immediately.
func (d *Dispatcher) onReceivedData(m *wire.DataReceived) {
	id := RequestID(m.ID)
	req := d.lookup(id)
	sendAck := true

	if req != nil && m.Length > 0 {
		end := m.Offset + m.Length
		if req.buffer == nil || m.Offset < 0 || end < m.Offset || end > req.bufferSize {
			d.fail(&FatalError{
				Kind:      FatalBuffer,
				RequestID: id,
				Err:       fmt.Errorf("%w: [%d, %d) of %d", ErrBufferBounds, m.Offset, end, req.bufferSize),
			})
			d.send(&wire.DataReceivedAck{ID: m.ID})
			return
		}

		if req.isolation != nil && d.classifier != nil {
			if mem := req.buffer.Bytes(); mem != nil {
				d.classifier.OnReceivedFirstChunk(req.isolation, mem[m.Offset:end])
			}
			req.isolation = nil
		}

		var data ReceivedData
		if chunk := req.chunks.create(m.Offset, m.Length); chunk != nil {
			sendAck = false
			data = chunk
		} else {
			data = copyRange(req.buffer.Bytes(), m.Offset, end)
		}
		req.peer.OnReceivedData(data)
	}

	// The peer callback may have modified or removed the request.
	req = d.lookup(id)
	if req != nil && m.EncodedLength > 0 {
		req.peer.OnTransferSizeUpdated(m.EncodedLength)
	}

	if sendAck {
		d.send(&wire.DataReceivedAck{ID: m.ID})
	}
}

// detachBuffer stops the chunk factory and drops the request's reference
// to the mapping. Chunks still held by the peer keep the memory mapped
// until they are released.
func (d *Dispatcher) detachBuffer(req *pendingRequest) {
	if req.chunks != nil {
		req.chunks.stop()
		req.chunks = nil
	}
	if req.buffer != nil {
		if err := req.buffer.Release(); err != nil {
			d.log.Warn("request %d: %v", req.id, err)
		}
		req.buffer = nil
	}
	req.bufferSize = 0
}
