package loader

import (
	"github.com/dshills/loadwire/internal/wire"
)

// lookup returns the pending request for id, or nil. A nil result is
// expected for loads cancelled while messages were in flight.
func (d *Dispatcher) lookup(id RequestID) *pendingRequest {
	return d.requests[id]
}

// IsPending reports whether id names a registered load.
func (d *Dispatcher) IsPending(id RequestID) bool {
	return d.lookup(id) != nil
}

// Len returns the number of registered loads.
func (d *Dispatcher) Len() int {
	return len(d.requests)
}

// Info returns a snapshot of a registered load.
func (d *Dispatcher) Info(id RequestID) (RequestInfo, bool) {
	req := d.lookup(id)
	if req == nil {
		return RequestInfo{}, false
	}
	return req.info(), true
}

// Cancel aborts a load. The peer process is told unless the load already
// completed or runs on a native loader, which is cancelled directly.
func (d *Dispatcher) Cancel(id RequestID) {
	req := d.lookup(id)
	if req == nil {
		d.log.Debug("cancel for unknown request %d", id)
		return
	}

	if req.completionTime.IsNull() && req.loader == nil {
		d.send(&wire.CancelRequest{ID: int32(id)})
	}
	d.metrics.recordCancelled()
	d.removePendingRequest(id)
}

// removePendingRequest unregisters a load. Transport and buffer are
// detached and queued messages released right away; the request state
// itself is destroyed on a later task so callers further up the stack can
// still touch it.
func (d *Dispatcher) removePendingRequest(id RequestID) bool {
	req := d.lookup(id)
	if req == nil {
		return false
	}

	// A native client releases downloaded files itself.
	releaseDownloadedFile := req.downloadToFile && req.client == nil

	req.queue.release()

	if req.loader != nil {
		req.loader.Cancel()
	}
	req.loader = nil
	req.client = nil
	d.detachBuffer(req)

	delete(d.requests, id)
	d.metrics.recordRemoved()

	if err := d.runner.Post(func() { d.destroy(req) }); err != nil {
		// Nothing runs on a stopped runner, so nothing can observe the
		// request any more.
		d.destroy(req)
	}

	if releaseDownloadedFile {
		d.send(&wire.ReleaseDownloadedFile{ID: int32(id)})
	}
	if d.filter != nil {
		d.filter.ClearRequestRunner(id)
	}
	return true
}

func (d *Dispatcher) destroy(req *pendingRequest) {
	req.destroy()
	d.metrics.recordDestroyed()
}
