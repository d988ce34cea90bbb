package loader

import (
	"errors"
	"time"

	"github.com/dshills/loadwire/internal/wire"
)

// OnMessageReceived handles one inbound frame and consumes its
// descriptors. It returns false if the frame is not a resource message.
// A resource frame that cannot be decoded is a protocol violation and goes
// to the fatal handler.
func (d *Dispatcher) OnMessageReceived(f wire.Frame) bool {
	msg, err := wire.DecodeFrame(f)
	if errors.Is(err, wire.ErrNotResource) {
		return false
	}
	if err != nil {
		id, _ := wire.PeekRequestID(f.Data)
		d.fail(&FatalError{Kind: FatalProtocol, RequestID: RequestID(id), Err: err})
		return true
	}
	d.OnMessage(msg)
	return true
}

// OnMessage routes a decoded message. Messages for unknown loads are
// dropped after releasing their descriptors. Messages for deferred loads,
// or for loads with messages still queued, are queued behind them.
func (d *Dispatcher) OnMessage(msg wire.Inbound) {
	if d.closed {
		wire.ReleaseResources(msg)
		return
	}

	id := RequestID(msg.RequestID())
	req := d.lookup(id)
	if req == nil {
		d.metrics.recordDiscarded()
		wire.ReleaseResources(msg)
		return
	}

	if req.deferred || req.flushing {
		req.queue.push(msg)
		d.metrics.recordQueued()
		return
	}

	if !req.queue.empty() {
		req.queue.push(msg)
		d.metrics.recordQueued()
		d.flushDeferredMessages(id)
		return
	}

	d.dispatchMessage(msg)
}

// Deliver implements EventSink for native loader clients. The message is
// applied without consulting the deferral queue.
func (d *Dispatcher) Deliver(msg wire.Inbound) {
	if d.closed || d.lookup(RequestID(msg.RequestID())) == nil {
		wire.ReleaseResources(msg)
		return
	}
	d.dispatchMessage(msg)
}

func (d *Dispatcher) dispatchMessage(msg wire.Inbound) {
	start := time.Now()

	switch m := msg.(type) {
	case *wire.UploadProgress:
		d.onUploadProgress(m)
	case *wire.ReceivedResponse:
		d.onReceivedResponse(m)
	case *wire.ReceivedCachedMetadata:
		d.onReceivedCachedMetadata(m)
	case *wire.SetDataBuffer:
		d.onSetDataBuffer(m)
	case *wire.DataReceived:
		d.onReceivedData(m)
	case *wire.DataDownloaded:
		d.onDownloadedData(m)
	case *wire.ReceivedRedirect:
		d.onReceivedRedirect(m)
	case *wire.RequestComplete:
		d.onRequestComplete(m)
	}

	d.metrics.recordDispatch(msg.Kind(), time.Since(start))
}

// flushDeferredMessages applies queued messages in order until the queue
// is empty, the load is gone or the load is deferred again.
func (d *Dispatcher) flushDeferredMessages(id RequestID) {
	req := d.lookup(id)
	if req == nil || req.deferred || req.flushing {
		return
	}

	if req.client != nil {
		req.client.FlushDeferredMessages()
		return
	}

	// Handlers may remove the request or defer it, so work on messages
	// taken out of the request and resolve it again after each one.
	// Messages arriving re-entrantly while flushing are queued behind.
	req.flushing = true
	q := req.queue.take()
	completed := false
	defer func() {
		// Also runs when a handler panics and the runner recovers: the
		// load must not stay marked as flushing, and unapplied messages
		// go back in front of its queue.
		r := d.lookup(id)
		if r == nil {
			releaseMessages(q)
			return
		}
		r.flushing = false
		r.queue.restore(q)
		if !completed && !r.deferred && !r.queue.empty() {
			d.post(func() { d.flushDeferredMessages(id) })
		}
	}()

	for len(q) > 0 {
		msg := q[0]
		q[0] = nil
		q = q[1:]

		d.dispatchMessage(msg)

		req = d.lookup(id)
		if req == nil || req.deferred {
			break
		}
		if len(q) == 0 {
			q = req.queue.take()
		}
	}
	completed = true
}

func (d *Dispatcher) onUploadProgress(m *wire.UploadProgress) {
	id := RequestID(m.ID)
	req := d.lookup(id)
	if req == nil {
		return
	}

	native := req.loader != nil
	req.peer.OnUploadProgress(m.Position, m.Size)

	// Native loaders acknowledge on their own.
	if !native {
		d.send(&wire.UploadProgressAck{ID: m.ID})
	}
}

func (d *Dispatcher) onReceivedResponse(m *wire.ReceivedResponse) {
	id := RequestID(m.ID)
	req := d.lookup(id)
	if req == nil {
		return
	}
	req.responseStart = d.consumeIOTimestamp()

	if d.delegate != nil {
		d.replacePeer(req, d.delegate.OnReceivedResponse(req.peer, m.Head.MimeType, req.url))
	}

	if !req.resourceType.IsFrame() {
		d.notifySubresourceStarted(req, &m.Head)
	}

	info := d.toResponseInfo(req, &m.Head)
	if d.classifier != nil {
		req.isolation = d.classifier.OnReceivedResponse(req.frameOrigin, req.responseURL, req.resourceType, info)
	}
	req.peer.OnReceivedResponse(info)
}

func (d *Dispatcher) onReceivedCachedMetadata(m *wire.ReceivedCachedMetadata) {
	req := d.lookup(RequestID(m.ID))
	if req == nil || len(m.Data) == 0 {
		return
	}
	req.peer.OnReceivedCachedMetadata(m.Data)
}

func (d *Dispatcher) onDownloadedData(m *wire.DataDownloaded) {
	req := d.lookup(RequestID(m.ID))
	if req == nil {
		return
	}
	req.peer.OnDownloadedData(m.Length, m.EncodedLength)
}

func (d *Dispatcher) onRequestComplete(m *wire.RequestComplete) {
	id := RequestID(m.ID)
	req := d.lookup(id)
	if req == nil {
		return
	}
	req.completionTime = d.consumeIOTimestamp()
	d.detachBuffer(req)

	if d.delegate != nil {
		d.replacePeer(req, d.delegate.OnRequestComplete(req.peer, req.resourceType, m.Status.ErrorCode))
	}

	status := m.Status
	status.CompletionTime = d.toLocalCompletionTime(req, m.Status.CompletionTime)
	req.peer.OnCompletedRequest(status)

	// The peer may have cancelled or removed the load itself.
	if d.lookup(id) != nil {
		d.removePendingRequest(id)
	}
}

// replacePeer installs the peer a delegate returned. A nil peer keeps the
// current one.
func (d *Dispatcher) replacePeer(req *pendingRequest, p Peer) {
	if p == nil {
		d.log.Warn("request %d: delegate returned no peer, keeping the current one", req.id)
		return
	}
	req.peer = p
}

// notifySubresourceStarted tells the frame host a subresource response
// arrived. The host lives on the main runner; the call is posted there
// when the dispatcher runs elsewhere.
func (d *Dispatcher) notifySubresourceStarted(req *pendingRequest, head *wire.ResponseHead) {
	host := d.frameHost
	if host == nil {
		return
	}

	frameID := req.renderFrameID
	url, referrer, method := req.responseURL, req.responseReferrer, req.responseMethod
	rt := req.resourceType
	ip, cert := head.SocketAddress, head.CertStatus
	notify := func() {
		host.SubresourceResponseStarted(frameID, url, referrer, method, rt, ip, cert)
	}

	main := d.proc.main
	if main == nil || main == d.runner {
		notify()
		return
	}
	if err := main.Post(notify); err != nil {
		d.log.Debug("main runner gone, dropping subresource notification: %v", err)
	}
}
