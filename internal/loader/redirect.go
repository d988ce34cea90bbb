package loader

import (
	"fmt"

	"github.com/dshills/loadwire/internal/wire"
)

// onReceivedRedirect asks the peer whether to follow a redirect. A
// declined redirect cancels the load. An accepted one is followed now, or
// when the load stops being deferred.
func (d *Dispatcher) onReceivedRedirect(m *wire.ReceivedRedirect) {
	id := RequestID(m.ID)
	req := d.lookup(id)
	if req == nil {
		return
	}
	if req.pendingRedirect {
		d.failDuplicateRedirect(id, m)
		return
	}
	req.responseStart = d.consumeIOTimestamp()

	info := d.toResponseInfo(req, &m.Head)
	if !req.peer.OnReceivedRedirect(m.Info, info) {
		d.log.Debug("request %d: redirect to %s declined", id, m.Info.NewURL)
		d.Cancel(id)
		return
	}

	// The peer may have removed the load, or a redirect may have been
	// delivered re-entrantly from its callback.
	req = d.lookup(id)
	if req == nil {
		return
	}
	if req.pendingRedirect {
		d.failDuplicateRedirect(id, m)
		return
	}

	req.responseURL = m.Info.NewURL
	req.responseMethod = m.Info.NewMethod
	req.responseReferrer = m.Info.NewReferrer
	req.pendingRedirect = true
	d.metrics.recordRedirect()

	if !req.deferred {
		d.followPendingRedirect(req)
	}
}

func (d *Dispatcher) failDuplicateRedirect(id RequestID, m *wire.ReceivedRedirect) {
	d.fail(&FatalError{
		Kind:      FatalProtocol,
		RequestID: id,
		Err:       fmt.Errorf("%w: %s", ErrDuplicateRedirect, m.Info.NewURL),
	})
}

// followPendingRedirect releases the recorded follow instruction, if any.
func (d *Dispatcher) followPendingRedirect(req *pendingRequest) {
	if !req.pendingRedirect {
		return
	}
	req.pendingRedirect = false

	if req.loader != nil {
		req.loader.FollowRedirect()
		return
	}
	d.send(&wire.FollowRedirect{ID: int32(req.id)})
}
