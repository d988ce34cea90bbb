package loader

// SetDefersLoading pauses or resumes delivery for a load. While deferred,
// inbound messages are queued. Resuming follows a pending redirect and
// flushes the queue on a later task.
func (d *Dispatcher) SetDefersLoading(id RequestID, deferred bool) {
	req := d.lookup(id)
	if req == nil {
		d.log.Debug("defer change for unknown request %d", id)
		return
	}

	if deferred {
		req.deferred = true
		if req.client != nil {
			req.client.SetDefersLoading()
		}
		return
	}
	if !req.deferred {
		return
	}

	req.deferred = false
	if req.client != nil {
		req.client.UnsetDefersLoading()
	}
	d.followPendingRedirect(req)

	d.post(func() { d.flushDeferredMessages(id) })
}
