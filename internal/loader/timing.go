package loader

import (
	"github.com/dshills/loadwire/internal/timeticks"
	"github.com/dshills/loadwire/internal/wire"
)

// consumeIOTimestamp returns the timestamp set by SetIOTimestamp and
// clears it, or the current local time if none was set.
func (d *Dispatcher) consumeIOTimestamp() timeticks.Ticks {
	if d.ioTimestamp.IsNull() {
		return d.proc.Now()
	}
	t := d.ioTimestamp
	d.ioTimestamp = 0
	return t
}

// toResponseInfo copies head and moves its timings into the local clock
// domain. The copy is returned unchanged when clocks are consistent across
// processes or any reference point is missing.
func (d *Dispatcher) toResponseInfo(req *pendingRequest, head *wire.ResponseHead) ResponseInfo {
	info := *head
	if d.config.ConsistentClock ||
		req.requestStart.IsNull() ||
		req.responseStart.IsNull() ||
		head.RequestStart.IsNull() ||
		head.ResponseStart.IsNull() ||
		head.LoadTiming.RequestStart.IsNull() {
		return info
	}

	c := timeticks.NewConverter(req.requestStart, req.responseStart, head.RequestStart, head.ResponseStart)
	if !c.IsSkewAdditive() {
		d.metrics.recordCompressedTiming()
	}

	lt := &info.LoadTiming
	for _, t := range []*timeticks.Ticks{
		&lt.RequestStart,
		&lt.ProxyResolveStart,
		&lt.ProxyResolveEnd,
		&lt.DNSStart,
		&lt.DNSEnd,
		&lt.ConnectStart,
		&lt.ConnectEnd,
		&lt.SSLStart,
		&lt.SSLEnd,
		&lt.SendStart,
		&lt.SendEnd,
		&lt.ReceiveHeadersEnd,
		&lt.PushStart,
		&lt.PushEnd,
		&info.ServiceWorkerStartTime,
		&info.ServiceWorkerReadyTime,
	} {
		*t = c.ToLocal(*t)
	}
	return info
}

// toLocalCompletionTime clamps the remote completion time into
// [responseStart, completionTime] of the local clock. Without a local
// completion time the remote value is returned as is.
func (d *Dispatcher) toLocalCompletionTime(req *pendingRequest, remote timeticks.Ticks) timeticks.Ticks {
	if req.completionTime.IsNull() {
		return remote
	}
	return min(max(remote, req.responseStart), req.completionTime)
}
