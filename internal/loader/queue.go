package loader

import (
	"github.com/dshills/loadwire/internal/wire"
)

// messageQueue holds messages that arrived while a load was deferred, in
// arrival order. Messages are owned by the queue until taken or released.
type messageQueue struct {
	msgs []wire.Inbound
}

func (q *messageQueue) push(msg wire.Inbound) {
	q.msgs = append(q.msgs, msg)
}

func (q *messageQueue) empty() bool {
	return len(q.msgs) == 0
}

func (q *messageQueue) len() int {
	return len(q.msgs)
}

// take transfers every queued message to the caller.
func (q *messageQueue) take() []wire.Inbound {
	msgs := q.msgs
	q.msgs = nil
	return msgs
}

// restore puts rest back in front of anything queued since take.
func (q *messageQueue) restore(rest []wire.Inbound) {
	if len(rest) == 0 {
		return
	}
	q.msgs = append(rest, q.msgs...)
}

// release drops every queued message, closing embedded descriptors.
func (q *messageQueue) release() {
	releaseMessages(q.take())
}

func releaseMessages(msgs []wire.Inbound) {
	for _, msg := range msgs {
		wire.ReleaseResources(msg)
	}
}
