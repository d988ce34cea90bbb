// Package loader implements the renderer-side resource-load dispatcher.
//
// A Dispatcher owns every in-flight load started in its process. Loads are
// started with StartAsync or StartSync; the peer process answers with
// resource messages (see package wire) which the dispatcher correlates to
// the load by request id and turns into calls on the load's Peer.
//
// # Architecture
//
//   - Process: state shared by all dispatchers of a process (request id
//     allocator, clock, shared-memory mapper, main runner)
//   - Registry: the map from RequestID to pending request state
//   - Router: decodes frames, drops messages for unknown loads, queues
//     messages for deferred loads and applies the rest
//   - Buffer manager: maps the response body segment and hands out chunks
//     that acknowledge themselves when released
//   - Redirect coordinator: asks the peer, records and releases the
//     follow-redirect instruction
//   - Sync bridge: blocking loads, either on a worker goroutine or as a
//     synchronous wire call
//
// # Threading
//
// A Dispatcher is not safe for concurrent use. It is bound to one
// sequence.Runner and every method must be called from tasks of that
// runner. Wire frames read on other goroutines are posted to the runner by
// a SchedulingFilter. The only blocking method is StartSync.
//
// # Reentrancy
//
// Peer callbacks may cancel their own load, start new loads, defer the
// load or swap the peer. The dispatcher never holds request state across a
// callback: it resolves the request by id again afterwards, and the state
// of a removed request is released on a later task rather than inside the
// call that removed it.
package loader
