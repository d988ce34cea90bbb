package loader

import (
	"context"

	"github.com/dshills/loadwire/internal/wire"
)

// ResponseInfo is a response head with timings in the local clock domain.
type ResponseInfo = wire.ResponseHead

// ReceivedData is a piece of response body handed to a Peer. The peer owns
// it and must call Release exactly once when done; Payload is invalid
// afterwards.
type ReceivedData interface {
	Payload() []byte
	Len() int
	Release()
}

// Peer consumes the events of one load.
type Peer interface {
	OnUploadProgress(position, size int64)
	// OnReceivedRedirect reports whether the redirect should be followed.
	// Returning false cancels the load.
	OnReceivedRedirect(info wire.RedirectInfo, resp ResponseInfo) bool
	OnReceivedResponse(resp ResponseInfo)
	OnReceivedCachedMetadata(data []byte)
	OnReceivedData(data ReceivedData)
	OnTransferSizeUpdated(diff int)
	OnDownloadedData(length, encodedLength int)
	OnCompletedRequest(status wire.CompletionStatus)
}

// Delegate may wrap or replace the peer of a load when its response
// arrives and when it completes. Returning nil keeps the current peer.
type Delegate interface {
	OnReceivedResponse(current Peer, mimeType, url string) Peer
	OnRequestComplete(current Peer, resourceType wire.ResourceType, errorCode int) Peer
}

// FrameHost receives frame-level notifications on the main runner.
type FrameHost interface {
	SubresourceResponseStarted(frameID int, url, referrer, method string, resourceType wire.ResourceType, ip string, certStatus uint32)
}

// Sender carries outbound messages to the peer process.
type Sender interface {
	Send(msg wire.Message) error
	Call(ctx context.Context, msg *wire.SyncLoad) (*wire.SyncLoadResult, error)
}

// Loader is a load running on a native transport instead of the wire.
type Loader interface {
	FollowRedirect()
	SetPriority(priority wire.Priority, intraPriority int)
	Cancel()
}

// LoaderClient receives a native load's events and feeds them to an
// EventSink. It keeps its own deferral queue.
type LoaderClient interface {
	SetDefersLoading()
	UnsetDefersLoading()
	FlushDeferredMessages()
}

// EventSink accepts messages produced by a native LoaderClient. They are
// applied immediately; the client is responsible for ordering.
type EventSink interface {
	Deliver(msg wire.Inbound)
}

// LoadOptions are the flags passed to a LoaderFactory.
type LoadOptions struct {
	SniffMimeType bool
	Synchronous   bool
}

// LoaderFactory starts native loads.
type LoaderFactory interface {
	CreateLoaderAndStart(id RequestID, routingID int, req *wire.RequestDescriptor, opts LoadOptions, throttles []Throttle, sink EventSink) (Loader, LoaderClient, error)
}

// Throttle inspects or delays a load. Throttles handed to a sync load are
// moved to the worker goroutine and must not be used by the caller again.
type Throttle interface {
	DetachFromCurrentSequence()
}

// SyncLoader runs a blocking load to completion on the calling goroutine
// and fills resp.
type SyncLoader interface {
	LoadSync(ctx context.Context, req *wire.RequestDescriptor, routingID int, frameOrigin string, throttles []Throttle, resp *SyncLoadResponse)
}
