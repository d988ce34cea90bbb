package loader

import (
	"github.com/dshills/loadwire/internal/shm"
	"github.com/dshills/loadwire/internal/timeticks"
	"github.com/dshills/loadwire/internal/wire"
)

// pendingRequest is the dispatcher's state for one load.
type pendingRequest struct {
	id            RequestID
	peer          Peer
	resourceType  wire.ResourceType
	renderFrameID int
	url           string
	frameOrigin   string
	inspectorID   string

	// Updated on every followed redirect.
	responseURL      string
	responseMethod   string
	responseReferrer string

	loader Loader
	client LoaderClient

	buffer     *shm.Mapping
	bufferSize int
	chunks     *chunkFactory

	deferred        bool
	flushing        bool
	queue           messageQueue
	pendingRedirect bool

	requestStart   timeticks.Ticks
	responseStart  timeticks.Ticks
	completionTime timeticks.Ticks

	// isolation is the classifier token from the response; cleared once
	// the first body chunk has been classified.
	isolation any

	downloadToFile bool
	destroyed      bool
}

func newPendingRequest(id RequestID, peer Peer, req *wire.RequestDescriptor, frameOrigin string, now timeticks.Ticks) *pendingRequest {
	return &pendingRequest{
		id:               id,
		peer:             peer,
		resourceType:     req.ResourceType,
		renderFrameID:    req.RenderFrameID,
		url:              req.URL,
		frameOrigin:      frameOrigin,
		inspectorID:      req.InspectorID,
		responseURL:      req.URL,
		responseMethod:   req.Method,
		responseReferrer: req.Referrer,
		downloadToFile:   req.DownloadToFile,
		requestStart:     now,
	}
}

// destroy drops what is left of the request after it left the registry.
func (r *pendingRequest) destroy() {
	r.destroyed = true
	r.queue.release()
	r.peer = nil
	r.isolation = nil
}

// RequestInfo is a read-only snapshot of a pending load.
type RequestInfo struct {
	ID               RequestID
	ResourceType     wire.ResourceType
	URL              string
	ResponseURL      string
	ResponseMethod   string
	ResponseReferrer string
	InspectorID      string
	Deferred         bool
	Queued           int
	BufferSize       int
	PendingRedirect  bool
	Native           bool
	RequestStart     timeticks.Ticks
	ResponseStart    timeticks.Ticks
	CompletionTime   timeticks.Ticks
}

func (r *pendingRequest) info() RequestInfo {
	return RequestInfo{
		ID:               r.id,
		ResourceType:     r.resourceType,
		URL:              r.url,
		ResponseURL:      r.responseURL,
		ResponseMethod:   r.responseMethod,
		ResponseReferrer: r.responseReferrer,
		InspectorID:      r.inspectorID,
		Deferred:         r.deferred,
		Queued:           r.queue.len(),
		BufferSize:       r.bufferSize,
		PendingRedirect:  r.pendingRedirect,
		Native:           r.loader != nil,
		RequestStart:     r.requestStart,
		ResponseStart:    r.responseStart,
		CompletionTime:   r.completionTime,
	}
}
