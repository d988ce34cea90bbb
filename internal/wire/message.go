package wire

import (
	"github.com/dshills/loadwire/internal/shm"
)

// Kind names a wire message type. It is carried in the "type" field of
// every frame.
type Kind string

// Inbound kinds: peer process to dispatcher.
const (
	KindUploadProgress         Kind = "upload-progress"
	KindReceivedResponse       Kind = "received-response"
	KindReceivedCachedMetadata Kind = "received-cached-metadata"
	KindSetDataBuffer          Kind = "set-data-buffer"
	KindDataReceived           Kind = "data-received"
	KindDataDownloaded         Kind = "data-downloaded"
	KindReceivedRedirect       Kind = "received-redirect"
	KindRequestComplete        Kind = "request-complete"
)

// Outbound kinds: dispatcher to peer process.
const (
	KindUploadProgressAck     Kind = "upload-progress-ack"
	KindDataReceivedAck       Kind = "data-received-ack"
	KindFollowRedirect        Kind = "follow-redirect"
	KindCancelRequest         Kind = "cancel-request"
	KindReleaseDownloadedFile Kind = "release-downloaded-file"
	KindDidChangePriority     Kind = "did-change-priority"
	KindRequestResource       Kind = "request-resource"
	KindSyncLoad              Kind = "sync-load"
	KindSyncLoadResult        Kind = "sync-load-result"
)

// IsInbound reports whether k is one of the resource messages a dispatcher
// consumes.
func (k Kind) IsInbound() bool {
	switch k {
	case KindUploadProgress, KindReceivedResponse, KindReceivedCachedMetadata,
		KindSetDataBuffer, KindDataReceived, KindDataDownloaded,
		KindReceivedRedirect, KindRequestComplete:
		return true
	}
	return false
}

// Inbound is a decoded resource message addressed to one request.
// The set of implementations is closed.
type Inbound interface {
	RequestID() int32
	Kind() Kind
	inbound()
}

// UploadProgress reports how much of the request body has been sent.
type UploadProgress struct {
	ID       int32 `json:"request_id"`
	Position int64 `json:"position"`
	Size     int64 `json:"size"`
}

// ReceivedResponse delivers the response head.
type ReceivedResponse struct {
	ID   int32        `json:"request_id"`
	Head ResponseHead `json:"head"`
}

// ReceivedCachedMetadata delivers metadata stored alongside a cache entry.
type ReceivedCachedMetadata struct {
	ID   int32  `json:"request_id"`
	Data []byte `json:"data"`
}

// SetDataBuffer hands over the shared-memory segment response bodies will
// be written to. Index refers to the descriptors that arrived with the
// frame, not to a descriptor number; Handle is populated by DecodeFrame
// and is invalid when the frame carried no matching descriptor.
type SetDataBuffer struct {
	ID     int32       `json:"request_id"`
	Index  int         `json:"handle"`
	Size   int         `json:"size"`
	Handle *shm.Handle `json:"-"`
}

// DataReceived announces body bytes at [Offset, Offset+Length) of the
// data buffer.
type DataReceived struct {
	ID            int32 `json:"request_id"`
	Offset        int   `json:"offset"`
	Length        int   `json:"length"`
	EncodedLength int   `json:"encoded_length"`
}

// DataDownloaded reports progress of a download-to-file load.
type DataDownloaded struct {
	ID            int32 `json:"request_id"`
	Length        int   `json:"length"`
	EncodedLength int   `json:"encoded_length"`
}

// ReceivedRedirect asks whether to follow a redirect.
type ReceivedRedirect struct {
	ID   int32        `json:"request_id"`
	Info RedirectInfo `json:"info"`
	Head ResponseHead `json:"head"`
}

// RequestComplete ends a load.
type RequestComplete struct {
	ID     int32            `json:"request_id"`
	Status CompletionStatus `json:"status"`
}

func (m *UploadProgress) RequestID() int32         { return m.ID }
func (m *ReceivedResponse) RequestID() int32       { return m.ID }
func (m *ReceivedCachedMetadata) RequestID() int32 { return m.ID }
func (m *SetDataBuffer) RequestID() int32          { return m.ID }
func (m *DataReceived) RequestID() int32           { return m.ID }
func (m *DataDownloaded) RequestID() int32         { return m.ID }
func (m *ReceivedRedirect) RequestID() int32       { return m.ID }
func (m *RequestComplete) RequestID() int32        { return m.ID }

func (*UploadProgress) Kind() Kind         { return KindUploadProgress }
func (*ReceivedResponse) Kind() Kind       { return KindReceivedResponse }
func (*ReceivedCachedMetadata) Kind() Kind { return KindReceivedCachedMetadata }
func (*SetDataBuffer) Kind() Kind          { return KindSetDataBuffer }
func (*DataReceived) Kind() Kind           { return KindDataReceived }
func (*DataDownloaded) Kind() Kind         { return KindDataDownloaded }
func (*ReceivedRedirect) Kind() Kind       { return KindReceivedRedirect }
func (*RequestComplete) Kind() Kind        { return KindRequestComplete }

func (*UploadProgress) inbound()         {}
func (*ReceivedResponse) inbound()       {}
func (*ReceivedCachedMetadata) inbound() {}
func (*SetDataBuffer) inbound()          {}
func (*DataReceived) inbound()           {}
func (*DataDownloaded) inbound()         {}
func (*ReceivedRedirect) inbound()       {}
func (*RequestComplete) inbound()        {}

// ReleaseResources closes any descriptor embedded in msg. It is used when
// a message is dropped without being applied.
func ReleaseResources(msg Inbound) {
	if m, ok := msg.(*SetDataBuffer); ok {
		_ = m.Handle.Close()
	}
}

// Outbound is a message sent to the peer process.
type Outbound interface {
	Kind() Kind
}

// UploadProgressAck acknowledges an UploadProgress.
type UploadProgressAck struct {
	ID int32 `json:"request_id"`
}

// DataReceivedAck acknowledges consumption of one DataReceived range.
type DataReceivedAck struct {
	ID int32 `json:"request_id"`
}

// FollowRedirect tells the peer to follow the pending redirect.
type FollowRedirect struct {
	ID int32 `json:"request_id"`
}

// CancelRequest aborts a load.
type CancelRequest struct {
	ID int32 `json:"request_id"`
}

// ReleaseDownloadedFile lets the peer delete a download-to-file result.
type ReleaseDownloadedFile struct {
	ID int32 `json:"request_id"`
}

// DidChangePriority reprioritises a load.
type DidChangePriority struct {
	ID            int32    `json:"request_id"`
	Priority      Priority `json:"priority"`
	IntraPriority int      `json:"intra_priority"`
}

// RequestResource starts an asynchronous load.
type RequestResource struct {
	RoutingID int               `json:"routing_id"`
	ID        int32             `json:"request_id"`
	Request   RequestDescriptor `json:"request"`
}

// SyncLoad starts a synchronous load. CallID correlates the reply and is
// assigned by the transport.
type SyncLoad struct {
	CallID    int64             `json:"call_id"`
	RoutingID int               `json:"routing_id"`
	ID        int32             `json:"request_id"`
	Request   RequestDescriptor `json:"request"`
}

// SyncLoadReply carries the result of a SyncLoad.
type SyncLoadReply struct {
	CallID int64          `json:"call_id"`
	Result SyncLoadResult `json:"result"`
}

func (*UploadProgressAck) Kind() Kind     { return KindUploadProgressAck }
func (*DataReceivedAck) Kind() Kind       { return KindDataReceivedAck }
func (*FollowRedirect) Kind() Kind        { return KindFollowRedirect }
func (*CancelRequest) Kind() Kind         { return KindCancelRequest }
func (*ReleaseDownloadedFile) Kind() Kind { return KindReleaseDownloadedFile }
func (*DidChangePriority) Kind() Kind     { return KindDidChangePriority }
func (*RequestResource) Kind() Kind       { return KindRequestResource }
func (*SyncLoad) Kind() Kind              { return KindSyncLoad }
func (*SyncLoadReply) Kind() Kind         { return KindSyncLoadResult }
