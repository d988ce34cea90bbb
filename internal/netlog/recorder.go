package netlog

import (
	"github.com/dshills/loadwire/internal/loader"
	"github.com/dshills/loadwire/internal/wire"
)

// recorder is a loader.Peer that notes what passes through it.
// It runs on the dispatcher's sequence and needs no locking.
type recorder struct {
	log   *Log
	next  loader.Peer
	entry Entry
	done  bool
}

func (r *recorder) OnUploadProgress(position, size int64) {
	r.next.OnUploadProgress(position, size)
}

func (r *recorder) OnReceivedRedirect(info wire.RedirectInfo, resp loader.ResponseInfo) bool {
	if !r.next.OnReceivedRedirect(info, resp) {
		return false
	}
	r.entry.Redirects++
	r.entry.URL = info.NewURL
	if info.NewMethod != "" {
		r.entry.Method = info.NewMethod
	}
	return true
}

func (r *recorder) OnReceivedResponse(resp loader.ResponseInfo) {
	r.entry.StatusCode = resp.StatusCode
	if resp.MimeType != "" {
		r.entry.MimeType = resp.MimeType
	}
	r.entry.RequestStart = resp.RequestStart
	r.entry.ResponseStart = resp.ResponseStart
	r.next.OnReceivedResponse(resp)
}

func (r *recorder) OnReceivedCachedMetadata(data []byte) {
	r.next.OnReceivedCachedMetadata(data)
}

func (r *recorder) OnReceivedData(data loader.ReceivedData) {
	r.entry.ReceivedBytes += int64(data.Len())
	r.next.OnReceivedData(data)
}

func (r *recorder) OnTransferSizeUpdated(diff int) {
	r.entry.TransferSize += int64(diff)
	r.next.OnTransferSizeUpdated(diff)
}

func (r *recorder) OnDownloadedData(length, encodedLength int) {
	r.entry.ReceivedBytes += int64(length)
	r.next.OnDownloadedData(length, encodedLength)
}

// OnCompletedRequest commits the entry before forwarding.
func (r *recorder) OnCompletedRequest(status wire.CompletionStatus) {
	if !r.done {
		r.done = true
		e := r.entry
		e.ErrorCode = status.ErrorCode
		e.ExistsInCache = status.ExistsInCache
		e.CompletionTime = status.CompletionTime
		e.EncodedDataLength = status.EncodedDataLength
		e.EncodedBodyLength = status.EncodedBodyLength
		e.DecodedBodyLength = status.DecodedBodyLength
		r.log.commit(e)
	}
	r.next.OnCompletedRequest(status)
}
