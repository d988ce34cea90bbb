package loader

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/dshills/loadwire/internal/wire"
)

// SyncLoadResponse is the result of a blocking load.
type SyncLoadResponse struct {
	ErrorCode         int
	URL               string
	Headers           http.Header
	MimeType          string
	Charset           string
	RequestTime       time.Time
	ResponseTime      time.Time
	LoadTiming        wire.LoadTiming
	Data              []byte
	DownloadFilePath  string
	SocketAddress     string
	EncodedDataLength int64
	EncodedBodyLength int64
}

// SyncOptions are per-load parameters of StartSync.
type SyncOptions struct {
	RoutingID   int
	FrameOrigin string

	// Native runs the load on a worker goroutine through the SyncLoader.
	Native bool

	// Throttles are handed to the worker and must not be used by the
	// caller afterwards.
	Throttles []Throttle
}

// StartSync runs a load to completion and returns its result. Like every
// dispatcher method it is called from a task of the dispatcher's runner,
// which it blocks until the load finishes. A transport failure is reported
// through ErrorCode, not as an error; errors are returned only for loads
// that could not be started.
func (d *Dispatcher) StartSync(ctx context.Context, req *wire.RequestDescriptor, opts SyncOptions) (*SyncLoadResponse, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if err := checkReferrer(req); err != nil {
		return nil, err
	}

	resp := &SyncLoadResponse{}

	if opts.Native {
		if d.syncLoader == nil {
			return nil, ErrNoSyncLoader
		}
		for _, t := range opts.Throttles {
			t.DetachFromCurrentSequence()
		}

		// The worker owns req, resp and the throttles until done is closed.
		done := make(chan struct{})
		loader := d.syncLoader
		go func(throttles []Throttle) {
			defer close(done)
			loader.LoadSync(ctx, req, opts.RoutingID, opts.FrameOrigin, throttles, resp)
		}(opts.Throttles)
		<-done

		resp.Charset = normalizeCharset(resp.Charset)
		return resp, nil
	}

	call := &wire.SyncLoad{
		RoutingID: opts.RoutingID,
		ID:        int32(d.proc.NextRequestID()),
		Request:   *req,
	}
	result, err := d.sender.Call(ctx, call)
	if err != nil {
		d.log.Warn("sync load %s: %v", req.URL, err)
		resp.ErrorCode = wire.ErrFailed
		return resp, nil
	}

	resp.ErrorCode = result.ErrorCode
	resp.URL = result.FinalURL
	resp.Headers = result.Headers
	resp.MimeType = result.MimeType
	resp.Charset = normalizeCharset(result.Charset)
	resp.RequestTime = result.RequestTime
	resp.ResponseTime = result.ResponseTime
	resp.LoadTiming = result.LoadTiming
	resp.Data = result.Data
	resp.DownloadFilePath = result.DownloadFilePath
	resp.SocketAddress = result.SocketAddress
	resp.EncodedDataLength = result.EncodedDataLength
	resp.EncodedBodyLength = result.EncodedBodyLength
	return resp, nil
}

// normalizeCharset maps a charset label to its canonical WHATWG name.
// Unknown labels are returned lower-cased.
func normalizeCharset(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return ""
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return strings.ToLower(label)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		return strings.ToLower(label)
	}
	return name
}

// String implements fmt.Stringer for logging.
func (r *SyncLoadResponse) String() string {
	return fmt.Sprintf("sync load %s: error=%d mime=%s bytes=%d", r.URL, r.ErrorCode, r.MimeType, len(r.Data))
}
