package main

import (
	"fmt"
	"io"

	"github.com/dshills/loadwire/internal/loader"
	"github.com/dshills/loadwire/internal/wire"
)

// printer is a loader.Peer that writes one line per event.
type printer struct {
	w        io.Writer
	url      string
	received int
	done     func(ok bool)
}

func newPrinter(w io.Writer, url string, done func(ok bool)) *printer {
	return &printer{w: w, url: url, done: done}
}

func (p *printer) OnUploadProgress(position, size int64) {
	fmt.Fprintf(p.w, "%s: upload %d/%d\n", p.url, position, size)
}

func (p *printer) OnReceivedRedirect(info wire.RedirectInfo, resp loader.ResponseInfo) bool {
	fmt.Fprintf(p.w, "%s: redirect %d -> %s\n", p.url, info.StatusCode, info.NewURL)
	return true
}

func (p *printer) OnReceivedResponse(resp loader.ResponseInfo) {
	fmt.Fprintf(p.w, "%s: response %d %s\n", p.url, resp.StatusCode, resp.MimeType)
}

func (p *printer) OnReceivedCachedMetadata(data []byte) {
	fmt.Fprintf(p.w, "%s: cached metadata %d bytes\n", p.url, len(data))
}

func (p *printer) OnReceivedData(data loader.ReceivedData) {
	p.received += data.Len()
	data.Release()
}

func (p *printer) OnTransferSizeUpdated(diff int) {}

func (p *printer) OnDownloadedData(length, encodedLength int) {
	p.received += length
}

func (p *printer) OnCompletedRequest(status wire.CompletionStatus) {
	if status.ErrorCode != wire.OK {
		fmt.Fprintf(p.w, "%s: failed error=%d\n", p.url, status.ErrorCode)
	} else {
		fmt.Fprintf(p.w, "%s: complete %d bytes\n", p.url, p.received)
	}
	if p.done != nil {
		p.done(status.ErrorCode == wire.OK)
		p.done = nil
	}
}
