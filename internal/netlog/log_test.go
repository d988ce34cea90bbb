package netlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/loadwire/internal/loader"
	"github.com/dshills/loadwire/internal/sequence"
	"github.com/dshills/loadwire/internal/wire"
)

type nopPeer struct {
	redirects int
	decline   bool
	completed int
	data      int
}

func (p *nopPeer) OnUploadProgress(position, size int64) {}
func (p *nopPeer) OnReceivedRedirect(info wire.RedirectInfo, resp loader.ResponseInfo) bool {
	p.redirects++
	return !p.decline
}
func (p *nopPeer) OnReceivedResponse(resp loader.ResponseInfo) {}
func (p *nopPeer) OnReceivedCachedMetadata(data []byte)        {}
func (p *nopPeer) OnReceivedData(data loader.ReceivedData) {
	p.data += data.Len()
	data.Release()
}
func (p *nopPeer) OnTransferSizeUpdated(diff int)             {}
func (p *nopPeer) OnDownloadedData(length, encodedLength int) {}
func (p *nopPeer) OnCompletedRequest(status wire.CompletionStatus) {
	p.completed++
}

type bytesData []byte

func (b bytesData) Payload() []byte { return b }
func (b bytesData) Len() int        { return len(b) }
func (b bytesData) Release()        {}

type failingSink struct{ calls int }

func (s *failingSink) Record(Entry) error {
	s.calls++
	return errors.New("disk full")
}

func fixedNow() func() time.Time {
	t := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestLog_WrapRecordsLoad(t *testing.T) {
	l := New(WithNow(fixedNow()))
	next := &nopPeer{}
	req := &wire.RequestDescriptor{
		Method:       "POST",
		URL:          "https://example.com/form",
		ResourceType: wire.ResourceXHR,
		InspectorID:  "8c1f8a1e-3a59-4f8d-9c4b-2a7f7f9d6b10",
	}
	p := l.Wrap(next, req)

	p.OnReceivedRedirect(wire.RedirectInfo{StatusCode: 303, NewMethod: "GET", NewURL: "https://example.com/done"}, loader.ResponseInfo{})
	p.OnReceivedResponse(loader.ResponseInfo{StatusCode: 200, MimeType: "text/html", RequestStart: 10, ResponseStart: 20})
	p.OnReceivedData(bytesData("hello"))
	p.OnDownloadedData(3, 3)
	p.OnTransferSizeUpdated(40)
	p.OnCompletedRequest(wire.CompletionStatus{ErrorCode: wire.OK, EncodedDataLength: 90, DecodedBodyLength: 8, CompletionTime: 30})

	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.ID != req.InspectorID {
		t.Errorf("ID = %q, want inspector id", e.ID)
	}
	if e.Method != "GET" || e.URL != "https://example.com/done" || e.Redirects != 1 {
		t.Errorf("request = %s %s redirects=%d", e.Method, e.URL, e.Redirects)
	}
	if e.StatusCode != 200 || e.MimeType != "text/html" || e.ResourceType != wire.ResourceXHR {
		t.Errorf("response = %+v", e)
	}
	if e.ReceivedBytes != 8 || e.TransferSize != 40 || e.EncodedDataLength != 90 || e.DecodedBodyLength != 8 {
		t.Errorf("sizes = %+v", e)
	}
	if e.RequestStart != 10 || e.ResponseStart != 20 || e.CompletionTime != 30 {
		t.Errorf("timing = %d %d %d", e.RequestStart, e.ResponseStart, e.CompletionTime)
	}
	if e.Duration() != time.Second {
		t.Errorf("Duration() = %v, want 1s", e.Duration())
	}
	if next.data != 5 || next.completed != 1 || next.redirects != 1 {
		t.Errorf("events not forwarded: %+v", next)
	}
}

func TestLog_DeclinedRedirectNotCounted(t *testing.T) {
	l := New()
	p := l.Wrap(&nopPeer{decline: true}, &wire.RequestDescriptor{URL: "https://a.example/"})
	if p.OnReceivedRedirect(wire.RedirectInfo{NewURL: "https://b.example/"}, loader.ResponseInfo{}) {
		t.Fatal("redirect should be declined")
	}
	p.OnCompletedRequest(wire.CompletionStatus{ErrorCode: wire.ErrAborted})

	e := l.Entries()[0]
	if e.Redirects != 0 || e.URL != "https://a.example/" {
		t.Errorf("entry = %+v", e)
	}
	if !e.Failed() {
		t.Error("aborted load should be failed")
	}
}

func TestLog_CommitsOnce(t *testing.T) {
	l := New()
	p := l.Wrap(&nopPeer{}, &wire.RequestDescriptor{URL: "https://example.com/"})
	p.OnCompletedRequest(wire.CompletionStatus{})
	p.OnCompletedRequest(wire.CompletionStatus{})
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

func TestLog_Limit(t *testing.T) {
	l := New(WithLimit(2))
	for _, url := range []string{"https://1/", "https://2/", "https://3/"} {
		l.Wrap(&nopPeer{}, &wire.RequestDescriptor{URL: url}).OnCompletedRequest(wire.CompletionStatus{})
	}
	entries := l.Entries()
	if len(entries) != 2 || entries[0].URL != "https://2/" || entries[1].URL != "https://3/" {
		t.Errorf("entries = %v", entries)
	}
	if l.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", l.Dropped())
	}
	l.Clear()
	if l.Len() != 0 || l.Dropped() != 0 {
		t.Error("Clear() should reset the log")
	}
}

func TestLog_SinkFailureKeepsEntry(t *testing.T) {
	sink := &failingSink{}
	l := New(WithSink(sink))
	l.Wrap(&nopPeer{}, &wire.RequestDescriptor{URL: "https://example.com/"}).OnCompletedRequest(wire.CompletionStatus{})
	if sink.calls != 1 || l.Len() != 1 {
		t.Errorf("sink calls = %d, Len() = %d", sink.calls, l.Len())
	}
}

func TestLog_DelegateDoesNotDoubleWrap(t *testing.T) {
	l := New()
	other := New()
	wrapped := l.Wrap(&nopPeer{}, &wire.RequestDescriptor{URL: "https://example.com/"})

	if got := l.OnReceivedResponse(wrapped, "text/plain", "https://example.com/"); got != wrapped {
		t.Error("OnReceivedResponse should keep an existing recorder")
	}
	if got := l.OnRequestComplete(wrapped, wire.ResourceScript, wire.OK); got != wrapped {
		t.Error("OnRequestComplete should keep an existing recorder")
	}
	if got := other.OnReceivedResponse(wrapped, "text/plain", "https://example.com/"); got == wrapped {
		t.Error("a different log should wrap again")
	}
}

type sender struct{}

func (sender) Send(wire.Message) error { return nil }
func (sender) Call(context.Context, *wire.SyncLoad) (*wire.SyncLoadResult, error) {
	return nil, wire.ErrShutdown
}

func TestLog_AsDispatcherDelegate(t *testing.T) {
	l := New()
	runner := sequence.NewManual()
	d := loader.New(loader.NewProcess(loader.WithMainRunner(runner)), sender{}, runner, loader.DefaultConfig(), loader.WithDelegate(l))
	defer d.Close()

	peer := &nopPeer{}
	id, err := d.StartAsync(&wire.RequestDescriptor{Method: "GET", URL: "https://example.com/app.js", ResourceType: wire.ResourceScript}, peer, loader.StartOptions{})
	if err != nil {
		t.Fatalf("StartAsync() error = %v", err)
	}

	d.OnMessage(&wire.ReceivedResponse{ID: int32(id), Head: wire.ResponseHead{StatusCode: 200, MimeType: "text/javascript"}})
	d.OnMessage(&wire.RequestComplete{ID: int32(id), Status: wire.CompletionStatus{ErrorCode: wire.OK, EncodedDataLength: 512}})
	runner.RunUntilIdle()

	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.URL != "https://example.com/app.js" || e.StatusCode != 200 || e.ResourceType != wire.ResourceScript {
		t.Errorf("entry = %+v", e)
	}
	if e.EncodedDataLength != 512 {
		t.Errorf("EncodedDataLength = %d, want 512", e.EncodedDataLength)
	}
	if peer.completed != 1 {
		t.Errorf("peer completed %d times", peer.completed)
	}
}

func TestLog_DelegateRecordsFailureWithoutResponse(t *testing.T) {
	l := New()
	runner := sequence.NewManual()
	d := loader.New(loader.NewProcess(), sender{}, runner, loader.DefaultConfig(), loader.WithDelegate(l))
	defer d.Close()

	id, err := d.StartAsync(&wire.RequestDescriptor{Method: "GET", URL: "https://down.example/", ResourceType: wire.ResourceImage}, &nopPeer{}, loader.StartOptions{})
	if err != nil {
		t.Fatalf("StartAsync() error = %v", err)
	}
	d.OnMessage(&wire.RequestComplete{ID: int32(id), Status: wire.CompletionStatus{ErrorCode: wire.ErrFailed}})

	entries := l.Entries()
	if len(entries) != 1 || entries[0].ErrorCode != wire.ErrFailed || entries[0].ResourceType != wire.ResourceImage {
		t.Errorf("entries = %+v", entries)
	}
}

func TestLog_RecordSync(t *testing.T) {
	l := New(WithNow(fixedNow()))
	req := &wire.RequestDescriptor{Method: "GET", URL: "https://example.com/s", ResourceType: wire.ResourceXHR}
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	l.RecordSync(req, &loader.SyncLoadResponse{ErrorCode: wire.OK, MimeType: "text/plain", Data: []byte("abc")}, started)
	l.RecordSync(req, &loader.SyncLoadResponse{ErrorCode: wire.ErrFailed}, started)

	entries := l.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if e := entries[0]; e.URL != req.URL || e.ReceivedBytes != 3 || e.StatusCode != 200 || e.Duration() != time.Second {
		t.Errorf("sync entry = %+v", e)
	}
	if e := entries[1]; !e.Failed() || e.StatusCode != 0 {
		t.Errorf("failed sync entry = %+v", e)
	}
}
