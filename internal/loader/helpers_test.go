package loader

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dshills/loadwire/internal/sequence"
	"github.com/dshills/loadwire/internal/timeticks"
	"github.com/dshills/loadwire/internal/wire"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []wire.Message

	sendErr    error
	callResult *wire.SyncLoadResult
	callErr    error
	calls      []*wire.SyncLoad
}

func (s *fakeSender) Send(msg wire.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) Call(ctx context.Context, msg *wire.SyncLoad) (*wire.SyncLoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, msg)
	if s.callErr != nil {
		return nil, s.callErr
	}
	return s.callResult, nil
}

func (s *fakeSender) count(kind wire.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.sent {
		if m.Kind() == kind {
			n++
		}
	}
	return n
}

func (s *fakeSender) last() wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return nil
	}
	return s.sent[len(s.sent)-1]
}

// recordingPeer records every callback as a short event string.
type recordingPeer struct {
	events   []string
	data     [][]byte
	held     []ReceivedData
	response ResponseInfo
	status   wire.CompletionStatus

	// hold keeps data chunks instead of releasing them immediately.
	hold bool
	// decline makes OnReceivedRedirect return false.
	decline bool

	onResponse func()
	onRedirect func()
	onData     func()
	onEvent    func(event string)
}

func (p *recordingPeer) record(event string) {
	p.events = append(p.events, event)
	if p.onEvent != nil {
		p.onEvent(event)
	}
}

func (p *recordingPeer) OnUploadProgress(position, size int64) {
	p.record(fmt.Sprintf("upload:%d", position))
}

func (p *recordingPeer) OnReceivedRedirect(info wire.RedirectInfo, resp ResponseInfo) bool {
	p.record("redirect:" + info.NewURL)
	if p.onRedirect != nil {
		p.onRedirect()
	}
	return !p.decline
}

func (p *recordingPeer) OnReceivedResponse(resp ResponseInfo) {
	p.response = resp
	p.record("response")
	if p.onResponse != nil {
		p.onResponse()
	}
}

func (p *recordingPeer) OnReceivedCachedMetadata(data []byte) {
	p.record(fmt.Sprintf("metadata:%d", len(data)))
}

func (p *recordingPeer) OnReceivedData(data ReceivedData) {
	p.data = append(p.data, append([]byte(nil), data.Payload()...))
	p.record(fmt.Sprintf("data:%d", data.Len()))
	if p.hold {
		p.held = append(p.held, data)
	} else {
		data.Release()
	}
	if p.onData != nil {
		p.onData()
	}
}

func (p *recordingPeer) OnTransferSizeUpdated(diff int) {
	p.record(fmt.Sprintf("transfer:%d", diff))
}

func (p *recordingPeer) OnDownloadedData(length, encodedLength int) {
	p.record(fmt.Sprintf("downloaded:%d", length))
}

func (p *recordingPeer) OnCompletedRequest(status wire.CompletionStatus) {
	p.status = status
	p.record(fmt.Sprintf("complete:%d", status.ErrorCode))
}

func (p *recordingPeer) releaseHeld() {
	for _, d := range p.held {
		d.Release()
	}
	p.held = nil
}

type testEnv struct {
	d      *Dispatcher
	proc   *Process
	sender *fakeSender
	runner *sequence.Manual
	now    timeticks.Ticks
	fatals []error
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, DefaultConfig(), opts...)
}

func newTestEnvWithConfig(t *testing.T, cfg Config, opts ...Option) *testEnv {
	t.Helper()

	e := &testEnv{
		sender: &fakeSender{},
		runner: sequence.NewManual(),
		now:    1000,
	}
	e.proc = NewProcess(WithClock(timeticks.ClockFunc(func() timeticks.Ticks { return e.now })))

	opts = append([]Option{WithFatalHandler(func(err error) {
		e.fatals = append(e.fatals, err)
	})}, opts...)
	e.d = New(e.proc, e.sender, e.runner, cfg, opts...)
	return e
}

func testRequest() *wire.RequestDescriptor {
	return &wire.RequestDescriptor{
		Method:       "GET",
		URL:          "https://example.com/a.png",
		ResourceType: wire.ResourceImage,
	}
}

func (e *testEnv) start(t *testing.T, peer Peer) RequestID {
	t.Helper()
	id, err := e.d.StartAsync(testRequest(), peer, StartOptions{RoutingID: 1})
	if err != nil {
		t.Fatalf("StartAsync() error = %v", err)
	}
	return id
}

func eventsEqual(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

type fakeLoader struct {
	follows  int
	cancels  int
	priority wire.Priority
}

func (l *fakeLoader) FollowRedirect() { l.follows++ }

func (l *fakeLoader) SetPriority(priority wire.Priority, intraPriority int) {
	l.priority = priority
}

func (l *fakeLoader) Cancel() { l.cancels++ }

type fakeClient struct {
	defers   int
	undefers int
	flushes  int
}

func (c *fakeClient) SetDefersLoading()      { c.defers++ }
func (c *fakeClient) UnsetDefersLoading()    { c.undefers++ }
func (c *fakeClient) FlushDeferredMessages() { c.flushes++ }

type fakeFactory struct {
	loader *fakeLoader
	client *fakeClient
	opts   LoadOptions
	sink   EventSink
	err    error
}

func (f *fakeFactory) CreateLoaderAndStart(id RequestID, routingID int, req *wire.RequestDescriptor, opts LoadOptions, throttles []Throttle, sink EventSink) (Loader, LoaderClient, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	f.opts = opts
	f.sink = sink
	f.loader = &fakeLoader{}
	f.client = &fakeClient{}
	return f.loader, f.client, nil
}
