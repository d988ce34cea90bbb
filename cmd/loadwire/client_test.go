package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/loadwire/internal/config"
	"github.com/dshills/loadwire/internal/shm"
	"github.com/dshills/loadwire/internal/wire"
)

// syncBuffer is a bytes.Buffer safe for the loop and test goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// pageBody is served for URLs containing "page" on transports that can
// pass data buffers.
const pageBody = "<!doctype html><p>hello</p>"

// serveLoads answers loads on server the way a network process would.
// URLs containing "fail" complete with an error; URLs containing "page"
// are HTML and get their body in a shared data buffer.
func serveLoads(t *testing.T, ctx context.Context, server *wire.Transport) {
	t.Helper()
	dir := t.TempDir()

	server.SetHandler(func(f wire.Frame) {
		f.Close()
		data := f.Data
		switch wire.KindOf(data) {
		case wire.KindRequestResource:
			var m wire.RequestResource
			if err := json.Unmarshal(data, &m); err != nil {
				return
			}
			go func() {
				url := m.Request.URL
				if strings.Contains(url, "fail") {
					_ = server.Send(&wire.RequestComplete{ID: m.ID, Status: wire.CompletionStatus{ErrorCode: wire.ErrFailed}})
					return
				}
				mime := "text/plain"
				if strings.Contains(url, "page") {
					mime = "text/html"
				}
				_ = server.Send(&wire.ReceivedResponse{ID: m.ID, Head: wire.ResponseHead{StatusCode: 200, MimeType: mime}})
				if mime == "text/html" {
					sendBody(server, dir, m.ID, pageBody)
				}
				_ = server.Send(&wire.RequestComplete{ID: m.ID, Status: wire.CompletionStatus{ErrorCode: wire.OK, EncodedDataLength: 64}})
			}()
		case wire.KindSyncLoad:
			var m wire.SyncLoad
			if err := json.Unmarshal(data, &m); err != nil {
				return
			}
			go func() {
				_ = server.Send(&wire.SyncLoadReply{CallID: m.CallID, Result: wire.SyncLoadResult{
					ErrorCode: wire.OK,
					FinalURL:  m.Request.URL,
					MimeType:  "text/plain",
					Data:      []byte("sync body"),
				}})
			}()
		}
	})
	server.Start(ctx)
}

// sendBody passes body in a fresh segment. Transports that cannot pass
// descriptors refuse the buffer and the load completes without a body.
func sendBody(server *wire.Transport, dir string, id int32, body string) {
	seg, err := os.CreateTemp(dir, "segment")
	if err != nil {
		return
	}
	defer seg.Close()
	if _, err := seg.WriteString(body); err != nil {
		return
	}
	err = server.Send(&wire.SetDataBuffer{ID: id, Handle: shm.NewHandle(int(seg.Fd())), Size: len(body)})
	if err != nil {
		return
	}
	_ = server.Send(&wire.DataReceived{ID: id, Offset: 0, Length: len(body), EncodedLength: len(body)})
}

// fakeNetwork serves loads over a pair of pipes.
func fakeNetwork(t *testing.T, ctx context.Context) (in io.Reader, out io.Writer) {
	t.Helper()

	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()
	server := wire.NewTransport(c2sR, s2cW, s2cW, nil)
	t.Cleanup(func() {
		server.Close()
		c2sR.Close()
		s2cR.Close()
	})

	serveLoads(t, ctx, server)
	return s2cR, c2sW
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Netlog.Enabled = true
	cfg.Netlog.Path = filepath.Join(t.TempDir(), "net.db")
	return cfg
}

func TestClient_FetchAsync(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	in, out := fakeNetwork(t, ctx)
	events := &syncBuffer{}
	c, err := newClient(ctx, testConfig(t), "", in, out, events)
	if err != nil {
		t.Fatalf("newClient() error = %v", err)
	}
	defer c.Shutdown()

	failed := c.FetchAsync(ctx, "GET", []string{"https://example.com/ok", "https://example.com/fail"})
	if failed != 1 {
		t.Errorf("failed = %d, want 1\n%s", failed, events)
	}

	got := events.String()
	for _, want := range []string{
		"https://example.com/ok: response 200 text/plain",
		"https://example.com/ok: complete 0 bytes",
		"https://example.com/fail: failed error=-2",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("events missing %q:\n%s", want, got)
		}
	}

	entries := c.netlog.Entries()
	if len(entries) != 2 {
		t.Fatalf("netlog entries = %d, want 2", len(entries))
	}
	n, err := c.store.Count(ctx)
	if err != nil || n != 2 {
		t.Errorf("stored = %d, %v; want 2", n, err)
	}
}

func TestClient_FetchSync(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	in, out := fakeNetwork(t, ctx)
	events := &syncBuffer{}
	c, err := newClient(ctx, testConfig(t), "", in, out, events)
	if err != nil {
		t.Fatalf("newClient() error = %v", err)
	}
	defer c.Shutdown()

	if failed := c.FetchSync(ctx, "GET", []string{"https://example.com/s"}); failed != 0 {
		t.Errorf("failed = %d, want 0\n%s", failed, events)
	}
	entries := c.netlog.Entries()
	if len(entries) != 1 || entries[0].ReceivedBytes != int64(len("sync body")) {
		t.Errorf("netlog = %+v", entries)
	}
}

func TestClient_FetchSyncRunsOnLoop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	in, out := fakeNetwork(t, ctx)
	c, err := newClient(ctx, config.Default(), "", in, out, &syncBuffer{})
	if err != nil {
		t.Fatalf("newClient() error = %v", err)
	}
	c.Shutdown()

	if failed := c.FetchSync(ctx, "GET", []string{"https://example.com/s"}); failed != 1 {
		t.Errorf("failed = %d, want 1 once the loop has stopped", failed)
	}
}

func TestClient_PrintSummary(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	in, out := fakeNetwork(t, ctx)
	events := &syncBuffer{}
	c, err := newClient(ctx, testConfig(t), "", in, out, events)
	if err != nil {
		t.Fatalf("newClient() error = %v", err)
	}
	defer c.Shutdown()
	c.history = 5

	c.FetchAsync(ctx, "GET", []string{"https://example.com/a", "https://example.com/fail"})
	c.PrintSummary(ctx)

	got := events.String()
	for _, want := range []string{
		"netlog db: 2 loads, 1 failed",
		"history ",
		"loader: 2 created",
		"dispatches, avg",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
	if n := strings.Count(got, "history "); n != 2 {
		t.Errorf("history lines = %d, want 2", n)
	}
}

func TestClient_LoadsPolicy(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "policy.lua")
	if err := writeTestFile(script, `function on_redirect(info) return false end`); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Policy.Script = script

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in, out := fakeNetwork(t, ctx)
	c, err := newClient(ctx, cfg, "", in, out, &syncBuffer{})
	if err != nil {
		t.Fatalf("newClient() error = %v", err)
	}
	defer c.Shutdown()

	if ok, _ := c.policy.AllowRedirect(wire.RedirectInfo{NewURL: "https://x/"}, wire.ResponseHead{}); ok {
		t.Error("policy should deny")
	}
}

func TestNewClient_BadPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.Policy.Script = filepath.Join(t.TempDir(), "missing.lua")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in, out := fakeNetwork(t, ctx)
	if _, err := newClient(ctx, cfg, "", in, out, &syncBuffer{}); err == nil {
		t.Error("newClient() should fail for a missing policy script")
	}
}

func TestClient_ShutdownTwice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in, out := fakeNetwork(t, ctx)
	c, err := newClient(ctx, config.Default(), "", in, out, &syncBuffer{})
	if err != nil {
		t.Fatalf("newClient() error = %v", err)
	}
	c.Shutdown()
	c.Shutdown()
	if !c.dispatcher.Closed() {
		t.Error("dispatcher should be closed")
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.Default()
	applyOverrides(&cfg, options{LogLevel: "debug", NetlogPath: "n.db", PolicyPath: "p.lua"})
	if cfg.Log.Level != "debug" || !cfg.Netlog.Enabled || cfg.Netlog.Path != "n.db" || cfg.Policy.Script != "p.lua" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func writeTestFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
