package netlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/loadwire/internal/wire"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "netlog.db"))
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	first := Entry{
		ID:            "a",
		URL:           "https://example.com/a",
		Method:        "GET",
		MimeType:      "image/png",
		ResourceType:  wire.ResourceImage,
		StatusCode:    200,
		ReceivedBytes: 1000,
		ExistsInCache: true,
		RequestStart:  100,
		Started:       base,
		Finished:      base.Add(time.Second),
	}
	second := Entry{
		ID:        "b",
		URL:       "https://example.com/b",
		ErrorCode: wire.ErrFailed,
		Started:   base.Add(2 * time.Second),
		Finished:  base.Add(3 * time.Second),
	}
	for _, e := range []Entry{first, second} {
		if err := s.Record(e); err != nil {
			t.Fatalf("Record(%s) error = %v", e.ID, err)
		}
	}

	got, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("Recent() = %+v", got)
	}
	rt := got[1]
	if !rt.Started.Equal(first.Started) || !rt.Finished.Equal(first.Finished) {
		t.Errorf("times = %v %v, want %v %v", rt.Started, rt.Finished, first.Started, first.Finished)
	}
	rt.Started, rt.Finished = first.Started, first.Finished
	if rt != first {
		t.Errorf("round trip = %+v, want %+v", rt, first)
	}

	n, err := s.Count(context.Background())
	if err != nil || n != 2 {
		t.Errorf("Count() = %d, %v", n, err)
	}
	f, err := s.Failures(context.Background())
	if err != nil || f != 1 {
		t.Errorf("Failures() = %d, %v", f, err)
	}
}

func TestStore_ReplaceByID(t *testing.T) {
	s := openTestStore(t)
	e := Entry{ID: "x", URL: "https://example.com/1", Finished: time.Now()}
	_ = s.Record(e)
	e.URL = "https://example.com/2"
	if err := s.Record(e); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	got, _ := s.Recent(context.Background(), 10)
	if len(got) != 1 || got[0].URL != "https://example.com/2" {
		t.Errorf("Recent() = %+v", got)
	}
}

func TestStore_AsLogSink(t *testing.T) {
	s := openTestStore(t)
	l := New(WithSink(s), WithLimit(1))
	for _, url := range []string{"https://1/", "https://2/"} {
		l.Wrap(&nopPeer{}, &wire.RequestDescriptor{URL: url}).OnCompletedRequest(wire.CompletionStatus{})
	}
	n, err := s.Count(context.Background())
	if err != nil || n != 2 {
		t.Errorf("stored %d entries (err %v), want 2", n, err)
	}
	if l.Len() != 1 {
		t.Errorf("in-memory Len() = %d, want 1", l.Len())
	}
}
