package netlog

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/loadwire/internal/loader"
	"github.com/dshills/loadwire/internal/logging"
	"github.com/dshills/loadwire/internal/wire"
)

// DefaultLimit is the number of entries kept in memory.
const DefaultLimit = 1000

// Sink persists committed entries.
type Sink interface {
	Record(e Entry) error
}

// Log collects entries for completed loads.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
	dropped int

	sink Sink
	log  *logging.Logger
	now  func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithLimit bounds the number of entries kept in memory. The oldest are
// evicted first.
func WithLimit(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.limit = n
		}
	}
}

// WithSink writes every committed entry to s.
func WithSink(s Sink) Option {
	return func(l *Log) {
		l.sink = s
	}
}

// WithLogger sets the logger used to report sink failures.
func WithLogger(lg *logging.Logger) Option {
	return func(l *Log) {
		if lg != nil {
			l.log = lg
		}
	}
}

// WithNow overrides the wall clock.
func WithNow(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// New creates an empty log.
func New(opts ...Option) *Log {
	l := &Log{
		limit: DefaultLimit,
		log:   logging.Null(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Wrap returns a peer that records the load described by req and
// forwards every event to peer.
func (l *Log) Wrap(peer loader.Peer, req *wire.RequestDescriptor) loader.Peer {
	r := l.newRecorder(peer, req.URL)
	r.entry.Method = req.Method
	r.entry.ResourceType = req.ResourceType
	if id, err := uuid.Parse(req.InspectorID); err == nil {
		r.entry.ID = id.String()
	}
	return r
}

// OnReceivedResponse wraps current unless it is already recorded.
func (l *Log) OnReceivedResponse(current loader.Peer, mimeType, url string) loader.Peer {
	if r, ok := current.(*recorder); ok && r.log == l {
		return r
	}
	r := l.newRecorder(current, url)
	r.entry.MimeType = mimeType
	return r
}

// OnRequestComplete wraps current unless it is already recorded, and
// notes the resource type and error code.
func (l *Log) OnRequestComplete(current loader.Peer, resourceType wire.ResourceType, errorCode int) loader.Peer {
	r, ok := current.(*recorder)
	if !ok || r.log != l {
		r = l.newRecorder(current, "")
	}
	r.entry.ResourceType = resourceType
	r.entry.ErrorCode = errorCode
	return r
}

// RecordSync commits an entry for a finished synchronous load, which has
// no peer to wrap.
func (l *Log) RecordSync(req *wire.RequestDescriptor, resp *loader.SyncLoadResponse, started time.Time) {
	e := Entry{
		ID:                uuid.NewString(),
		URL:               resp.URL,
		Method:            req.Method,
		MimeType:          resp.MimeType,
		ResourceType:      req.ResourceType,
		ErrorCode:         resp.ErrorCode,
		ReceivedBytes:     int64(len(resp.Data)),
		EncodedDataLength: resp.EncodedDataLength,
		EncodedBodyLength: resp.EncodedBodyLength,
		DecodedBodyLength: int64(len(resp.Data)),
		RequestStart:      resp.LoadTiming.RequestStart,
		Started:           started,
	}
	if id, err := uuid.Parse(req.InspectorID); err == nil {
		e.ID = id.String()
	}
	if e.URL == "" {
		e.URL = req.URL
	}
	if resp.ErrorCode == wire.OK {
		e.StatusCode = 200
	}
	l.commit(e)
}

// Entries returns a copy of the entries in commit order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries held in memory.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Dropped returns the number of entries evicted by the limit.
func (l *Log) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Clear discards the in-memory entries.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.dropped = 0
	l.mu.Unlock()
}

func (l *Log) newRecorder(next loader.Peer, url string) *recorder {
	return &recorder{
		log:  l,
		next: next,
		entry: Entry{
			ID:      uuid.NewString(),
			URL:     url,
			Started: l.now(),
		},
	}
}

func (l *Log) commit(e Entry) {
	e.Finished = l.now()

	l.mu.Lock()
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.limit; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
		l.dropped += over
	}
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		if err := sink.Record(e); err != nil {
			l.log.Warn("netlog: recording %s: %v", e.URL, err)
		}
	}
}
