package wire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dshills/loadwire/internal/logging"
)

// MaxFrameSize bounds the Content-Length of an inbound frame.
const MaxFrameSize = 8 << 20

// ErrNoRights indicates a message carrying descriptors was sent on a
// transport that cannot pass them.
var ErrNoRights = errors.New("wire: transport cannot pass descriptors")

// FrameHandler receives every inbound frame that is not a sync reply and
// takes ownership of its descriptors. It is called from the read
// goroutine and must not block.
type FrameHandler func(f Frame)

// rightsSource passes descriptors alongside the byte stream.
type rightsSource interface {
	take(n int) []int
	writeWithRights(p []byte, fds []int) error
}

// Transport carries Content-Length framed JSON messages over a byte
// stream. Sends are serialized; inbound frames are handed to a
// FrameHandler except sync-load replies, which complete the matching Call.
//
// A plain stream cannot carry descriptors, so frames read from one never
// hold any. NewUnixTransport passes them over a unix socket.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer
	rights rightsSource

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  atomic.Int64
	pending map[int64]chan *SyncLoadReply
	handler FrameHandler

	log *logging.Logger

	closed atomic.Bool
	done   chan struct{}
}

// NewTransport creates a transport over the given stream halves.
// c may be nil.
func NewTransport(r io.Reader, w io.Writer, c io.Closer, log *logging.Logger) *Transport {
	if log == nil {
		log = logging.Null()
	}
	return &Transport{
		reader:  bufio.NewReaderSize(r, 64*1024),
		writer:  w,
		closer:  c,
		pending: make(map[int64]chan *SyncLoadReply),
		log:     log.WithComponent("wire"),
		done:    make(chan struct{}),
	}
}

// SetHandler sets the handler for inbound frames. Frames read before a
// handler is set are dropped.
func (t *Transport) SetHandler(h FrameHandler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Start begins reading frames on a new goroutine.
func (t *Transport) Start(ctx context.Context) {
	go t.readLoop(ctx)
}

// Close closes the transport. Pending calls return ErrShutdown.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	close(t.done)

	// Waiters observe t.done; the channels are left open so a late reply
	// cannot send on a closed channel.
	t.mu.Lock()
	t.pending = make(map[int64]chan *SyncLoadReply)
	t.mu.Unlock()

	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// Done is closed when the transport is closed.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// IsClosed reports whether Close has been called.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}

// Send writes one message.
func (t *Transport) Send(msg Message) error {
	if t.closed.Load() {
		return ErrShutdown
	}
	f, err := EncodeFrame(msg)
	if err != nil {
		return err
	}
	return t.write(f.Data, f.FDs)
}

// Call sends a synchronous load and waits for its reply.
func (t *Transport) Call(ctx context.Context, msg *SyncLoad) (*SyncLoadResult, error) {
	if t.closed.Load() {
		return nil, ErrShutdown
	}

	id := t.nextID.Add(1)
	ch := make(chan *SyncLoadReply, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	call := *msg
	call.CallID = id
	if err := t.Send(&call); err != nil {
		return nil, fmt.Errorf("send sync load: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrShutdown
	case reply := <-ch:
		return &reply.Result, nil
	}
}

func (t *Transport) write(data []byte, fds []int) error {
	header := "Content-Length: " + strconv.Itoa(len(data)) + "\r\n\r\n"

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if len(fds) > 0 {
		if t.rights == nil {
			return ErrNoRights
		}
		// Header and body go out in one message so the descriptors
		// arrive with the first byte of the frame.
		buf := make([]byte, 0, len(header)+len(data))
		buf = append(buf, header...)
		buf = append(buf, data...)
		if err := t.rights.writeWithRights(buf, fds); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		return nil
	}

	if _, err := io.WriteString(t.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

func (t *Transport) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		f, err := t.readFrame()
		if err != nil {
			if t.closed.Load() {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF) {
				t.log.Debug("read loop finished: %v", err)
				return
			}
			t.log.Warn("skipping unreadable frame: %v", err)
			continue
		}

		t.route(f)
	}
}

func (t *Transport) readFrame() (Frame, error) {
	contentLength := -1
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return Frame{}, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "content-length") {
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				contentLength = n
			}
		}
	}

	if contentLength <= 0 {
		return Frame{}, fmt.Errorf("%w: missing Content-Length header", ErrMalformed)
	}
	if contentLength > MaxFrameSize {
		if _, err := io.CopyN(io.Discard, t.reader, int64(contentLength)); err != nil {
			return Frame{}, fmt.Errorf("skip body: %w", err)
		}
		return Frame{}, fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrMalformed, contentLength, MaxFrameSize)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return Frame{}, fmt.Errorf("read body: %w", err)
	}

	f := Frame{Data: body}
	if n := FDCount(body); n > 0 && t.rights != nil {
		f.FDs = t.rights.take(n)
	}
	return f, nil
}

func (t *Transport) route(f Frame) {
	data := f.Data
	if KindOf(data) == KindSyncLoadResult {
		f.Close()
		reply, err := DecodeReply(data)
		if err != nil {
			t.log.Warn("dropping sync reply: %v", err)
			return
		}
		t.mu.Lock()
		ch, ok := t.pending[reply.CallID]
		if ok {
			delete(t.pending, reply.CallID)
		}
		t.mu.Unlock()
		if ok {
			ch <- reply
		}
		return
	}

	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h == nil {
		f.Close()
		return
	}
	h(f)
}
