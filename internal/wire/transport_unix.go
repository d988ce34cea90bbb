//go:build unix

package wire

import (
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/dshills/loadwire/internal/logging"
)

// NewUnixTransport creates a transport over a unix stream socket. Frames
// may carry descriptors, passed as SCM_RIGHTS with the frame's first byte.
// The transport owns conn.
func NewUnixTransport(conn *net.UnixConn, log *logging.Logger) *Transport {
	rc := newRightsConn(conn)
	t := NewTransport(rc, rc, rc, log)
	t.rights = rc
	return t
}

// rightsConn is a unix socket that queues the descriptors arriving with
// reads until a frame claims them.
type rightsConn struct {
	conn *net.UnixConn
	oob  []byte

	mu     sync.Mutex
	fds    []int
	closed bool
}

func newRightsConn(conn *net.UnixConn) *rightsConn {
	return &rightsConn{
		conn: conn,
		oob:  make([]byte, unix.CmsgSpace(MaxFrameFDs*4)),
	}
}

func (r *rightsConn) Read(p []byte) (int, error) {
	n, oobn, _, _, err := r.conn.ReadMsgUnix(p, r.oob)
	if oobn > 0 {
		r.collect(r.oob[:oobn])
	}
	return n, err
}

func (r *rightsConn) collect(oob []byte) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return
	}
	var fds []int
	for i := range msgs {
		rights, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		closeAll(fds)
		return
	}
	r.fds = append(r.fds, fds...)
}

// take hands out up to n queued descriptors in arrival order.
func (r *rightsConn) take(n int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n = min(n, len(r.fds))
	if n == 0 {
		return nil
	}
	out := make([]int, n)
	copy(out, r.fds)
	r.fds = r.fds[n:]
	return out
}

func (r *rightsConn) Write(p []byte) (int, error) {
	return r.conn.Write(p)
}

func (r *rightsConn) writeWithRights(p []byte, fds []int) error {
	n, _, err := r.conn.WriteMsgUnix(p, unix.UnixRights(fds...), nil)
	if err != nil {
		return err
	}
	if n < len(p) {
		_, err = r.conn.Write(p[n:])
	}
	return err
}

// Close closes the socket and every descriptor no frame claimed.
func (r *rightsConn) Close() error {
	r.mu.Lock()
	r.closed = true
	fds := r.fds
	r.fds = nil
	r.mu.Unlock()

	closeAll(fds)
	return r.conn.Close()
}

func closeAll(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}
