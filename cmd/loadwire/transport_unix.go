//go:build unix

package main

import (
	"io"
	"net"
	"os"

	"github.com/dshills/loadwire/internal/logging"
	"github.com/dshills/loadwire/internal/wire"
)

// openTransport speaks the wire protocol on in and out. When in is a unix
// socket both directions run over it so shared-memory segments can be
// passed with frames, and out is not used.
func openTransport(in io.Reader, out io.Writer, log *logging.Logger) *wire.Transport {
	if f, ok := in.(*os.File); ok {
		if conn, err := net.FileConn(f); err == nil {
			if uc, ok := conn.(*net.UnixConn); ok {
				log.Debug("wire on unix socket %s", f.Name())
				return wire.NewUnixTransport(uc, log)
			}
			conn.Close()
		}
	}
	return wire.NewTransport(in, out, nil, log)
}
