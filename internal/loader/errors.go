package loader

import (
	"errors"
	"fmt"
)

// Dispatcher errors.
var (
	// ErrClosed indicates the dispatcher has been closed.
	ErrClosed = errors.New("loader: dispatcher closed")

	// ErrInsecureReferrer indicates a secure referrer would leak to an
	// insecure URL under a policy that forbids it.
	ErrInsecureReferrer = errors.New("loader: secure referrer for insecure request")

	// ErrNoLoaderFactory indicates a native load without a LoaderFactory.
	ErrNoLoaderFactory = errors.New("loader: no loader factory")

	// ErrNoSyncLoader indicates a native sync load without a SyncLoader.
	ErrNoSyncLoader = errors.New("loader: no sync loader")

	// ErrBufferBounds indicates a data range outside the mapped buffer.
	ErrBufferBounds = errors.New("loader: data range outside buffer")

	// ErrBufferSize indicates a data buffer size outside the allowed range.
	ErrBufferSize = errors.New("loader: invalid data buffer size")

	// ErrDuplicateRedirect indicates a redirect arrived while another was
	// still pending.
	ErrDuplicateRedirect = errors.New("loader: redirect while redirect pending")
)

// FatalKind classifies unrecoverable conditions.
type FatalKind int

const (
	// FatalProtocol is a malformed or out-of-sequence message.
	FatalProtocol FatalKind = iota
	// FatalMapFailure is a shared-memory mapping failure.
	FatalMapFailure
	// FatalBuffer is a buffer size or range violation.
	FatalBuffer
)

// String returns the kind name.
func (k FatalKind) String() string {
	switch k {
	case FatalProtocol:
		return "protocol violation"
	case FatalMapFailure:
		return "map failure"
	case FatalBuffer:
		return "buffer violation"
	default:
		return "unknown"
	}
}

// FatalError reports a condition after which the dispatcher cannot trust
// its inputs. It is passed to the fatal handler, never returned.
type FatalError struct {
	Kind      FatalKind
	RequestID RequestID
	Err       error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("loader: %s (request %d): %v", e.Kind, e.RequestID, e.Err)
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Err
}
