package netlog

import (
	"fmt"
	"time"

	"github.com/dshills/loadwire/internal/timeticks"
	"github.com/dshills/loadwire/internal/wire"
)

// Entry is the record of one completed load.
type Entry struct {
	ID           string
	URL          string
	Method       string
	MimeType     string
	ResourceType wire.ResourceType
	StatusCode   int
	ErrorCode    int
	Redirects    int

	// ReceivedBytes counts body bytes delivered to the peer, in memory or
	// downloaded to a file.
	ReceivedBytes     int64
	TransferSize      int64
	EncodedDataLength int64
	EncodedBodyLength int64
	DecodedBodyLength int64
	ExistsInCache     bool

	RequestStart   timeticks.Ticks
	ResponseStart  timeticks.Ticks
	CompletionTime timeticks.Ticks

	Started  time.Time
	Finished time.Time
}

// Failed reports whether the load ended with a network error.
func (e Entry) Failed() bool {
	return e.ErrorCode != wire.OK
}

// Duration is the wall time between start and completion.
func (e Entry) Duration() time.Duration {
	if e.Started.IsZero() || e.Finished.IsZero() {
		return 0
	}
	return e.Finished.Sub(e.Started)
}

func (e Entry) String() string {
	method := e.Method
	if method == "" {
		method = "-"
	}
	if e.Failed() {
		return fmt.Sprintf("%s %s error=%d", method, e.URL, e.ErrorCode)
	}
	return fmt.Sprintf("%s %s %d %s %dB", method, e.URL, e.StatusCode, e.MimeType, e.ReceivedBytes)
}
