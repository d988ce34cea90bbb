package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	// ErrMalformed indicates a frame that cannot be decoded.
	ErrMalformed = errors.New("wire: malformed message")

	// ErrNotResource indicates a well-formed frame that is not a resource
	// message.
	ErrNotResource = errors.New("wire: not a resource message")

	// ErrShutdown indicates the transport has been closed.
	ErrShutdown = errors.New("wire: transport shut down")
)

// Message is anything that can be put on the wire.
type Message interface {
	Kind() Kind
}

// Encode serializes msg and stamps its kind into the "type" field.
// Descriptors are not carried; use EncodeFrame for messages holding them.
func Encode(msg Message) ([]byte, error) {
	f, err := EncodeFrame(msg)
	if err != nil {
		return nil, err
	}
	return f.Data, nil
}

// EncodeFrame serializes msg and collects the descriptors it carries.
// Frames with descriptors get an "fds" count so the receiver knows how
// many of the descriptors passed alongside the stream belong to it. The
// caller keeps ownership of the descriptors.
func EncodeFrame(msg Message) (Frame, error) {
	var fds []int
	if m, ok := msg.(*SetDataBuffer); ok {
		c := *m
		c.Index = -1
		if fd := m.Handle.FD(); fd >= 0 {
			c.Index = len(fds)
			fds = append(fds, fd)
		}
		msg = &c
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s: %w", msg.Kind(), err)
	}
	data, err = sjson.SetBytes(data, "type", string(msg.Kind()))
	if err != nil {
		return Frame{}, fmt.Errorf("stamp %s: %w", msg.Kind(), err)
	}
	if len(fds) > 0 {
		if data, err = sjson.SetBytes(data, "fds", len(fds)); err != nil {
			return Frame{}, fmt.Errorf("stamp %s: %w", msg.Kind(), err)
		}
	}
	return Frame{Data: data, FDs: fds}, nil
}

// FDCount returns the number of descriptors a frame claims.
func FDCount(data []byte) int {
	n := int(gjson.GetBytes(data, "fds").Int())
	if n < 0 {
		return 0
	}
	return min(n, MaxFrameFDs)
}

// KindOf returns the "type" field of a frame, or "" if absent.
func KindOf(data []byte) Kind {
	return Kind(gjson.GetBytes(data, "type").String())
}

// PeekRequestID reads the request id of a frame without decoding it.
func PeekRequestID(data []byte) (int32, bool) {
	r := gjson.GetBytes(data, "request_id")
	if r.Type != gjson.Number {
		return 0, false
	}
	return int32(r.Int()), true
}

// Decode parses an inbound resource message that arrived without
// descriptors. Any handle it names is invalid.
func Decode(data []byte) (Inbound, error) {
	return DecodeFrame(Frame{Data: data})
}

// DecodeFrame parses an inbound resource message. Frames of other kinds
// return ErrNotResource; frames missing the request id or failing to parse
// return an error wrapping ErrMalformed. The frame's descriptors are
// consumed in every case: the one a SetDataBuffer names moves into its
// Handle and the rest are closed.
func DecodeFrame(f Frame) (Inbound, error) {
	defer f.Close()

	data := f.Data
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}

	kind := KindOf(data)
	if !kind.IsInbound() {
		return nil, ErrNotResource
	}
	if _, ok := PeekRequestID(data); !ok {
		return nil, fmt.Errorf("%w: %s without request_id", ErrMalformed, kind)
	}

	var msg Inbound
	switch kind {
	case KindUploadProgress:
		msg = &UploadProgress{}
	case KindReceivedResponse:
		msg = &ReceivedResponse{}
	case KindReceivedCachedMetadata:
		msg = &ReceivedCachedMetadata{}
	case KindSetDataBuffer:
		msg = &SetDataBuffer{Index: -1}
	case KindDataReceived:
		msg = &DataReceived{}
	case KindDataDownloaded:
		msg = &DataDownloaded{}
	case KindReceivedRedirect:
		msg = &ReceivedRedirect{}
	case KindRequestComplete:
		msg = &RequestComplete{}
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
	}
	if m, ok := msg.(*SetDataBuffer); ok {
		m.Handle = f.takeHandle(m.Index)
	}
	return msg, nil
}

// DecodeReply parses a sync-load-result frame.
func DecodeReply(data []byte) (*SyncLoadReply, error) {
	var reply SyncLoadReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, KindSyncLoadResult, err)
	}
	return &reply, nil
}
