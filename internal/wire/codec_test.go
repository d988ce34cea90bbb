package wire

import (
	"errors"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestEncode_StampsType(t *testing.T) {
	data, err := Encode(&DataReceivedAck{ID: 7})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got := gjson.GetBytes(data, "type").String(); got != string(KindDataReceivedAck) {
		t.Errorf("type = %q", got)
	}
	if got := gjson.GetBytes(data, "request_id").Int(); got != 7 {
		t.Errorf("request_id = %d", got)
	}
}

func TestDecode_AllInboundKinds(t *testing.T) {
	msgs := []Inbound{
		&UploadProgress{ID: 1, Position: 10, Size: 20},
		&ReceivedResponse{ID: 2, Head: ResponseHead{StatusCode: 200, MimeType: "text/html"}},
		&ReceivedCachedMetadata{ID: 3, Data: []byte{1, 2, 3}},
		&SetDataBuffer{ID: 4, Index: -1, Size: 0},
		&DataReceived{ID: 5, Offset: 100, Length: 50, EncodedLength: 60},
		&DataDownloaded{ID: 6, Length: 10, EncodedLength: 12},
		&ReceivedRedirect{ID: 7, Info: RedirectInfo{StatusCode: 302, NewURL: "https://b.test/", NewMethod: "GET"}},
		&RequestComplete{ID: 8, Status: CompletionStatus{ErrorCode: ErrAborted}},
	}

	for _, want := range msgs {
		t.Run(string(want.Kind()), func(t *testing.T) {
			data, err := Encode(want)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got.Kind() != want.Kind() || got.RequestID() != want.RequestID() {
				t.Errorf("Decode() = %s/%d, want %s/%d", got.Kind(), got.RequestID(), want.Kind(), want.RequestID())
			}
		})
	}
}

func TestDecode_FieldValues(t *testing.T) {
	data := []byte(`{"type":"data-received","request_id":9,"offset":900,"length":100,"encoded_length":40}`)
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	dr, ok := msg.(*DataReceived)
	if !ok {
		t.Fatalf("Decode() type = %T", msg)
	}
	if dr.Offset != 900 || dr.Length != 100 || dr.EncodedLength != 40 {
		t.Errorf("Decode() = %+v", dr)
	}
}

func TestDecode_SetDataBufferWithoutHandle(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"set-data-buffer","request_id":1,"size":0}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	sdb := msg.(*SetDataBuffer)
	if sdb.Handle == nil || sdb.Handle.Valid() {
		t.Error("missing handle should decode to an invalid handle")
	}
	// Releasing an invalid handle is harmless.
	ReleaseResources(sdb)
}

func TestEncodeFrame_WithoutHandle(t *testing.T) {
	f, err := EncodeFrame(&SetDataBuffer{ID: 2, Size: 8})
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	if len(f.FDs) != 0 || FDCount(f.Data) != 0 {
		t.Errorf("frame = %s %v, want no descriptors", f.Data, f.FDs)
	}
	if got := gjson.GetBytes(f.Data, "handle").Int(); got != -1 {
		t.Errorf("handle = %d, want -1", got)
	}
}

func TestFDCount(t *testing.T) {
	tests := []struct {
		data string
		want int
	}{
		{`{"type":"x"}`, 0},
		{`{"type":"x","fds":2}`, 2},
		{`{"type":"x","fds":-3}`, 0},
		{`{"type":"x","fds":1000}`, MaxFrameFDs},
	}
	for _, tt := range tests {
		if got := FDCount([]byte(tt.data)); got != tt.want {
			t.Errorf("FDCount(%s) = %d, want %d", tt.data, got, tt.want)
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"not json", `{"type":`, ErrMalformed},
		{"missing request id", `{"type":"data-received","offset":1}`, ErrMalformed},
		{"string request id", `{"type":"data-received","request_id":"x"}`, ErrMalformed},
		{"bad field type", `{"type":"data-received","request_id":1,"offset":"far"}`, ErrMalformed},
		{"unrelated kind", `{"type":"ping","request_id":1}`, ErrNotResource},
		{"outbound kind", `{"type":"cancel-request","request_id":1}`, ErrNotResource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPeekRequestID(t *testing.T) {
	if id, ok := PeekRequestID([]byte(`{"request_id":42,"type":"x"}`)); !ok || id != 42 {
		t.Errorf("PeekRequestID = %d, %v", id, ok)
	}
	if _, ok := PeekRequestID([]byte(`{"type":"x"}`)); ok {
		t.Error("PeekRequestID without id returned ok")
	}
}

func TestKind_IsInbound(t *testing.T) {
	if !KindRequestComplete.IsInbound() {
		t.Error("request-complete should be inbound")
	}
	if KindFollowRedirect.IsInbound() {
		t.Error("follow-redirect should not be inbound")
	}
	if !strings.HasPrefix(string(KindSyncLoadResult), "sync-load") {
		t.Error("unexpected sync reply kind")
	}
}
