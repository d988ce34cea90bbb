package wire

import (
	"net/http"
	"time"

	"github.com/dshills/loadwire/internal/timeticks"
)

// Net error codes carried in completion statuses and sync results.
const (
	OK                   = 0
	ErrIOPending         = -1
	ErrFailed            = -2
	ErrAborted           = -3
	ErrInvalidArgument   = -4
	ErrFileNotFound      = -6
	ErrTimedOut          = -7
	ErrAccessDenied      = -10
	ErrBlockedByClient   = -20
	ErrBlockedByResponse = -27
	ErrConnectionRefused = -102
	ErrNameNotResolved   = -105
	ErrInsecureResponse  = -501
)

// ResourceType classifies what a load is for.
type ResourceType int

const (
	ResourceMainFrame ResourceType = iota
	ResourceSubFrame
	ResourceStylesheet
	ResourceScript
	ResourceImage
	ResourceFontResource
	ResourceSubResource
	ResourceObject
	ResourceMedia
	ResourceWorker
	ResourceSharedWorker
	ResourcePrefetch
	ResourceFavicon
	ResourceXHR
	ResourcePing
	ResourceServiceWorker
	ResourceCSPReport
	ResourcePluginResource
)

var resourceTypeNames = [...]string{
	"main_frame", "sub_frame", "stylesheet", "script", "image", "font",
	"sub_resource", "object", "media", "worker", "shared_worker", "prefetch",
	"favicon", "xhr", "ping", "service_worker", "csp_report", "plugin_resource",
}

// String returns the lower-case name of the resource type.
func (r ResourceType) String() string {
	if r < 0 || int(r) >= len(resourceTypeNames) {
		return "unknown"
	}
	return resourceTypeNames[r]
}

// IsFrame reports whether the type loads a frame document.
func (r ResourceType) IsFrame() bool {
	return r == ResourceMainFrame || r == ResourceSubFrame
}

// Priority is a network request priority.
type Priority int

const (
	PriorityThrottled Priority = iota
	PriorityIdle
	PriorityLowest
	PriorityLow
	PriorityMedium
	PriorityHighest
)

// ReferrerPolicy controls what referrer is sent.
type ReferrerPolicy int

const (
	ReferrerPolicyDefault ReferrerPolicy = iota
	ReferrerPolicyNoReferrerWhenDowngrade
	ReferrerPolicyNever
	ReferrerPolicyOrigin
	ReferrerPolicyOriginWhenCrossOrigin
	ReferrerPolicySameOrigin
	ReferrerPolicyStrictOrigin
	ReferrerPolicyAlways
)

// RequestDescriptor describes a load to the peer process.
type RequestDescriptor struct {
	Method         string         `json:"method"`
	URL            string         `json:"url"`
	Referrer       string         `json:"referrer,omitempty"`
	ReferrerPolicy ReferrerPolicy `json:"referrer_policy"`
	Headers        http.Header    `json:"headers,omitempty"`
	Body           []byte         `json:"body,omitempty"`
	ResourceType   ResourceType   `json:"resource_type"`
	RenderFrameID  int            `json:"render_frame_id"`
	Priority       Priority       `json:"priority"`
	DownloadToFile bool           `json:"download_to_file,omitempty"`
	// FetchRequest marks loads started by fetch(); they must not be
	// MIME-sniffed.
	FetchRequest bool `json:"fetch_request,omitempty"`
	// InspectorID correlates the load with network log entries.
	InspectorID string `json:"inspector_id,omitempty"`
}

// LoadTiming holds the connection phases of a load. All values are
// monotonic ticks in the clock domain of the process that measured them.
type LoadTiming struct {
	RequestStart      timeticks.Ticks `json:"request_start,omitempty"`
	ProxyResolveStart timeticks.Ticks `json:"proxy_resolve_start,omitempty"`
	ProxyResolveEnd   timeticks.Ticks `json:"proxy_resolve_end,omitempty"`
	DNSStart          timeticks.Ticks `json:"dns_start,omitempty"`
	DNSEnd            timeticks.Ticks `json:"dns_end,omitempty"`
	ConnectStart      timeticks.Ticks `json:"connect_start,omitempty"`
	ConnectEnd        timeticks.Ticks `json:"connect_end,omitempty"`
	SSLStart          timeticks.Ticks `json:"ssl_start,omitempty"`
	SSLEnd            timeticks.Ticks `json:"ssl_end,omitempty"`
	SendStart         timeticks.Ticks `json:"send_start,omitempty"`
	SendEnd           timeticks.Ticks `json:"send_end,omitempty"`
	ReceiveHeadersEnd timeticks.Ticks `json:"receive_headers_end,omitempty"`
	PushStart         timeticks.Ticks `json:"push_start,omitempty"`
	PushEnd           timeticks.Ticks `json:"push_end,omitempty"`
}

// ResponseHead is the metadata of a response or redirect.
type ResponseHead struct {
	StatusCode    int         `json:"status_code"`
	Headers       http.Header `json:"headers,omitempty"`
	MimeType      string      `json:"mime_type,omitempty"`
	Charset       string      `json:"charset,omitempty"`
	ContentLength int64       `json:"content_length"`

	RequestTime  time.Time `json:"request_time"`
	ResponseTime time.Time `json:"response_time"`

	RequestStart  timeticks.Ticks `json:"request_start,omitempty"`
	ResponseStart timeticks.Ticks `json:"response_start,omitempty"`
	LoadTiming    LoadTiming      `json:"load_timing"`

	ServiceWorkerStartTime timeticks.Ticks `json:"service_worker_start_time,omitempty"`
	ServiceWorkerReadyTime timeticks.Ticks `json:"service_worker_ready_time,omitempty"`

	SocketAddress     string `json:"socket_address,omitempty"`
	CertStatus        uint32 `json:"cert_status,omitempty"`
	EncodedDataLength int64  `json:"encoded_data_length"`
	DownloadFilePath  string `json:"download_file_path,omitempty"`
}

// RedirectInfo describes where a redirect leads.
type RedirectInfo struct {
	StatusCode  int    `json:"status_code"`
	NewMethod   string `json:"new_method"`
	NewURL      string `json:"new_url"`
	NewReferrer string `json:"new_referrer,omitempty"`
	// NewSiteForCookies is informational only.
	NewSiteForCookies string `json:"new_site_for_cookies,omitempty"`
}

// CompletionStatus is the final outcome of a load.
type CompletionStatus struct {
	ErrorCode         int             `json:"error_code"`
	ExistsInCache     bool            `json:"exists_in_cache,omitempty"`
	CompletionTime    timeticks.Ticks `json:"completion_time,omitempty"`
	EncodedDataLength int64           `json:"encoded_data_length"`
	EncodedBodyLength int64           `json:"encoded_body_length"`
	DecodedBodyLength int64           `json:"decoded_body_length"`
}

// SyncLoadResult is the reply to a synchronous load.
type SyncLoadResult struct {
	ErrorCode         int         `json:"error_code"`
	FinalURL          string      `json:"final_url"`
	Headers           http.Header `json:"headers,omitempty"`
	MimeType          string      `json:"mime_type,omitempty"`
	Charset           string      `json:"charset,omitempty"`
	RequestTime       time.Time   `json:"request_time"`
	ResponseTime      time.Time   `json:"response_time"`
	LoadTiming        LoadTiming  `json:"load_timing"`
	Data              []byte      `json:"data,omitempty"`
	DownloadFilePath  string      `json:"download_file_path,omitempty"`
	SocketAddress     string      `json:"socket_address,omitempty"`
	EncodedDataLength int64       `json:"encoded_data_length"`
	EncodedBodyLength int64       `json:"encoded_body_length"`
}
