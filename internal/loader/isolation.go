package loader

import (
	"bytes"
	"net/url"
	"strings"
	"sync"

	"github.com/dshills/loadwire/internal/wire"
)

// Classifier inspects cross-origin responses. OnReceivedResponse returns a
// token, or nil if the response is not interesting; a non-nil token is
// passed back with the first body chunk and then dropped.
type Classifier interface {
	OnReceivedResponse(frameOrigin, responseURL string, resourceType wire.ResourceType, info ResponseInfo) any
	OnReceivedFirstChunk(token any, data []byte)
}

// DocumentKind is the claimed or sniffed type of a cross-origin body.
type DocumentKind int

const (
	DocumentOther DocumentKind = iota
	DocumentHTML
	DocumentXML
	DocumentJSON
)

// String returns the kind name.
func (k DocumentKind) String() string {
	switch k {
	case DocumentHTML:
		return "html"
	case DocumentXML:
		return "xml"
	case DocumentJSON:
		return "json"
	default:
		return "other"
	}
}

type isolationToken struct {
	claimed DocumentKind
	nosniff bool
}

// IsolationStats counts cross-origin subresource responses that claim to
// be documents, and how many of them sniff as what they claim. It is safe
// for concurrent use.
type IsolationStats struct {
	mu        sync.Mutex
	crossSite map[DocumentKind]int
	confirmed map[DocumentKind]int
	nosniff   int
}

// NewIsolationStats creates an empty classifier.
func NewIsolationStats() *IsolationStats {
	return &IsolationStats{
		crossSite: make(map[DocumentKind]int),
		confirmed: make(map[DocumentKind]int),
	}
}

// OnReceivedResponse implements Classifier.
func (s *IsolationStats) OnReceivedResponse(frameOrigin, responseURL string, resourceType wire.ResourceType, info ResponseInfo) any {
	if resourceType.IsFrame() || frameOrigin == "" || sameOrigin(frameOrigin, responseURL) {
		return nil
	}
	kind := classifyMime(info.MimeType)
	if kind == DocumentOther {
		return nil
	}

	tok := &isolationToken{
		claimed: kind,
		nosniff: strings.EqualFold(info.Headers.Get("X-Content-Type-Options"), "nosniff"),
	}

	s.mu.Lock()
	s.crossSite[kind]++
	if tok.nosniff {
		s.nosniff++
	}
	s.mu.Unlock()
	return tok
}

// OnReceivedFirstChunk implements Classifier.
func (s *IsolationStats) OnReceivedFirstChunk(token any, data []byte) {
	tok, ok := token.(*isolationToken)
	if !ok {
		return
	}
	if !tok.nosniff && sniff(data) != tok.claimed {
		return
	}
	s.mu.Lock()
	s.confirmed[tok.claimed]++
	s.mu.Unlock()
}

// CrossSite returns the number of cross-origin responses claiming kind.
func (s *IsolationStats) CrossSite(kind DocumentKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crossSite[kind]
}

// Confirmed returns how many of those were confirmed by sniffing or by a
// nosniff header.
func (s *IsolationStats) Confirmed(kind DocumentKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed[kind]
}

// NoSniff returns how many cross-origin document responses carried
// X-Content-Type-Options: nosniff.
func (s *IsolationStats) NoSniff() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nosniff
}

func sameOrigin(origin, raw string) bool {
	o, err := url.Parse(origin)
	if err != nil {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(o.Scheme, u.Scheme) && strings.EqualFold(o.Host, u.Host)
}

func classifyMime(mime string) DocumentKind {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case mime == "text/html":
		return DocumentHTML
	case mime == "text/xml" || mime == "application/xml" || strings.HasSuffix(mime, "+xml"):
		return DocumentXML
	case mime == "application/json" || mime == "text/json" || mime == "text/x-json" || strings.HasSuffix(mime, "+json"):
		return DocumentJSON
	default:
		return DocumentOther
	}
}

var htmlSignatures = [][]byte{
	[]byte("<!doctype html"),
	[]byte("<html"),
	[]byte("<script"),
	[]byte("<head"),
	[]byte("<body"),
	[]byte("<iframe"),
	[]byte("<!--"),
	[]byte("<br"),
	[]byte("<p"),
	[]byte("<table"),
}

// sniff guesses the document kind from the start of a body.
func sniff(data []byte) DocumentKind {
	data = bytes.TrimLeft(data, " \t\r\n\f")
	if len(data) > 512 {
		data = data[:512]
	}
	lower := bytes.ToLower(data)

	if bytes.HasPrefix(lower, []byte("<?xml")) {
		return DocumentXML
	}
	for _, sig := range htmlSignatures {
		if bytes.HasPrefix(lower, sig) {
			return DocumentHTML
		}
	}
	// Only objects count: a bare array is also valid script.
	if len(data) > 0 && data[0] == '{' {
		rest := bytes.TrimLeft(data[1:], " \t\r\n\f")
		if len(rest) == 0 || rest[0] == '"' || rest[0] == '}' {
			return DocumentJSON
		}
	}
	return DocumentOther
}
