// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package flow

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/javaarchive/telescope-proxy/pkg/resource"
)

// RequestMeta is the metadata carried by a captured request.
type RequestMeta struct {
	URL       *url.URL
	Method    string
	Version   string
	CreatedAt int64 // milliseconds since epoch
}

// NewRequestMeta builds a RequestMeta stamped with the current time.
func NewRequestMeta(rawURL, method, version string) (RequestMeta, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return RequestMeta{}, fmt.Errorf("flow: parse request url %q: %w", rawURL, err)
	}
	return RequestMeta{
		URL:       parsed,
		Method:    method,
		Version:   version,
		CreatedAt: nowMillis(),
	}, nil
}

// IsProxyClientConnection reports whether this request is the client's
// CONNECT handshake establishing the tunnel, rather than a captured
// request/response pair flowing through it.
func (m RequestMeta) IsProxyClientConnection() bool {
	return m.Method == http.MethodConnect
}

// ResponseMeta is the metadata carried by a captured response.
type ResponseMeta struct {
	Status    int32
	Version   string
	CreatedAt int64 // milliseconds since epoch
}

// NewResponseMeta builds a ResponseMeta stamped with the current time.
func NewResponseMeta(status int, version string) ResponseMeta {
	return ResponseMeta{
		Status:    int32(status),
		Version:   version,
		CreatedAt: nowMillis(),
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// CapturedMessage is a captured request or response: its metadata (the
// sum type below), its headers in original order, its body, and a
// direction flag that must agree with which metadata variant is set.
type CapturedMessage struct {
	Headers    http.Header
	Body       resource.Resource
	IsResponse bool

	request  *RequestMeta
	response *ResponseMeta
}

// NewCapturedRequest builds a CapturedMessage carrying request metadata.
func NewCapturedRequest(meta RequestMeta, headers http.Header, body resource.Resource) CapturedMessage {
	m := meta
	return CapturedMessage{
		Headers:    headers,
		Body:       body,
		IsResponse: false,
		request:    &m,
	}
}

// NewCapturedResponse builds a CapturedMessage carrying response metadata.
func NewCapturedResponse(meta ResponseMeta, headers http.Header, body resource.Resource) CapturedMessage {
	m := meta
	return CapturedMessage{
		Headers:    headers,
		Body:       body,
		IsResponse: true,
		response:   &m,
	}
}

// RequestMeta returns the request metadata. It panics if this message
// carries response metadata instead — a direction/metadata mismatch is
// an invariant violation, not a recoverable condition.
func (c CapturedMessage) RequestMeta() RequestMeta {
	if c.request == nil {
		panic("flow: CapturedMessage has no RequestMeta (direction mismatch)")
	}
	return *c.request
}

// ResponseMeta returns the response metadata. It panics if this message
// carries request metadata instead.
func (c CapturedMessage) ResponseMeta() ResponseMeta {
	if c.response == nil {
		panic("flow: CapturedMessage has no ResponseMeta (direction mismatch)")
	}
	return *c.response
}

// HTTPPair pairs one request with at most one response.
type HTTPPair struct {
	Request  CapturedMessage
	Response *CapturedMessage
}

// NewHTTPPair starts a pair with only the request captured.
func NewHTTPPair(request CapturedMessage) HTTPPair {
	return HTTPPair{Request: request}
}

// HasResponse reports whether the response leg has arrived yet.
func (p HTTPPair) HasResponse() bool {
	return p.Response != nil
}

// AddResponse attaches the response leg. The caller is responsible for
// the invariant that it was captured strictly after the request.
func (p *HTTPPair) AddResponse(response CapturedMessage) {
	p.Response = &response
}

// TimeTaken returns response.CreatedAt - request.CreatedAt, and ok=false
// if no response has arrived yet.
func (p HTTPPair) TimeTaken() (time.Duration, bool) {
	if p.Response == nil {
		return 0, false
	}
	delta := p.Response.ResponseMeta().CreatedAt - p.Request.RequestMeta().CreatedAt
	return time.Duration(delta) * time.Millisecond, true
}

// ContentKind distinguishes the two FlowContent variants.
type ContentKind int

const (
	// ContentHTTP marks a flow carrying a captured HTTP request/response pair.
	ContentHTTP ContentKind = iota
	// ContentWebSocket marks a flow carrying a WebSocket session. Reserved:
	// the upgrade handshake is captured as a flow, but per-frame payload
	// capture is future work (see pkg/proxy/websocket.go).
	ContentWebSocket
)

// FlowContent is the sum type a Flow carries: an HTTPPair for ordinary
// requests, or a WebSocketSession (handshake plus frame count) for a
// WebSocket upgrade; frame payloads are not captured.
type FlowContent struct {
	Kind      ContentKind
	HTTP      *HTTPPair
	WebSocket *WebSocketSession
}

// WebSocketSession is a placeholder for a captured WebSocket interaction.
// The upgrade handshake request/response is recorded; per-frame payloads
// are not, per spec (the hook exists so the surface is stable, but
// payload capture is an open question left unspecified).
type WebSocketSession struct {
	Handshake HTTPPair
	Frames    int // count only; no payload capture yet
}

// Flow is one captured interaction: a stable id, its content, creation
// metadata, and an is_active flag reserved for future streaming/
// breakpoint use. A Flow is created when a request first arrives, is
// mutated at most once more when the matching response arrives, and is
// logically immutable thereafter.
type Flow struct {
	id       string
	Content  FlowContent
	IsActive bool
}

// New creates a Flow wrapping an in-flight HTTP request. The flow's id
// is assigned here and never changes.
func New(request CapturedMessage) *Flow {
	pair := NewHTTPPair(request)
	return &Flow{
		id: newID(),
		Content: FlowContent{
			Kind: ContentHTTP,
			HTTP: &pair,
		},
		IsActive: true,
	}
}

// ID returns the flow's stable, URL-safe identifier.
func (f *Flow) ID() string {
	return f.id
}

// MarkInactive records that this flow's connection ended, whether
// gracefully or with an error; no further mutation is expected.
func (f *Flow) MarkInactive() {
	f.IsActive = false
}
