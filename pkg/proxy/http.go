// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package proxy

import (
	"bytes"
	"io"
	"net/http"
	"net/url"

	"github.com/javaarchive/telescope-proxy/pkg/flow"
	"github.com/javaarchive/telescope-proxy/pkg/resource"
)

var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

func stripHopByHop(h http.Header) {
	for _, k := range hopByHopHeaders {
		h.Del(k)
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// resolveAbsoluteURL reconstructs the absolute URL a request targets.
// A plain proxy request already carries one in absolute-form; a request
// arriving over an intercepted TLS tunnel carries only a path, so it is
// rebuilt from the connection's recorded scheme and the Host header
// (which is what the client actually sent), falling back to the CONNECT
// target when the Host header is empty.
func resolveAbsoluteURL(r *http.Request, state *connState) *url.URL {
	if r.URL.IsAbs() {
		return r.URL
	}
	u := *r.URL
	u.Scheme = state.scheme
	host := r.Host
	if host == "" {
		host = state.targetAddr
	}
	u.Host = host
	return &u
}

// handleHTTP is the CAPTURE/FORWARD core: it records the request, rolls
// the round trip to the real upstream, records the response against the
// same flow, and writes the response back to the client byte-faithfully.
// It runs identically for a plain HTTP request and for one arriving
// inside an already-terminated TLS tunnel; resolveAbsoluteURL is what
// lets the two share this path.
func (p *Proxy) handleHTTP(w http.ResponseWriter, r *http.Request, state *connState) {
	target := resolveAbsoluteURL(r, state)

	reqBytes, readErr := io.ReadAll(r.Body)
	var reqCapture resource.Resource
	if readErr != nil {
		p.logger.Warn().Err(readErr).Str("url", target.String()).Msg(ErrBodyReadFailed.Error())
		reqCapture = resource.Empty()
	} else {
		reqCapture = resource.NewMemory(reqBytes)
	}

	var f *flow.Flow
	if meta, err := flow.NewRequestMeta(target.String(), r.Method, r.Proto); err != nil {
		p.logger.Warn().Err(err).Str("url", target.String()).Msg("failed to build request metadata; flow not recorded")
	} else {
		f = flow.New(flow.NewCapturedRequest(meta, r.Header.Clone(), reqCapture))
		p.store.Add(f)
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), bytes.NewReader(reqBytes))
	if err != nil {
		p.logger.Warn().Err(err).Str("url", target.String()).Msg(ErrProtocolViolation.Error())
		if f != nil {
			f.MarkInactive()
		}
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	copyHeaders(upstreamReq.Header, r.Header)
	stripHopByHop(upstreamReq.Header)
	upstreamReq.Host = r.Host

	resp, err := p.upstream.Do(upstreamReq)
	if err != nil {
		p.logger.Warn().Err(err).Str("url", target.String()).Msg(ErrUpstreamUnreachable.Error())
		if f != nil {
			f.MarkInactive()
		}
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	respBytes, readErr := io.ReadAll(resp.Body)
	var respCapture resource.Resource
	if readErr != nil {
		p.logger.Warn().Err(readErr).Str("url", target.String()).Msg(ErrBodyReadFailed.Error())
		respCapture = resource.Empty()
	} else {
		respCapture = resource.NewMemory(respBytes)
	}

	if f != nil {
		if mut, ok := p.store.GetMut(f.ID()); ok {
			responseMeta := flow.NewResponseMeta(resp.StatusCode, resp.Proto)
			mut.Content.HTTP.AddResponse(flow.NewCapturedResponse(responseMeta, resp.Header.Clone(), respCapture))
		} else {
			p.logger.Warn().Str("flow_id", f.ID()).Msg("flow evicted before response arrived; forwarding without capture")
		}
	}

	copyHeaders(w.Header(), resp.Header)
	stripHopByHop(w.Header())
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(respBytes); err != nil {
		p.logger.Debug().Err(err).Str("url", target.String()).Msg("failed writing response to client")
	}
}
