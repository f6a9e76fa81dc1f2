// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package proxy

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/javaarchive/telescope-proxy/pkg/flow"
	"github.com/javaarchive/telescope-proxy/pkg/resource"
)

// websocketDialHeaders are stripped before dialing upstream; gorilla's
// Dialer sets its own Sec-WebSocket-* handshake headers and refuses to
// dial if the caller has already set them.
var websocketDialHeaders = []string{
	"Upgrade",
	"Connection",
	"Sec-Websocket-Key",
	"Sec-Websocket-Version",
	"Sec-Websocket-Extensions",
	"Sec-Websocket-Protocol",
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// handleWebSocket records the upgrade handshake as a flow and then
// relays every frame between client and upstream unmodified in both
// directions. Per-frame payload capture is reserved future work (see
// flow.WebSocketSession); only the handshake and a frame count are
// recorded, so a long-lived session never grows the flow store.
func (p *Proxy) handleWebSocket(w http.ResponseWriter, r *http.Request, state *connState) {
	target := resolveAbsoluteURL(r, state)
	wsURL := *target
	if wsURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}

	var f *flow.Flow
	if meta, err := flow.NewRequestMeta(target.String(), r.Method, r.Proto); err != nil {
		p.logger.Warn().Err(err).Str("url", target.String()).Msg("failed to build websocket handshake metadata; flow not recorded")
	} else {
		capturedReq := flow.NewCapturedRequest(meta, r.Header.Clone(), resource.Empty())
		f = flow.New(capturedReq)
		f.Content.Kind = flow.ContentWebSocket
		f.Content.HTTP = nil
		f.Content.WebSocket = &flow.WebSocketSession{Handshake: flow.NewHTTPPair(capturedReq)}
		p.store.Add(f)
	}

	dialHeader := http.Header{}
	copyHeaders(dialHeader, r.Header)
	for _, k := range websocketDialHeaders {
		dialHeader.Del(k)
	}

	upstreamConn, upstreamResp, err := p.wsDialer.Dial(wsURL.String(), dialHeader)
	if err != nil {
		p.logger.Warn().Err(err).Str("url", wsURL.String()).Msg(ErrUpstreamUnreachable.Error())
		if f != nil {
			f.MarkInactive()
		}
		http.Error(w, "upstream websocket unreachable", http.StatusBadGateway)
		return
	}
	defer upstreamConn.Close()

	clientConn, err := p.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn().Err(err).Msg("websocket upgrade with client failed")
		if f != nil {
			f.MarkInactive()
		}
		return
	}
	defer clientConn.Close()

	if f != nil {
		if mut, ok := p.store.GetMut(f.ID()); ok && mut.Content.WebSocket != nil {
			responseMeta := flow.NewResponseMeta(upstreamResp.StatusCode, upstreamResp.Proto)
			mut.Content.WebSocket.Handshake.AddResponse(flow.NewCapturedResponse(responseMeta, upstreamResp.Header.Clone(), resource.Empty()))
		}
	}

	var frames int64
	var wg sync.WaitGroup
	wg.Add(2)
	go relayFrames(clientConn, upstreamConn, &frames, &wg)
	go relayFrames(upstreamConn, clientConn, &frames, &wg)
	wg.Wait()

	if f != nil {
		if mut, ok := p.store.GetMut(f.ID()); ok && mut.Content.WebSocket != nil {
			mut.Content.WebSocket.Frames = int(atomic.LoadInt64(&frames))
		}
		f.MarkInactive()
	}
}

// relayFrames copies every frame read from src to dst unmodified until
// either side errors or closes, then closes both ends so the other
// relay goroutine unblocks too.
func relayFrames(dst, src *websocket.Conn, frames *int64, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		messageType, payload, err := src.ReadMessage()
		if err != nil {
			dst.Close()
			return
		}
		if err := dst.WriteMessage(messageType, payload); err != nil {
			src.Close()
			return
		}
		atomic.AddInt64(frames, 1)
	}
}
