package service

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/viant/treq"
	"github.com/viant/treq/wsession"
)

// WsProxyRequest opens a proxied WS-session against an upstream endpoint.
type WsProxyRequest struct {
	UpstreamURL      string            `json:"upstreamUrl"`
	Subprotocol      string            `json:"subprotocol,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	FlowID           string            `json:"flowId,omitempty"`
	ReqExecID        string            `json:"reqExecId,omitempty"`
	ReplayBufferSize int               `json:"replayBufferSize,omitempty"`
	IdleTimeoutMs    int               `json:"idleTimeoutMs,omitempty"`
}

// WsProxyResponse identifies the opened WS-session.
type WsProxyResponse struct {
	WsSessionID string `json:"wsSessionId"`
	LastSeq     int64  `json:"lastSeq"`
}

// OpenWsProxy dials the upstream WebSocket, registers a WS-session for it and
// starts the inbound pump. The returned lastSeq is the session.opened seq.
func (s *Service) OpenWsProxy(ctx context.Context, request *WsProxyRequest) (*WsProxyResponse, error) {
	if request.UpstreamURL == "" {
		return nil, treq.NewError(treq.CodeValidationError, "upstreamUrl is required")
	}
	header := http.Header{}
	for name, value := range request.Headers {
		header.Set(name, value)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	if request.Subprotocol != "" {
		dialer.Subprotocols = []string{request.Subprotocol}
	}
	upstream, _, err := dialer.DialContext(ctx, request.UpstreamURL, header)
	if err != nil {
		return nil, treq.Errorf(treq.CodeExecuteError, "upstream dial failed: %v", err)
	}

	aSession, opened, err := s.wsManager.Open(wsession.OpenRequest{
		UpstreamURL:      request.UpstreamURL,
		Upstream:         upstream,
		FlowID:           request.FlowID,
		ReqExecID:        request.ReqExecID,
		Subprotocol:      upstream.Subprotocol(),
		ReplayBufferSize: request.ReplayBufferSize,
		IdleTimeout:      time.Duration(request.IdleTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	go s.wsManager.Pump(context.Background(), aSession.ID())
	return &WsProxyResponse{WsSessionID: aSession.ID(), LastSeq: opened.Seq}, nil
}
