package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/viant/treq"
	"github.com/viant/treq/auth"
	"github.com/viant/treq/wsession"
)

const wsCloseWriteTimeout = 2 * time.Second

// handleEventSocket delivers the event feed over WebSocket, one JSON envelope
// per text frame. Filters and replay semantics match the SSE endpoint.
func (s *Server) handleEventSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	filter, afterSeq, err := s.eventFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("event socket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	replayed, events, closed, subscriberID := s.subscribeEvents(filter, afterSeq)
	defer s.service.Bus().Unsubscribe(subscriberID)
	for _, envelope := range replayed {
		if err := writeEnvelope(conn, envelope); err != nil {
			return
		}
	}

	readDone := readUntilError(conn)
	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-readDone:
			return
		case <-closed:
			closeSocket(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case envelope := <-events:
			if err := writeEnvelope(conn, envelope); err != nil {
				return
			}
		case <-heartbeat.C:
			deadline := time.Now().Add(wsCloseWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// wsClientFrame is what a bridged client sends to forward a message upstream.
type wsClientFrame struct {
	Type    string                 `json:"type,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// handleWsSession bridges a client WebSocket onto an open WS-session: an
// optional afterSeq replay first, then live envelopes; client text frames are
// forwarded to the upstream, client binary frames are rejected without
// tearing the session down.
func (s *Server) handleWsSession(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	wsSessionID := params.ByName("wsSessionId")
	manager := s.service.WsManager()
	aSession, err := manager.Get(wsSessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := auth.EnforceScope(IdentityFrom(r.Context()), auth.OpEventsSubscribe,
		aSession.FlowID(), ""); err != nil {
		writeError(w, err)
		return
	}
	var afterSeq int64 = -1
	if raw := r.URL.Query().Get("afterSeq"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, treq.Errorf(treq.CodeValidationError, "invalid afterSeq %q", raw))
			return
		}
		afterSeq = parsed
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("ws session upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	events := make(chan wsession.Envelope, sseBacklog)
	sinkID := aSession.Attach(func(envelope wsession.Envelope) {
		select {
		case events <- envelope:
		default:
			// a slow client loses live frames; replay covers the gap
		}
	})
	defer aSession.Detach(sinkID)

	var lastReplayed int64
	if afterSeq >= 0 {
		for _, envelope := range aSession.Replay(afterSeq) {
			if envelope.Seq > lastReplayed {
				lastReplayed = envelope.Seq
			}
			if err := writeEnvelope(conn, envelope); err != nil {
				return
			}
		}
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch messageType {
			case websocket.TextMessage:
				frame := &wsClientFrame{}
				if err := json.Unmarshal(data, frame); err != nil {
					frame = &wsClientFrame{Payload: map[string]interface{}{"text": string(data)}}
				}
				_, _ = manager.Send(wsSessionID, frame.Type, frame.Payload)
			case websocket.BinaryMessage:
				_, _ = manager.RecordBinary(wsSessionID, "outbound")
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readDone:
			return
		case envelope := <-events:
			if envelope.Seq != 0 && envelope.Seq <= lastReplayed {
				continue
			}
			if err := writeEnvelope(conn, envelope); err != nil {
				return
			}
			if envelope.Type == wsession.TypeClosed {
				closeSocket(conn, websocket.CloseNormalClosure, "session closed")
				return
			}
		}
	}
}

func writeEnvelope(conn *websocket.Conn, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readUntilError discards client frames and signals once the read side fails,
// which is how a client disconnect is observed.
func readUntilError(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}

func closeSocket(conn *websocket.Conn, code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(wsCloseWriteTimeout))
}
