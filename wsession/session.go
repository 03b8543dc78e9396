// Package wsession proxies client-facing WebSocket traffic to upstream
// WebSocket endpoints. Each session keeps an ordered envelope sequence and a
// bounded replay ring so a reconnecting client can resume without loss.
package wsession

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/viant/treq"
	"github.com/viant/treq/internal/collection"
)

// Envelope wire types.
const (
	TypeOpened    = "session.opened"
	TypeInbound   = "session.inbound"
	TypeOutbound  = "session.outbound"
	TypeClosed    = "session.closed"
	TypeError     = "session.error"
	TypeReplayEnd = "session.replay.end"
)

// Envelope is a single WS-session frame record.
type Envelope struct {
	Type        string                 `json:"type"`
	WsSessionID string                 `json:"wsSessionId"`
	Seq         int64                  `json:"seq,omitempty"`
	Ts          int64                  `json:"ts"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// Conn abstracts the upstream socket; satisfied by *websocket.Conn.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type sink struct {
	id      int
	onEvent func(Envelope)
}

// Session binds one upstream connection to its envelope history.
type Session struct {
	id          string
	upstream    Conn
	flowID      string
	reqExecID   string
	subprotocol string
	idleTimeout time.Duration

	mux          sync.Mutex
	seq          int64
	oldestSeq    int64
	ring         *collection.Ring[Envelope]
	sinks        map[int]*sink
	nextSink     int
	lastActivity time.Time
	closed       bool
	clock        clockwork.Clock
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// FlowID returns the owning flow, if any.
func (s *Session) FlowID() string { return s.flowID }

// ReqExecID returns the originating execution, if any.
func (s *Session) ReqExecID() string { return s.reqExecID }

// Subprotocol returns the negotiated upstream subprotocol.
func (s *Session) Subprotocol() string { return s.subprotocol }

// LastSeq returns the most recently assigned envelope sequence.
func (s *Session) LastSeq() int64 {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.seq
}

// emit assigns the next sequence, buffers the envelope and fans it out.
func (s *Session) emit(eventType string, payload map[string]interface{}) Envelope {
	s.mux.Lock()
	s.seq++
	envelope := Envelope{
		Type:        eventType,
		WsSessionID: s.id,
		Seq:         s.seq,
		Ts:          s.clock.Now().UnixMilli(),
		Payload:     payload,
	}
	if s.ring.Len() == s.ring.Cap() {
		s.oldestSeq++
	}
	s.ring.Append(envelope)
	if s.oldestSeq == 0 {
		s.oldestSeq = 1
	}
	s.lastActivity = s.clock.Now()
	sinks := make([]*sink, 0, len(s.sinks))
	for _, aSink := range s.sinks {
		sinks = append(sinks, aSink)
	}
	s.mux.Unlock()

	for _, aSink := range sinks {
		aSink.onEvent(envelope)
	}
	return envelope
}

// synthetic builds an envelope outside the ordered, buffered stream; replay
// terminators and gap markers do not consume sequence numbers.
func (s *Session) synthetic(eventType string, payload map[string]interface{}) Envelope {
	return Envelope{
		Type:        eventType,
		WsSessionID: s.id,
		Ts:          s.clock.Now().UnixMilli(),
		Payload:     payload,
	}
}

// writeUpstream sends one frame to the upstream, holding the session lock
// across the closed check and the write so a concurrent close cannot slip in
// between. sent is false when the session is already closed.
func (s *Session) writeUpstream(messageType int, data []byte) (sent bool, err error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.closed {
		return false, nil
	}
	return true, s.upstream.WriteMessage(messageType, data)
}

// Attach registers a downstream envelope sink, returning a detach handle.
func (s *Session) Attach(onEvent func(Envelope)) int {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.nextSink++
	id := s.nextSink
	s.sinks[id] = &sink{id: id, onEvent: onEvent}
	return id
}

// Detach removes a previously attached sink.
func (s *Session) Detach(id int) {
	s.mux.Lock()
	defer s.mux.Unlock()
	delete(s.sinks, id)
}

// Replay returns buffered envelopes with seq > afterSeq followed by a
// session.replay.end terminator. When envelopes past afterSeq have already
// been evicted from the ring, a single WS_REPLAY_GAP error envelope precedes
// the terminator instead.
func (s *Session) Replay(afterSeq int64) []Envelope {
	s.mux.Lock()
	buffered := s.ring.Items()
	oldest := s.oldestSeq
	s.mux.Unlock()

	if oldest > 0 && afterSeq < oldest-1 {
		return []Envelope{
			s.synthetic(TypeError, map[string]interface{}{
				"code":    treq.CodeWsReplayGap,
				"message": "requested sequence no longer buffered",
			}),
			s.synthetic(TypeReplayEnd, nil),
		}
	}
	var ret []Envelope
	for _, envelope := range buffered {
		if envelope.Seq > afterSeq {
			ret = append(ret, envelope)
		}
	}
	return append(ret, s.synthetic(TypeReplayEnd, nil))
}

func (s *Session) idleSince(now time.Time) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.idleTimeout > 0 && now.Sub(s.lastActivity) > s.idleTimeout
}
