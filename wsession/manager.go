package wsession

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/viant/treq"
	"github.com/viant/treq/internal/collection"
)

const (
	defaultMaxSessions      = 50
	defaultReplayBufferSize = 500
	defaultIdleTimeout      = 5 * time.Minute
	defaultSweepInterval    = 30 * time.Second

	closeWriteTimeout = 2 * time.Second
)

// OpenRequest describes a new WS-session.
type OpenRequest struct {
	UpstreamURL      string
	Upstream         Conn
	FlowID           string
	ReqExecID        string
	Subprotocol      string
	ReplayBufferSize int
	IdleTimeout      time.Duration
}

// Manager owns the WS-session map, enforcing the session cap and closing
// idle sessions.
type Manager struct {
	mux         sync.Mutex
	sessions    map[string]*Session
	maxSessions int
	replaySize  int
	idleTimeout time.Duration
	sweepEvery  time.Duration
	clock       clockwork.Clock
	log         *logrus.Entry

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Option customizes a Manager.
type Option func(*Manager)

// WithMaxWsSessions caps concurrently open sessions.
func WithMaxWsSessions(max int) Option {
	return func(m *Manager) {
		if max > 0 {
			m.maxSessions = max
		}
	}
}

// WithReplayBufferSize sets the default per-session ring capacity.
func WithReplayBufferSize(size int) Option {
	return func(m *Manager) {
		if size > 0 {
			m.replaySize = size
		}
	}
}

// WithIdleTimeout sets the default idle close threshold.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.idleTimeout = timeout
		}
	}
}

// WithSweepInterval tunes the idle sweeper cadence.
func WithSweepInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.sweepEvery = interval
		}
	}
}

// WithClock injects a clock, used by tests.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// New creates a Manager and starts its idle sweeper.
func New(options ...Option) *Manager {
	ret := &Manager{
		sessions:    map[string]*Session{},
		maxSessions: defaultMaxSessions,
		replaySize:  defaultReplayBufferSize,
		idleTimeout: defaultIdleTimeout,
		sweepEvery:  defaultSweepInterval,
		clock:       clockwork.NewRealClock(),
		log:         treq.Logger("wsession"),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, option := range options {
		option(ret)
	}
	go ret.sweepLoop()
	return ret
}

// Open registers request.Upstream under a fresh session id and emits the
// session.opened envelope. When the cap is reached the upstream is closed
// with 1013 (try again later) and WS_SESSION_LIMIT_REACHED is returned.
func (m *Manager) Open(request OpenRequest) (*Session, Envelope, error) {
	replaySize := request.ReplayBufferSize
	if replaySize <= 0 {
		replaySize = m.replaySize
	}
	idleTimeout := request.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = m.idleTimeout
	}
	aSession := newSession(treq.NewWsSessionID(), request, replaySize, idleTimeout, m.clock)

	m.mux.Lock()
	if len(m.sessions) >= m.maxSessions {
		m.mux.Unlock()
		closeConn(request.Upstream, websocket.CloseTryAgainLater, "session limit reached")
		return nil, Envelope{}, treq.Errorf(treq.CodeWsSessionLimitReached,
			"ws session limit of %d reached", m.maxSessions)
	}
	m.sessions[aSession.id] = aSession
	m.mux.Unlock()

	opened := aSession.emit(TypeOpened, map[string]interface{}{
		"upstreamUrl": request.UpstreamURL,
		"subprotocol": request.Subprotocol,
	})
	m.log.WithFields(logrus.Fields{"wsSessionId": aSession.id, "upstream": request.UpstreamURL}).
		Debug("ws session opened")
	return aSession, opened, nil
}

// Get resolves a session by id.
func (m *Manager) Get(wsSessionID string) (*Session, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	aSession, ok := m.sessions[wsSessionID]
	if !ok {
		return nil, treq.Errorf(treq.CodeWsSessionNotFound, "ws session %q not found", wsSessionID)
	}
	return aSession, nil
}

// Send marshals payload as a text frame to the upstream and emits a
// session.outbound envelope.
func (m *Manager) Send(wsSessionID, messageType string, payload map[string]interface{}) (Envelope, error) {
	aSession, err := m.Get(wsSessionID)
	if err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	sent, err := aSession.writeUpstream(websocket.TextMessage, data)
	if !sent {
		return Envelope{}, treq.Errorf(treq.CodeWsSessionNotFound, "ws session %q closed", wsSessionID)
	}
	if err != nil {
		envelope := aSession.emit(TypeError, map[string]interface{}{
			"message": err.Error(),
		})
		return envelope, treq.Errorf(treq.CodeExecuteError, "ws send failed: %v", err)
	}
	return aSession.emit(TypeOutbound, map[string]interface{}{
		"messageType": messageType,
		"payload":     payload,
	}), nil
}

// RecordInbound emits a session.inbound envelope for an upstream text frame.
func (m *Manager) RecordInbound(wsSessionID string, data []byte) (Envelope, error) {
	aSession, err := m.Get(wsSessionID)
	if err != nil {
		return Envelope{}, err
	}
	payload := map[string]interface{}{}
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err == nil {
		payload["payload"] = decoded
	} else {
		payload["text"] = string(data)
	}
	return aSession.emit(TypeInbound, payload), nil
}

// RecordBinary emits a WS_BINARY_UNSUPPORTED error envelope. The session
// stays open; binary frames are dropped, not fatal.
func (m *Manager) RecordBinary(wsSessionID, direction string) (Envelope, error) {
	aSession, err := m.Get(wsSessionID)
	if err != nil {
		return Envelope{}, err
	}
	return aSession.emit(TypeError, map[string]interface{}{
		"code":      treq.CodeWsBinaryUnsupported,
		"direction": direction,
		"message":   "binary frames are not supported",
	}), nil
}

// Close closes the upstream, emits session.closed and removes the session.
func (m *Manager) Close(wsSessionID string, code int, reason string) error {
	m.mux.Lock()
	aSession, ok := m.sessions[wsSessionID]
	delete(m.sessions, wsSessionID)
	m.mux.Unlock()
	if !ok {
		return treq.Errorf(treq.CodeWsSessionNotFound, "ws session %q not found", wsSessionID)
	}
	m.closeSession(aSession, code, reason, true)
	return nil
}

// Replay returns buffered envelopes with seq > afterSeq plus the replay
// terminator.
func (m *Manager) Replay(wsSessionID string, afterSeq int64) ([]Envelope, error) {
	aSession, err := m.Get(wsSessionID)
	if err != nil {
		return nil, err
	}
	return aSession.Replay(afterSeq), nil
}

// Size returns the number of open sessions.
func (m *Manager) Size() int {
	m.mux.Lock()
	defer m.mux.Unlock()
	return len(m.sessions)
}

// Pump reads upstream frames until the connection fails or ctx is done. Text
// frames become inbound envelopes, binary frames non-fatal error envelopes.
// The session is closed and removed when the pump exits.
func (m *Manager) Pump(ctx context.Context, wsSessionID string) {
	aSession, err := m.Get(wsSessionID)
	if err != nil {
		return
	}
	for {
		if ctx.Err() != nil {
			_ = m.Close(wsSessionID, websocket.CloseGoingAway, "context cancelled")
			return
		}
		messageType, data, err := aSession.upstream.ReadMessage()
		if err != nil {
			code, reason, wasClean := websocket.CloseAbnormalClosure, err.Error(), false
			if closeErr, ok := err.(*websocket.CloseError); ok {
				code, reason, wasClean = closeErr.Code, closeErr.Text, true
			}
			m.mux.Lock()
			_, open := m.sessions[wsSessionID]
			delete(m.sessions, wsSessionID)
			m.mux.Unlock()
			if open {
				m.closeSession(aSession, code, reason, wasClean)
			}
			return
		}
		switch messageType {
		case websocket.TextMessage:
			_, _ = m.RecordInbound(wsSessionID, data)
		case websocket.BinaryMessage:
			_, _ = m.RecordBinary(wsSessionID, "inbound")
		}
	}
}

// CloseAll closes every session with 1001 and stops the sweeper.
func (m *Manager) CloseAll() {
	m.once.Do(func() {
		close(m.stop)
		<-m.done
	})
	m.mux.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, aSession := range m.sessions {
		sessions = append(sessions, aSession)
	}
	m.sessions = map[string]*Session{}
	m.mux.Unlock()
	for _, aSession := range sessions {
		m.closeSession(aSession, websocket.CloseGoingAway, "server shutting down", true)
	}
}

func (m *Manager) closeSession(aSession *Session, code int, reason string, wasClean bool) {
	aSession.mux.Lock()
	alreadyClosed := aSession.closed
	aSession.closed = true
	aSession.mux.Unlock()
	if alreadyClosed {
		return
	}
	closeConn(aSession.upstream, code, reason)
	aSession.emit(TypeClosed, map[string]interface{}{
		"code":     code,
		"reason":   reason,
		"wasClean": wasClean,
	})
	m.log.WithFields(logrus.Fields{"wsSessionId": aSession.id, "code": code}).Debug("ws session closed")
}

func (m *Manager) sweepLoop() {
	defer close(m.done)
	ticker := m.clock.NewTicker(m.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.Chan():
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := m.clock.Now()
	m.mux.Lock()
	var idle []*Session
	for id, aSession := range m.sessions {
		if aSession.idleSince(now) {
			idle = append(idle, aSession)
			delete(m.sessions, id)
		}
	}
	m.mux.Unlock()
	for _, aSession := range idle {
		m.closeSession(aSession, websocket.CloseGoingAway, "idle timeout", true)
	}
}

func newSession(id string, request OpenRequest, replaySize int, idleTimeout time.Duration, clock clockwork.Clock) *Session {
	return &Session{
		id:           id,
		upstream:     request.Upstream,
		flowID:       request.FlowID,
		reqExecID:    request.ReqExecID,
		subprotocol:  request.Subprotocol,
		idleTimeout:  idleTimeout,
		ring:         collection.NewRing[Envelope](replaySize),
		sinks:        map[int]*sink{},
		lastActivity: clock.Now(),
		clock:        clock,
	}
}

func closeConn(conn Conn, code int, reason string) {
	if conn == nil {
		return
	}
	message := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeWriteTimeout))
	_ = conn.Close()
}
