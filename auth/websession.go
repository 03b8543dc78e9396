package auth

import (
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/viant/treq"
)

// CookieName is the web-session cookie.
const CookieName = "treq_session"

const (
	defaultWebSessionTTL  = 30 * time.Minute
	defaultMaxWebSessions = 100
)

// WebSession is a browser-login credential referenced by an HttpOnly cookie;
// distinct from execution sessions.
type WebSession struct {
	ID             string
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// WebSessions holds live web-sessions with sliding expiry.
type WebSessions struct {
	mux      sync.Mutex
	sessions map[string]*WebSession
	ttl      time.Duration
	max      int
	clock    clockwork.Clock
}

// WebSessionsOption customizes a WebSessions store.
type WebSessionsOption func(*WebSessions)

// WithWebSessionTTL sets the sliding idle TTL.
func WithWebSessionTTL(ttl time.Duration) WebSessionsOption {
	return func(w *WebSessions) {
		if ttl > 0 {
			w.ttl = ttl
		}
	}
}

// WithMaxWebSessions caps concurrent web-sessions.
func WithMaxWebSessions(max int) WebSessionsOption {
	return func(w *WebSessions) {
		if max > 0 {
			w.max = max
		}
	}
}

// WithWebSessionsClock injects a clock, used by tests.
func WithWebSessionsClock(clock clockwork.Clock) WebSessionsOption {
	return func(w *WebSessions) { w.clock = clock }
}

// NewWebSessions creates an empty store.
func NewWebSessions(options ...WebSessionsOption) *WebSessions {
	ret := &WebSessions{
		sessions: map[string]*WebSession{},
		ttl:      defaultWebSessionTTL,
		max:      defaultMaxWebSessions,
		clock:    clockwork.NewRealClock(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Issue creates a web-session and returns its id.
func (w *WebSessions) Issue() (string, error) {
	w.mux.Lock()
	defer w.mux.Unlock()
	w.sweepLocked()
	if len(w.sessions) >= w.max {
		return "", treq.NewError(treq.CodeSessionLimitReached, "web session limit reached")
	}
	now := w.clock.Now()
	id := treq.NewSessionID()
	w.sessions[id] = &WebSession{ID: id, CreatedAt: now, LastAccessedAt: now}
	return id, nil
}

// Validate reports whether id references a live web-session; success slides
// the expiry forward.
func (w *WebSessions) Validate(id string) bool {
	w.mux.Lock()
	defer w.mux.Unlock()
	aSession, ok := w.sessions[id]
	if !ok {
		return false
	}
	now := w.clock.Now()
	if now.Sub(aSession.LastAccessedAt) >= w.ttl {
		delete(w.sessions, id)
		return false
	}
	aSession.LastAccessedAt = now
	return true
}

// Revoke removes a web-session.
func (w *WebSessions) Revoke(id string) {
	w.mux.Lock()
	delete(w.sessions, id)
	w.mux.Unlock()
}

func (w *WebSessions) sweepLocked() {
	now := w.clock.Now()
	for id, aSession := range w.sessions {
		if now.Sub(aSession.LastAccessedAt) >= w.ttl {
			delete(w.sessions, id)
		}
	}
}

// BuildCookie returns the web-session cookie; Secure is set for HTTPS
// connections, direct or via X-Forwarded-Proto.
func BuildCookie(id string, secure bool, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   secure,
	}
}

// ClearCookie returns an expired web-session cookie.
func ClearCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   secure,
	}
}

// IsSecureRequest reports whether the request arrived over HTTPS, directly or
// through a proxy.
func IsSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return r.Header.Get("X-Forwarded-Proto") == "https"
}
