// Package session implements the execution session store: variables, cookie
// jars, LRU eviction, TTL sweeping and per-session serialization.
package session

import (
	"reflect"
	"sync"
	"time"
)

// UpdateMode selects how a variable update is applied.
type UpdateMode string

const (
	// ModeMerge overlays the provided variables on the existing set.
	ModeMerge UpdateMode = "merge"
	// ModeReplace discards the existing set and keeps only the provided keys.
	ModeReplace UpdateMode = "replace"
)

// Session is a server-held bag of variables and a cookie jar. All mutating
// operations must run under Run so that at most one is in flight.
type Session struct {
	ID        string
	CreatedAt time.Time

	mux             sync.Mutex
	vars            map[string]interface{}
	jar             *Jar
	lastUsedAt      int64 // unix millis, strictly increasing
	snapshotVersion uint64
	lock            queueLock
}

func newSession(id string, initial map[string]interface{}, now time.Time) *Session {
	vars := map[string]interface{}{}
	for k, v := range initial {
		vars[k] = v
	}
	return &Session{
		ID:              id,
		CreatedAt:       now,
		vars:            vars,
		jar:             NewJar(),
		lastUsedAt:      now.UnixMilli(),
		snapshotVersion: 1,
	}
}

// Jar returns the session cookie jar capability.
func (s *Session) Jar() *Jar { return s.jar }

// Variables returns a copy of the variable set.
func (s *Session) Variables() map[string]interface{} {
	s.mux.Lock()
	defer s.mux.Unlock()
	ret := make(map[string]interface{}, len(s.vars))
	for k, v := range s.vars {
		ret[k] = v
	}
	return ret
}

// SetVariables applies vars with the given mode and reports whether the set
// observably changed.
func (s *Session) SetVariables(vars map[string]interface{}, mode UpdateMode) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	switch mode {
	case ModeReplace:
		next := make(map[string]interface{}, len(vars))
		for k, v := range vars {
			next[k] = v
		}
		if reflect.DeepEqual(s.vars, next) {
			return false
		}
		s.vars = next
		return true
	default:
		changed := false
		for k, v := range vars {
			if prior, ok := s.vars[k]; !ok || !reflect.DeepEqual(prior, v) {
				s.vars[k] = v
				changed = true
			}
		}
		return changed
	}
}

// Touch bumps lastUsedAt monotonically: a fast clock or same-millisecond
// updates still produce a strictly increasing timeline.
func (s *Session) Touch(now time.Time) {
	s.mux.Lock()
	defer s.mux.Unlock()
	millis := now.UnixMilli()
	if millis <= s.lastUsedAt {
		millis = s.lastUsedAt + 1
	}
	s.lastUsedAt = millis
}

// LastUsed returns the lastUsedAt timestamp in unix millis.
func (s *Session) LastUsed() int64 {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.lastUsedAt
}

// SnapshotVersion returns the current snapshot version; it starts at 1 and
// never decreases.
func (s *Session) SnapshotVersion() uint64 {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.snapshotVersion
}

// BumpSnapshot increments the snapshot version and returns the new value.
func (s *Session) BumpSnapshot() uint64 {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.snapshotVersion++
	return s.snapshotVersion
}

// State is the client-facing session descriptor.
type State struct {
	ID              string                 `json:"sessionId"`
	Variables       map[string]interface{} `json:"variables"`
	CookieCount     int                    `json:"cookieCount"`
	CreatedAt       int64                  `json:"createdAt"`
	LastUsedAt      int64                  `json:"lastUsedAt"`
	SnapshotVersion uint64                 `json:"snapshotVersion"`
}

// State returns the session descriptor; sensitive variable values are
// redacted, stored values stay intact.
func (s *Session) State() *State {
	s.mux.Lock()
	vars := make(map[string]interface{}, len(s.vars))
	for k, v := range s.vars {
		vars[k] = v
	}
	lastUsed := s.lastUsedAt
	version := s.snapshotVersion
	s.mux.Unlock()
	return &State{
		ID:              s.ID,
		Variables:       Redact(vars),
		CookieCount:     s.jar.Count(),
		CreatedAt:       s.CreatedAt.UnixMilli(),
		LastUsedAt:      lastUsed,
		SnapshotVersion: version,
	}
}
