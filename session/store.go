package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/viant/treq"
)

const (
	defaultMaxSessions   = 100
	defaultTTL           = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// Store owns all execution sessions: creation with LRU eviction, lookup,
// serialized variable updates, deletion and TTL sweeping.
type Store struct {
	mux      sync.Mutex
	sessions map[string]*Session
	max      int
	ttl      time.Duration
	interval time.Duration
	clock    clockwork.Clock
	log      *logrus.Entry
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithMaxSessions caps the number of live sessions.
func WithMaxSessions(max int) StoreOption {
	return func(s *Store) {
		if max > 0 {
			s.max = max
		}
	}
}

// WithTTL sets the idle TTL after which a session is swept.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSweepInterval sets the sweeper period.
func WithSweepInterval(interval time.Duration) StoreOption {
	return func(s *Store) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithStoreClock injects a clock, used by tests.
func WithStoreClock(clock clockwork.Clock) StoreOption {
	return func(s *Store) { s.clock = clock }
}

// NewStore creates a Store and starts its TTL sweeper.
func NewStore(options ...StoreOption) *Store {
	ret := &Store{
		sessions: map[string]*Session{},
		max:      defaultMaxSessions,
		ttl:      defaultTTL,
		interval: defaultSweepInterval,
		clock:    clockwork.NewRealClock(),
		log:      treq.Logger("session.store"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, option := range options {
		option(ret)
	}
	go ret.sweep()
	return ret
}

// Create registers a new session seeded with initialVars. When the store is
// at capacity the session with the smallest lastUsedAt is evicted first.
func (s *Store) Create(initialVars map[string]interface{}) *Session {
	s.mux.Lock()
	defer s.mux.Unlock()
	for len(s.sessions) >= s.max {
		s.evictOldest()
	}
	id := treq.NewSessionID()
	for _, taken := s.sessions[id]; taken; _, taken = s.sessions[id] {
		id = treq.NewSessionID()
	}
	ret := newSession(id, initialVars, s.clock.Now())
	s.sessions[id] = ret
	return ret
}

// evictOldest removes the session with the smallest lastUsedAt; caller holds
// the lock.
func (s *Store) evictOldest() {
	var oldest *Session
	for _, candidate := range s.sessions {
		if oldest == nil || candidate.LastUsed() < oldest.LastUsed() {
			oldest = candidate
		}
	}
	if oldest == nil {
		return
	}
	delete(s.sessions, oldest.ID)
	s.log.WithField("session_id", oldest.ID).Debug("evicted session")
}

// Get returns the session or SESSION_NOT_FOUND.
func (s *Store) Get(id string) (*Session, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	ret, ok := s.sessions[id]
	if !ok {
		return nil, treq.Errorf(treq.CodeSessionNotFound, "session %q not found", id)
	}
	return ret, nil
}

// UpdateVariables applies a serialized variable update and reports whether
// the variables observably changed together with the resulting snapshot
// version.
func (s *Store) UpdateVariables(ctx context.Context, id string, vars map[string]interface{}, mode UpdateMode) (bool, uint64, error) {
	aSession, err := s.Get(id)
	if err != nil {
		return false, 0, err
	}
	var changed bool
	var version uint64
	err = aSession.Run(ctx, func() error {
		changed = aSession.SetVariables(vars, mode)
		aSession.Touch(s.clock.Now())
		if changed {
			version = aSession.BumpSnapshot()
		} else {
			version = aSession.SnapshotVersion()
		}
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return changed, version, nil
}

// Touch bumps a session's lastUsedAt with the store clock.
func (s *Store) Touch(aSession *Session) {
	aSession.Touch(s.clock.Now())
}

// Delete removes the session or returns SESSION_NOT_FOUND.
func (s *Store) Delete(id string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return treq.Errorf(treq.CodeSessionNotFound, "session %q not found", id)
	}
	delete(s.sessions, id)
	return nil
}

// Size returns the number of live sessions.
func (s *Store) Size() int {
	s.mux.Lock()
	defer s.mux.Unlock()
	return len(s.sessions)
}

// Close stops the sweeper.
func (s *Store) Close() {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
	})
}

func (s *Store) sweep() {
	defer close(s.done)
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.Chan():
			s.sweepOnce()
		}
	}
}

func (s *Store) sweepOnce() {
	cutoff := s.clock.Now().Add(-s.ttl).UnixMilli()
	s.mux.Lock()
	defer s.mux.Unlock()
	for id, aSession := range s.sessions {
		if aSession.LastUsed() < cutoff {
			delete(s.sessions, id)
			s.log.WithField("session_id", id).Debug("swept idle session")
		}
	}
}
