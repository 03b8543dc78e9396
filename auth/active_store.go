package auth

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ActiveStore tracks the jtis of live script tokens. The in-memory store is
// the default; a Redis-backed implementation survives restarts.
type ActiveStore interface {
	// Add registers jti until expiresAt.
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	// Active reports whether jti is registered and unexpired.
	Active(ctx context.Context, jti string) (bool, error)
	// Remove revokes jti immediately; unknown jtis are a no-op.
	Remove(ctx context.Context, jti string) error
}

// MemoryActiveStore is the in-memory ActiveStore. Expired entries are
// collected probabilistically on writes.
type MemoryActiveStore struct {
	mux     sync.Mutex
	entries map[string]time.Time
	clock   clockwork.Clock
	rand    *rand.Rand
}

// NewMemoryActiveStore creates an empty in-memory store.
func NewMemoryActiveStore(clock clockwork.Clock) *MemoryActiveStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryActiveStore{
		entries: map[string]time.Time{},
		clock:   clock,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *MemoryActiveStore) Add(_ context.Context, jti string, expiresAt time.Time) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.entries[jti] = expiresAt
	s.maybeSweep()
	return nil
}

func (s *MemoryActiveStore) Active(_ context.Context, jti string) (bool, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	expiresAt, ok := s.entries[jti]
	if !ok {
		return false, nil
	}
	if s.clock.Now().After(expiresAt) {
		delete(s.entries, jti)
		return false, nil
	}
	return true, nil
}

func (s *MemoryActiveStore) Remove(_ context.Context, jti string) error {
	s.mux.Lock()
	delete(s.entries, jti)
	s.mux.Unlock()
	return nil
}

// maybeSweep drops expired jtis on ~5% of writes; caller holds the lock.
func (s *MemoryActiveStore) maybeSweep() {
	if s.rand.Float64() >= 0.05 {
		return
	}
	now := s.clock.Now()
	for jti, expiresAt := range s.entries {
		if now.After(expiresAt) {
			delete(s.entries, jti)
		}
	}
}
