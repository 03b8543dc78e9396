package service

import (
	"context"

	"github.com/viant/treq"
	"github.com/viant/treq/session"
)

// CreateSession creates a session seeded with initial variables; the store
// evicts the least-recently-used session when over the cap.
func (s *Service) CreateSession(initial map[string]interface{}) *session.State {
	aSession := s.sessions.Create(initial)
	s.log.WithField("session_id", aSession.ID).Debug("session created")
	return aSession.State()
}

// GetSession returns the redacted session descriptor.
func (s *Service) GetSession(id string) (*session.State, error) {
	aSession, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	return aSession.State(), nil
}

// UpdateSessionVariables applies a merge or replace update under the session
// lock, bumps snapshotVersion on observable change and emits sessionUpdated.
func (s *Service) UpdateSessionVariables(ctx context.Context, id string,
	vars map[string]interface{}, mode session.UpdateMode) (*session.State, error) {
	changed, version, err := s.sessions.UpdateVariables(ctx, id, vars, mode)
	if err != nil {
		return nil, err
	}
	if changed {
		s.bus.Emit(id, treq.NewRunID(), map[string]interface{}{
			"type":             treq.EventSessionUpdated,
			"sessionId":        id,
			"snapshotVersion":  version,
			"variablesChanged": true,
			"cookiesChanged":   false,
		})
	}
	return s.GetSession(id)
}

// DeleteSession removes a session.
func (s *Service) DeleteSession(id string) error {
	return s.sessions.Delete(id)
}
