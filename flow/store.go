package flow

import (
	"time"

	"github.com/viant/treq"
	"github.com/viant/treq/internal/collection"
)

// Store tracks flows; per-flow mutations are serialized, flows are
// independent.
type Store struct {
	flows *collection.SyncMap[string, *Flow]
}

// NewStore creates an empty flow store.
func NewStore() *Store {
	return &Store{flows: collection.NewSyncMap[string, *Flow]()}
}

// CreateSpec carries optional flow attributes.
type CreateSpec struct {
	SessionID string
	Label     string
	Meta      map[string]interface{}
}

// Create registers a new flow.
func (s *Store) Create(spec CreateSpec) *Flow {
	ret := &Flow{
		ID:        treq.NewFlowID(),
		Label:     spec.Label,
		SessionID: spec.SessionID,
		Meta:      spec.Meta,
		CreatedAt: time.Now(),
		byID:      map[string]*Execution{},
	}
	s.flows.Put(ret.ID, ret)
	return ret
}

// Get returns the flow or FLOW_NOT_FOUND.
func (s *Store) Get(flowID string) (*Flow, error) {
	ret, ok := s.flows.Get(flowID)
	if !ok {
		return nil, treq.Errorf(treq.CodeFlowNotFound, "flow %q not found", flowID)
	}
	return ret, nil
}

// Attach adds an execution to the flow; finished flows reject attaches with
// FLOW_FINISHED.
func (s *Store) Attach(flowID string, execution *Execution) error {
	aFlow, err := s.Get(flowID)
	if err != nil {
		return err
	}
	return aFlow.attach(execution)
}

// Finish finalizes the flow and computes its summary. Finishing twice returns
// the original summary.
func (s *Store) Finish(flowID string) (*Summary, error) {
	aFlow, err := s.Get(flowID)
	if err != nil {
		return nil, err
	}
	return aFlow.finish()
}

// Execution returns a recorded execution or EXECUTION_NOT_FOUND.
func (s *Store) Execution(flowID, reqExecID string) (*Execution, error) {
	aFlow, err := s.Get(flowID)
	if err != nil {
		return nil, err
	}
	aFlow.mux.Lock()
	defer aFlow.mux.Unlock()
	ret, ok := aFlow.byID[reqExecID]
	if !ok {
		return nil, treq.Errorf(treq.CodeExecutionNotFound, "execution %q not found in flow %q", reqExecID, flowID)
	}
	return ret, nil
}
