package service

import (
	"github.com/viant/treq"
	"github.com/viant/treq/flow"
)

// FlowDescriptor is the client-facing flow record.
type FlowDescriptor struct {
	FlowID     string        `json:"flowId"`
	Label      string        `json:"label,omitempty"`
	SessionID  string        `json:"sessionId,omitempty"`
	CreatedAt  int64         `json:"createdAt"`
	Executions []string      `json:"executions,omitempty"`
	Finished   bool          `json:"finished"`
	Summary    *flow.Summary `json:"summary,omitempty"`
}

// CreateFlow registers a flow and emits flowStarted.
func (s *Service) CreateFlow(sessionID, label string, meta map[string]interface{}) *FlowDescriptor {
	aFlow := s.flows.Create(flow.CreateSpec{SessionID: sessionID, Label: label, Meta: meta})
	s.bus.Emit(sessionID, treq.NewRunID(), map[string]interface{}{
		"type":   treq.EventFlowStarted,
		"flowId": aFlow.ID,
		"label":  label,
		"seq":    aFlow.NextSeq(),
	})
	return describeFlow(aFlow)
}

// GetFlow returns the flow descriptor.
func (s *Service) GetFlow(flowID string) (*FlowDescriptor, error) {
	aFlow, err := s.flows.Get(flowID)
	if err != nil {
		return nil, err
	}
	return describeFlow(aFlow), nil
}

// FinishFlow finalizes the flow, emits flowFinished with the summary, and
// returns it. Finishing twice returns the original summary.
func (s *Service) FinishFlow(flowID string) (*flow.Summary, error) {
	aFlow, err := s.flows.Get(flowID)
	if err != nil {
		return nil, err
	}
	alreadyFinished := aFlow.Finished()
	summary, err := s.flows.Finish(flowID)
	if err != nil {
		return nil, err
	}
	if !alreadyFinished {
		s.bus.Emit(aFlow.SessionID, treq.NewRunID(), map[string]interface{}{
			"type":       treq.EventFlowFinished,
			"flowId":     flowID,
			"total":      summary.Total,
			"succeeded":  summary.Succeeded,
			"failed":     summary.Failed,
			"durationMs": summary.DurationMs,
			"seq":        aFlow.NextSeq(),
		})
	}
	return summary, nil
}

// GetExecution returns a recorded execution within a flow.
func (s *Service) GetExecution(flowID, reqExecID string) (*flow.Execution, error) {
	return s.flows.Execution(flowID, reqExecID)
}

func describeFlow(aFlow *flow.Flow) *FlowDescriptor {
	return &FlowDescriptor{
		FlowID:     aFlow.ID,
		Label:      aFlow.Label,
		SessionID:  aFlow.SessionID,
		CreatedAt:  aFlow.CreatedAt.UnixMilli(),
		Executions: aFlow.ExecutionIDs(),
		Finished:   aFlow.Finished(),
		Summary:    aFlow.Summary(),
	}
}
