// Package flow groups related executions under a flow id and records
// per-execution detail for later retrieval.
package flow

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/viant/treq"
)

// Execution statuses.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Source describes where an execution's request came from.
type Source struct {
	File         string `json:"file,omitempty"`
	Content      string `json:"content,omitempty"`
	RequestName  string `json:"requestName,omitempty"`
	RequestIndex *int   `json:"requestIndex,omitempty"`
}

// ExecError carries the failing stage and message.
type ExecError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// HookRecord reports a plugin hook outcome on an execution.
type HookRecord struct {
	Name   string `json:"name"`
	Point  string `json:"point"`
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

// ResponseInfo is the recorded response summary.
type ResponseInfo struct {
	Status    int                 `json:"status"`
	Headers   map[string][]string `json:"headers,omitempty"`
	BodyView  string              `json:"bodyPreview,omitempty"`
	Truncated bool                `json:"truncated"`
}

// Timing carries execution timestamps in unix millis.
type Timing struct {
	StartedAt  int64 `json:"startedAt"`
	EndedAt    int64 `json:"endedAt,omitempty"`
	DurationMs int64 `json:"durationMs,omitempty"`
	TTFBMs     int64 `json:"ttfbMs,omitempty"`
}

// Execution records a single dispatched request. Records are immutable once
// the execution completes.
type Execution struct {
	ReqExecID string              `json:"reqExecId"`
	Label     string              `json:"label,omitempty"`
	Source    Source              `json:"source"`
	Method    string              `json:"method,omitempty"`
	URL       string              `json:"url,omitempty"`
	Headers   map[string][]string `json:"requestHeaders,omitempty"`
	Response  *ResponseInfo       `json:"response,omitempty"`
	Timing    Timing              `json:"timing"`
	Status    string              `json:"status"`
	Error     *ExecError          `json:"error,omitempty"`
	Hooks     []HookRecord        `json:"hooks,omitempty"`
}

// Summary aggregates a finished flow.
type Summary struct {
	Total      int   `json:"total"`
	Succeeded  int   `json:"succeeded"`
	Failed     int   `json:"failed"`
	DurationMs int64 `json:"durationMs"`
}

// Flow is a correlation group of executions.
type Flow struct {
	ID        string
	Label     string
	SessionID string
	Meta      map[string]interface{}
	CreatedAt time.Time

	mux        sync.Mutex
	executions []*Execution
	byID       map[string]*Execution
	finished   bool
	summary    *Summary
	seq        uint64
}

// NextSeq returns the next flow-scoped event sequence number; producers stamp
// it into emitted envelopes so flow subscribers see a gap-free sequence.
func (f *Flow) NextSeq() uint64 {
	return atomic.AddUint64(&f.seq, 1)
}

// Finished reports whether the flow has been finalized.
func (f *Flow) Finished() bool {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.finished
}

// Summary returns the finalized summary, or nil before finish.
func (f *Flow) Summary() *Summary {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.summary
}

// ExecutionIDs returns the attached execution ids in attach order.
func (f *Flow) ExecutionIDs() []string {
	f.mux.Lock()
	defer f.mux.Unlock()
	ret := make([]string, len(f.executions))
	for i, execution := range f.executions {
		ret[i] = execution.ReqExecID
	}
	return ret
}

func (f *Flow) attach(execution *Execution) error {
	f.mux.Lock()
	defer f.mux.Unlock()
	if f.finished {
		return treq.Errorf(treq.CodeFlowFinished, "flow %q already finished", f.ID)
	}
	if execution.ReqExecID == "" {
		execution.ReqExecID = treq.NewExecID()
	}
	f.executions = append(f.executions, execution)
	f.byID[execution.ReqExecID] = execution
	return nil
}

func (f *Flow) finish() (*Summary, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	if f.finished {
		return f.summary, nil
	}
	summary := &Summary{Total: len(f.executions)}
	var earliest, latest int64
	for _, execution := range f.executions {
		switch execution.Status {
		case StatusSuccess:
			summary.Succeeded++
		default:
			summary.Failed++
		}
		if start := execution.Timing.StartedAt; start > 0 && (earliest == 0 || start < earliest) {
			earliest = start
		}
		if end := execution.Timing.EndedAt; end > latest {
			latest = end
		}
	}
	if latest > earliest {
		summary.DurationMs = latest - earliest
	}
	f.summary = summary
	f.finished = true
	return summary, nil
}
