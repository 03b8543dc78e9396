package treq

// Event types carried in envelopes. The engine contributes the
// parse/interpolate/compile/fetch pairs; the service contributes the rest.
const (
	EventParseStarted        = "parseStarted"
	EventParseFinished       = "parseFinished"
	EventInterpolateStarted  = "interpolateStarted"
	EventInterpolateFinished = "interpolateFinished"
	EventCompileStarted      = "compileStarted"
	EventCompileFinished     = "compileFinished"
	EventFetchStarted        = "fetchStarted"
	EventFetchFinished       = "fetchFinished"
	EventError               = "error"

	EventSessionUpdated    = "sessionUpdated"
	EventFlowStarted       = "flowStarted"
	EventFlowFinished      = "flowFinished"
	EventExecutionStarted  = "executionStarted"
	EventExecutionFinished = "executionFinished"
	EventScriptOutput      = "scriptOutput"
)

// Envelope is the outer event record delivered to subscribers. Seq is
// monotonic and unique per RunID; producer-supplied values are retained.
type Envelope struct {
	Type      string                 `json:"type"`
	Ts        int64                  `json:"ts"`
	RunID     string                 `json:"runId"`
	SessionID string                 `json:"sessionId,omitempty"`
	FlowID    string                 `json:"flowId,omitempty"`
	ReqExecID string                 `json:"reqExecId,omitempty"`
	Seq       uint64                 `json:"seq"`
	Payload   map[string]interface{} `json:"payload"`
}
