package service

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/viant/treq"
	"github.com/viant/treq/body"
	"github.com/viant/treq/flow"
	"github.com/viant/treq/session"
)

// Execute timeout bounds in milliseconds.
const (
	MinTimeoutMs = 100
	MaxTimeoutMs = 300000
)

// ExecuteRequest is the execute operation input. Exactly one of Content or
// Path must be set; RequestName and RequestIndex are mutually exclusive.
type ExecuteRequest struct {
	Content         string                 `json:"content,omitempty"`
	Path            string                 `json:"path,omitempty"`
	RequestName     string                 `json:"requestName,omitempty"`
	RequestIndex    *int                   `json:"requestIndex,omitempty"`
	SessionID       string                 `json:"sessionId,omitempty"`
	FlowID          string                 `json:"flowId,omitempty"`
	ReqLabel        string                 `json:"reqLabel,omitempty"`
	Variables       map[string]interface{} `json:"variables,omitempty"`
	TimeoutMs       int                    `json:"timeoutMs,omitempty"`
	BasePath        string                 `json:"basePath,omitempty"`
	FollowRedirects *bool                  `json:"followRedirects,omitempty"`
	ValidateSSL     *bool                  `json:"validateSSL,omitempty"`
}

// RequestIdentity names the request that was executed.
type RequestIdentity struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Name   string `json:"name,omitempty"`
	Index  int    `json:"index"`
}

// PathsBlock reports the resolved filesystem context.
type PathsBlock struct {
	WorkspaceRoot string `json:"workspaceRoot"`
	File          string `json:"file,omitempty"`
}

// ResponseDescriptor is the client-facing response record.
type ResponseDescriptor struct {
	Status    int                 `json:"status"`
	Headers   map[string][]string `json:"headers"`
	Body      string              `json:"body"`
	BodyMode  string              `json:"bodyMode"`
	BodyBytes int                 `json:"bodyBytes"`
	Encoding  string              `json:"encoding"`
	Truncated bool                `json:"truncated"`
}

// Limits echoes the caps applied to the execution.
type Limits struct {
	MaxBodyBytes int `json:"maxBodyBytes"`
}

// ExecuteResponse is the execute envelope.
type ExecuteResponse struct {
	RunID     string              `json:"runId"`
	ReqExecID string              `json:"reqExecId,omitempty"`
	FlowID    string              `json:"flowId,omitempty"`
	Session   *session.State      `json:"session,omitempty"`
	Request   RequestIdentity     `json:"request"`
	Paths     PathsBlock          `json:"paths"`
	Response  *ResponseDescriptor `json:"response,omitempty"`
	Limits    Limits              `json:"limits"`
	Timing    flow.Timing         `json:"timing"`
}

// trackingCookieStore wraps the session jar capability and records whether
// the jar changed during the execution.
type trackingCookieStore struct {
	jar     *session.Jar
	changed bool
}

func (t *trackingCookieStore) CookieHeader(rawURL string) string {
	return t.jar.CookieHeader(rawURL)
}

func (t *trackingCookieStore) SetFromResponse(rawURL string, header http.Header) bool {
	if t.jar.SetFromResponse(rawURL, header) {
		t.changed = true
		return true
	}
	return false
}

// Execute resolves, dispatches and records a single request per the
// orchestration contract: path gate, parse, selection, session serialization,
// engine dispatch, bounded body pipeline, event emission and flow attachment.
func (s *Service) Execute(ctx context.Context, request *ExecuteRequest) (*ExecuteResponse, error) {
	if err := validateExecuteRequest(request); err != nil {
		return nil, err
	}

	content := request.Content
	paths := PathsBlock{WorkspaceRoot: s.config.Workspace}
	if request.Path != "" {
		resolved, err := s.resolvePath(request.Path)
		if err != nil {
			return nil, err
		}
		paths.File = resolved
		if content, err = s.readWorkspaceFile(ctx, request.Path); err != nil {
			return nil, err
		}
	}
	basePath := s.config.Workspace
	if request.BasePath != "" {
		resolved, err := s.resolvePath(request.BasePath)
		if err != nil {
			return nil, err
		}
		basePath = resolved
	}
	_ = basePath

	requests, err := s.parser.Parse(content)
	if err != nil {
		return nil, treq.Errorf(treq.CodeParseError, "%v", err)
	}
	if len(requests) == 0 {
		return nil, treq.NewError(treq.CodeNoRequestsFound, "source contains no requests")
	}
	selected, index, err := selectRequest(requests, request.RequestName, request.RequestIndex)
	if err != nil {
		return nil, err
	}

	var aFlow *flow.Flow
	if request.FlowID != "" {
		if aFlow, err = s.flows.Get(request.FlowID); err != nil {
			return nil, err
		}
	}

	runID := treq.NewRunID()
	response := &ExecuteResponse{
		RunID:  runID,
		FlowID: request.FlowID,
		Request: RequestIdentity{
			Method: selected.Method,
			URL:    selected.URL,
			Name:   selected.Name,
			Index:  index,
		},
		Paths:  paths,
		Limits: Limits{MaxBodyBytes: s.config.MaxBodyBytes},
	}

	if request.SessionID == "" {
		err = s.dispatch(ctx, request, selected, aFlow, nil, runID, response)
		return finishExecute(response, err)
	}

	aSession, err := s.sessions.Get(request.SessionID)
	if err != nil {
		return nil, err
	}
	// steps 5-8 run under the session lock: no two executes in the same
	// session overlap, and variable updates cannot interleave
	lockErr := aSession.Run(ctx, func() error {
		err = s.dispatch(ctx, request, selected, aFlow, aSession, runID, response)
		return nil
	})
	if lockErr != nil {
		return nil, treq.Errorf(treq.CodeExecuteError, "session lock: %v", lockErr)
	}
	response.Session = aSession.State()
	return finishExecute(response, err)
}

func finishExecute(response *ExecuteResponse, err error) (*ExecuteResponse, error) {
	if err != nil {
		return nil, err
	}
	return response, nil
}

// dispatch runs the engine call, body pipeline, hook invocations and event
// emission. aSession may be nil for sessionless executes.
func (s *Service) dispatch(ctx context.Context, request *ExecuteRequest, selected *ParsedRequest,
	aFlow *flow.Flow, aSession *session.Session, runID string, response *ExecuteResponse) error {

	if request.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(request.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	reqExecID := ""
	if aFlow != nil {
		reqExecID = treq.NewExecID()
		response.ReqExecID = reqExecID
	}
	emit := s.emitter(runID, request.SessionID, aFlow, reqExecID)

	variables := map[string]interface{}{}
	if aSession != nil {
		variables = aSession.Variables()
	}
	for key, value := range selected.Variables {
		variables[key] = value
	}
	for key, value := range request.Variables {
		variables[key] = value
	}

	var cookies *trackingCookieStore
	if aSession != nil {
		cookies = &trackingCookieStore{jar: aSession.Jar()}
	}

	execution := &flow.Execution{
		ReqExecID: reqExecID,
		Label:     request.ReqLabel,
		Source: flow.Source{
			File:         request.Path,
			RequestName:  request.RequestName,
			RequestIndex: request.RequestIndex,
		},
		Method: selected.Method,
		URL:    selected.URL,
		Status: flow.StatusRunning,
		Timing: flow.Timing{StartedAt: time.Now().UnixMilli()},
	}
	if aFlow != nil {
		emit(map[string]interface{}{"type": treq.EventExecutionStarted, "method": selected.Method, "url": selected.URL})
	}

	hookCtx := &HookContext{Request: selected, Vars: variables}
	execution.Hooks = append(execution.Hooks, s.runHooks(ctx, HookSetup, hookCtx)...)
	execution.Hooks = append(execution.Hooks, s.runHooks(ctx, HookRequestBefore, hookCtx)...)

	options := &RunOptions{
		Variables:       variables,
		BasePath:        s.basePathFor(request),
		Timeout:         time.Duration(request.TimeoutMs) * time.Millisecond,
		FollowRedirects: request.FollowRedirects,
		ValidateSSL:     request.ValidateSSL,
		OnEvent:         emit,
	}
	if cookies != nil {
		options.CookieStore = cookies
	}

	engineResponse, err := s.engine.RunString(ctx, selected.Raw, options)
	if err != nil {
		execErr := &flow.ExecError{Stage: "execute", Message: err.Error()}
		s.completeExecution(execution, aFlow, emit, execErr)
		emit(map[string]interface{}{"type": treq.EventError, "stage": "execute", "message": err.Error()})
		return treq.Errorf(treq.CodeExecuteError, "%v", err).WithDetail("stage", "execute")
	}
	response.Request.Method = orDefault(engineResponse.Method, selected.Method)
	response.Request.URL = orDefault(engineResponse.URL, selected.URL)
	execution.Method = response.Request.Method
	execution.URL = response.Request.URL
	execution.Timing.TTFBMs = engineResponse.TTFBMs

	if engineResponse.Body == nil {
		engineResponse.Body = io.NopCloser(strings.NewReader(""))
	}
	bodyResult, err := body.Read(engineResponse.Body, s.config.MaxBodyBytes)
	closeErr := engineResponse.Body.Close()
	if err != nil {
		execErr := &flow.ExecError{Stage: "body", Message: err.Error()}
		s.completeExecution(execution, aFlow, emit, execErr)
		return treq.Errorf(treq.CodeExecuteError, "body read: %v", err).WithDetail("stage", "body")
	}
	if closeErr != nil {
		s.log.WithError(closeErr).Debug("response body close failed")
	}

	response.Response = &ResponseDescriptor{
		Status:    engineResponse.Status,
		Headers:   normalizeHeaders(engineResponse.Headers),
		Body:      bodyResult.Body,
		BodyMode:  bodyResult.BodyMode,
		BodyBytes: bodyResult.BodyBytes,
		Encoding:  bodyResult.Encoding,
		Truncated: bodyResult.Truncated,
	}

	hookCtx.Response = engineResponse
	execution.Hooks = append(execution.Hooks, s.runHooks(ctx, HookResponseAfter, hookCtx)...)
	execution.Hooks = append(execution.Hooks, s.runHooks(ctx, HookValidate, hookCtx)...)
	execution.Hooks = append(execution.Hooks, s.runHooks(ctx, HookTeardown, hookCtx)...)

	execution.Response = &flow.ResponseInfo{
		Status:    engineResponse.Status,
		Headers:   response.Response.Headers,
		BodyView:  preview(bodyResult.Body),
		Truncated: bodyResult.Truncated,
	}
	s.completeExecution(execution, aFlow, emit, nil)
	response.Timing = execution.Timing

	if aSession != nil && cookies != nil && cookies.changed {
		version := aSession.BumpSnapshot()
		s.sessions.Touch(aSession)
		emit(map[string]interface{}{
			"type":             treq.EventSessionUpdated,
			"sessionId":        aSession.ID,
			"snapshotVersion":  version,
			"variablesChanged": false,
			"cookiesChanged":   true,
		})
	} else if aSession != nil {
		s.sessions.Touch(aSession)
	}
	return nil
}

// completeExecution stamps timing and status, attaches to the flow and emits
// the finished event.
func (s *Service) completeExecution(execution *flow.Execution, aFlow *flow.Flow,
	emit func(map[string]interface{}), execErr *flow.ExecError) {
	execution.Timing.EndedAt = time.Now().UnixMilli()
	execution.Timing.DurationMs = execution.Timing.EndedAt - execution.Timing.StartedAt
	if execErr != nil {
		execution.Status = flow.StatusFailed
		execution.Error = execErr
	} else {
		execution.Status = flow.StatusSuccess
	}
	if aFlow == nil {
		return
	}
	if err := s.flows.Attach(aFlow.ID, execution); err != nil {
		s.log.WithError(err).WithField("flow_id", aFlow.ID).Warn("execution attach rejected")
		return
	}
	emit(map[string]interface{}{
		"type":       treq.EventExecutionFinished,
		"status":     execution.Status,
		"durationMs": execution.Timing.DurationMs,
	})
}

// emitter returns an event sink bound to the execution's correlation ids.
// Flow-scoped events are stamped with the flow's gap-free sequence.
func (s *Service) emitter(runID, sessionID string, aFlow *flow.Flow, reqExecID string) func(map[string]interface{}) {
	return func(fields map[string]interface{}) {
		if fields == nil {
			return
		}
		if aFlow != nil {
			fields["flowId"] = aFlow.ID
			if reqExecID != "" {
				fields["reqExecId"] = reqExecID
			}
			if _, ok := fields["seq"]; !ok {
				fields["seq"] = aFlow.NextSeq()
			}
		}
		s.bus.Emit(sessionID, runID, fields)
	}
}

func (s *Service) basePathFor(request *ExecuteRequest) string {
	if request.BasePath != "" {
		if resolved, err := s.resolvePath(request.BasePath); err == nil {
			return resolved
		}
	}
	return s.config.Workspace
}

func validateExecuteRequest(request *ExecuteRequest) error {
	hasContent := request.Content != ""
	hasPath := request.Path != ""
	if hasContent == hasPath {
		return treq.NewError(treq.CodeContentOrPathRequired, "exactly one of content or path is required")
	}
	if request.RequestName != "" && request.RequestIndex != nil {
		return treq.NewError(treq.CodeValidationError, "requestName and requestIndex are mutually exclusive")
	}
	if request.TimeoutMs != 0 && (request.TimeoutMs < MinTimeoutMs || request.TimeoutMs > MaxTimeoutMs) {
		return treq.Errorf(treq.CodeValidationError, "timeoutMs must be between %d and %d", MinTimeoutMs, MaxTimeoutMs)
	}
	return nil
}

// selectRequest resolves the target request by name, index or default 0.
func selectRequest(requests []*ParsedRequest, name string, index *int) (*ParsedRequest, int, error) {
	if name != "" {
		for at, request := range requests {
			if request.Name == name {
				return request, at, nil
			}
		}
		return nil, 0, treq.Errorf(treq.CodeRequestNotFound, "request %q not found", name)
	}
	at := 0
	if index != nil {
		at = *index
	}
	if at < 0 || at >= len(requests) {
		return nil, 0, treq.Errorf(treq.CodeRequestIndexOutOfRange,
			"request index %d out of range [0,%d)", at, len(requests))
	}
	return requests[at], at, nil
}

// normalizeHeaders lower-cases header names, preserving multi-valued
// set-cookie entries.
func normalizeHeaders(header http.Header) map[string][]string {
	ret := make(map[string][]string, len(header))
	for name, values := range header {
		ret[strings.ToLower(name)] = append(ret[strings.ToLower(name)], values...)
	}
	return ret
}

func preview(text string) string {
	const max = 512
	if len(text) > max {
		return text[:max]
	}
	return text
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
