package treq

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes surfaced on the wire. Every non-2xx response carries
// exactly one of these in its error envelope.
const (
	CodePathOutsideWorkspace   = "PATH_OUTSIDE_WORKSPACE"
	CodeSessionNotFound        = "SESSION_NOT_FOUND"
	CodeSessionLimitReached    = "SESSION_LIMIT_REACHED"
	CodeValidationError        = "VALIDATION_ERROR"
	CodeParseError             = "PARSE_ERROR"
	CodeExecuteError           = "EXECUTE_ERROR"
	CodeRequestNotFound        = "REQUEST_NOT_FOUND"
	CodeRequestIndexOutOfRange = "REQUEST_INDEX_OUT_OF_RANGE"
	CodeNoRequestsFound        = "NO_REQUESTS_FOUND"
	CodeContentOrPathRequired  = "CONTENT_OR_PATH_REQUIRED"
	CodeFlowNotFound           = "FLOW_NOT_FOUND"
	CodeFlowFinished           = "FLOW_FINISHED"
	CodeExecutionNotFound      = "EXECUTION_NOT_FOUND"
	CodeFileNotFound           = "FILE_NOT_FOUND"
	CodeWsSessionNotFound      = "WS_SESSION_NOT_FOUND"
	CodeWsSessionLimitReached  = "WS_SESSION_LIMIT_REACHED"
	CodeWsReplayGap            = "WS_REPLAY_GAP"
	CodeWsBinaryUnsupported    = "WS_BINARY_UNSUPPORTED"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeScopeViolation         = "SCOPE_VIOLATION"
	CodeInternalError          = "INTERNAL_ERROR"
)

// Error is a typed service error with a stable code.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetail attaches a key/value detail and returns the receiver.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

// NewError creates an Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an Error with a formatted message.
func Errorf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError coerces err into *Error, wrapping unknown errors as INTERNAL_ERROR
// with the cause message preserved.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ret *Error
	if errors.As(err, &ret) {
		return ret
	}
	return &Error{Code: CodeInternalError, Message: err.Error()}
}

// StatusOf maps a stable error code to an HTTP status.
func StatusOf(code string) int {
	switch code {
	case CodeSessionNotFound, CodeRequestNotFound, CodeFlowNotFound,
		CodeExecutionNotFound, CodeFileNotFound, CodeWsSessionNotFound:
		return http.StatusNotFound
	case CodePathOutsideWorkspace, CodeScopeViolation:
		return http.StatusForbidden
	case CodeSessionLimitReached, CodeWsSessionLimitReached:
		return http.StatusTooManyRequests
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeValidationError, CodeContentOrPathRequired, CodeRequestIndexOutOfRange,
		CodeNoRequestsFound, CodeParseError, CodeExecuteError, CodeFlowFinished,
		CodeWsReplayGap, CodeWsBinaryUnsupported:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
