package service

import (
	"context"
	"io"
	"net/http"
	"time"
)

// ParsedRequest is one request description extracted from .http text.
type ParsedRequest struct {
	Method     string                 `json:"method"`
	URL        string                 `json:"url"`
	Name       string                 `json:"name,omitempty"`
	Headers    map[string]string      `json:"headers,omitempty"`
	Body       string                 `json:"body,omitempty"`
	FormData   map[string]string      `json:"formData,omitempty"`
	BodyFile   string                 `json:"bodyFile,omitempty"`
	Meta       map[string]string      `json:"meta,omitempty"`
	Directives map[string]string      `json:"directives,omitempty"`
	Variables  map[string]interface{} `json:"variables,omitempty"`
	Raw        string                 `json:"raw,omitempty"`
	Line       int                    `json:"line"`
}

// Parser extracts request descriptions from raw .http text. Pure; no I/O.
type Parser interface {
	Parse(text string) ([]*ParsedRequest, error)
}

// CookieStore is the capability handed to the engine: it never sees the jar,
// only a Cookie header lookup and Set-Cookie ingestion.
type CookieStore interface {
	CookieHeader(rawURL string) string
	SetFromResponse(rawURL string, header http.Header) bool
}

// RunOptions tunes a single engine dispatch.
type RunOptions struct {
	Variables       map[string]interface{}
	BasePath        string
	Timeout         time.Duration
	FollowRedirects *bool
	ValidateSSL     *bool
	Proxy           string
	CookieStore     CookieStore
	// OnEvent receives engine lifecycle events; fields carry a "type" key.
	OnEvent func(fields map[string]interface{})
}

// EngineResponse is the raw dispatch result; Body is consumed by the bounded
// body pipeline, never read in full by the engine.
type EngineResponse struct {
	Status  int
	Headers http.Header
	Body    io.ReadCloser
	URL     string
	Method  string
	TTFBMs  int64
}

// Engine interpolates and dispatches a single raw request.
type Engine interface {
	RunString(ctx context.Context, raw string, options *RunOptions) (*EngineResponse, error)
}

// ImportIssue is one importer finding.
type ImportIssue struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Path     string `json:"path,omitempty"`
}

// ImportResult is an importer preview or apply outcome.
type ImportResult struct {
	Content string        `json:"content,omitempty"`
	Files   []string      `json:"files,omitempty"`
	Issues  []ImportIssue `json:"issues,omitempty"`
}

// Importer converts a foreign request-collection format into .http content.
type Importer interface {
	Preview(ctx context.Context, format string, payload []byte) (*ImportResult, error)
	Apply(ctx context.Context, format string, payload []byte, force bool) (*ImportResult, error)
}

// HookPoint names a plugin attachment point.
type HookPoint string

const (
	HookRequestBefore HookPoint = "request.before"
	HookResponseAfter HookPoint = "response.after"
	HookValidate      HookPoint = "validate"
	HookSetup         HookPoint = "setup"
	HookTeardown      HookPoint = "teardown"
)

// HookContext is the mutable view a hook receives.
type HookContext struct {
	Request  *ParsedRequest
	Response *EngineResponse
	Vars     map[string]interface{}
}

// Hook is a plugin callback; a non-nil error or panic is recorded on the
// execution without failing it.
type Hook interface {
	Name() string
	Point() HookPoint
	Invoke(ctx context.Context, hookCtx *HookContext) error
}
