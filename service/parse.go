package service

import (
	"context"

	"github.com/viant/treq"
	"github.com/viant/treq/diag"
)

// ParseRequest carries .http source either inline or by workspace path.
type ParseRequest struct {
	Content            string `json:"content,omitempty"`
	Path               string `json:"path,omitempty"`
	IncludeDiagnostics bool   `json:"includeDiagnostics,omitempty"`
}

// ParseResponse is the parse operation output.
type ParseResponse struct {
	Requests    []*ParsedRequest  `json:"requests"`
	Diagnostics []diag.Diagnostic `json:"diagnostics,omitempty"`
}

// Parse extracts request descriptions and, on request, static diagnostics.
func (s *Service) Parse(ctx context.Context, request *ParseRequest) (*ParseResponse, error) {
	hasContent := request.Content != ""
	hasPath := request.Path != ""
	if hasContent == hasPath {
		return nil, treq.NewError(treq.CodeContentOrPathRequired, "exactly one of content or path is required")
	}
	content := request.Content
	if hasPath {
		var err error
		if content, err = s.readWorkspaceFile(ctx, request.Path); err != nil {
			return nil, err
		}
	}
	requests, err := s.parser.Parse(content)
	if err != nil {
		return nil, treq.Errorf(treq.CodeParseError, "%v", err)
	}
	ret := &ParseResponse{Requests: requests}
	if request.IncludeDiagnostics {
		ret.Diagnostics = diag.Analyze(content)
	}
	return ret, nil
}

// Diagnostics runs the static analyzer over raw content.
func (s *Service) Diagnostics(content string) []diag.Diagnostic {
	return diag.Analyze(content)
}
