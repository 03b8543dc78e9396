package service

import (
	"context"

	"github.com/viant/treq"
)

// HasImporter reports whether an importer collaborator is configured.
func (s *Service) HasImporter() bool { return s.importer != nil }

// ImportPreview converts a foreign collection without touching the workspace.
func (s *Service) ImportPreview(ctx context.Context, format string, payload []byte) (*ImportResult, error) {
	if s.importer == nil {
		return nil, treq.NewError(treq.CodeValidationError, "no importer configured")
	}
	return s.importer.Preview(ctx, format, payload)
}

// ImportApply converts and writes the result. With force=false, error-level
// issues abort the apply.
func (s *Service) ImportApply(ctx context.Context, format string, payload []byte, force bool) (*ImportResult, error) {
	if s.importer == nil {
		return nil, treq.NewError(treq.CodeValidationError, "no importer configured")
	}
	return s.importer.Apply(ctx, format, payload, force)
}

// HasErrors reports whether any issue is error-severity.
func (r *ImportResult) HasErrors() bool {
	for _, issue := range r.Issues {
		if issue.Severity == "error" {
			return true
		}
	}
	return false
}

// Partial reports whether the result carries non-error issues.
func (r *ImportResult) Partial() bool {
	return len(r.Issues) > 0 && !r.HasErrors()
}
