package service

import (
	"path/filepath"
	"strings"

	"github.com/viant/treq"
)

// resolvePath joins relative against the workspace root and rejects anything
// that escapes it. Absolute inputs and symlink escapes are refused.
func (s *Service) resolvePath(relative string) (string, error) {
	if relative == "" {
		return "", treq.NewError(treq.CodeValidationError, "path is empty")
	}
	if filepath.IsAbs(relative) {
		return "", treq.Errorf(treq.CodePathOutsideWorkspace, "absolute path %q not permitted", relative)
	}
	root, err := filepath.EvalSymlinks(s.config.Workspace)
	if err != nil {
		root = filepath.Clean(s.config.Workspace)
	}
	joined := filepath.Join(root, relative)
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		// target may not exist yet; validate the lexical form instead
		resolved = filepath.Clean(joined)
	}
	if !withinRoot(root, resolved) {
		return "", treq.Errorf(treq.CodePathOutsideWorkspace, "path %q escapes the workspace", relative)
	}
	return resolved, nil
}

func withinRoot(root, candidate string) bool {
	if candidate == root {
		return true
	}
	return strings.HasPrefix(candidate, root+string(filepath.Separator))
}
