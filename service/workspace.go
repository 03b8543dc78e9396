package service

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/viant/afs/option"
	"github.com/viant/afs/url"

	"github.com/viant/treq"
)

// FileInfo describes one workspace entry.
type FileInfo struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"modTime"`
}

// RequestSummary is a per-request digest of a parsed .http file.
type RequestSummary struct {
	Name   string `json:"name,omitempty"`
	Method string `json:"method"`
	URL    string `json:"url"`
	Index  int    `json:"index"`
	Line   int    `json:"line"`
}

// ListFiles returns the workspace .http files, relative to the root, sorted.
// Entries matching any ignore fragment are skipped.
func (s *Service) ListFiles(ctx context.Context, ignore []string) ([]*FileInfo, error) {
	root, err := filepath.Abs(s.config.Workspace)
	if err != nil {
		return nil, err
	}
	baseURL := url.Normalize("file://"+root, "file")
	objects, err := s.fs.List(ctx, baseURL, option.NewRecursive(true))
	if err != nil {
		return nil, treq.Errorf(treq.CodeInternalError, "workspace listing failed: %v", err)
	}
	ret := []*FileInfo{}
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".http") {
			continue
		}
		relative := strings.TrimPrefix(strings.TrimPrefix(object.URL(), baseURL), "/")
		if ignored(relative, ignore) {
			continue
		}
		ret = append(ret, &FileInfo{
			Path:    relative,
			Size:    object.Size(),
			ModTime: object.ModTime().UnixMilli(),
		})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Path < ret[j].Path })
	return ret, nil
}

// ListRequests parses the file at the workspace-relative path and returns
// one summary per request.
func (s *Service) ListRequests(ctx context.Context, path string) ([]*RequestSummary, error) {
	content, err := s.readWorkspaceFile(ctx, path)
	if err != nil {
		return nil, err
	}
	requests, err := s.parser.Parse(content)
	if err != nil {
		return nil, treq.Errorf(treq.CodeParseError, "%v", err)
	}
	ret := make([]*RequestSummary, 0, len(requests))
	for index, request := range requests {
		ret = append(ret, &RequestSummary{
			Name:   request.Name,
			Method: request.Method,
			URL:    request.URL,
			Index:  index,
			Line:   request.Line,
		})
	}
	return ret, nil
}

// readWorkspaceFile reads a path-gated workspace file as text.
func (s *Service) readWorkspaceFile(ctx context.Context, path string) (string, error) {
	resolved, err := s.resolvePath(path)
	if err != nil {
		return "", err
	}
	data, err := s.fs.DownloadWithURL(ctx, url.Normalize("file://"+resolved, "file"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", treq.Errorf(treq.CodeFileNotFound, "file %q not found", path)
		}
		return "", treq.Errorf(treq.CodeFileNotFound, "file %q not readable: %v", path, err)
	}
	return string(data), nil
}

func ignored(path string, ignore []string) bool {
	for _, fragment := range ignore {
		if fragment != "" && strings.Contains(path, fragment) {
			return true
		}
	}
	return false
}
