// Package httpfile provides the default .http collaborators: a parser that
// extracts request descriptions from .http text and an engine that
// interpolates and dispatches a single request over HTTP.
package httpfile

import (
	"strings"

	"github.com/viant/treq/service"
)

// Parser extracts requests from .http text. Pure; no I/O.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser { return &Parser{} }

// Parse splits text into ###-separated blocks and extracts one request per
// block holding a request line. File-level @key = value assignments become
// request variables; # @name and // @name comments name the block.
func (p *Parser) Parse(text string) ([]*service.ParsedRequest, error) {
	lines := strings.Split(text, "\n")
	fileVars := map[string]interface{}{}
	var ret []*service.ParsedRequest

	var current *service.ParsedRequest
	var rawLines []string
	var pendingName string
	inBody := false

	flush := func() {
		if current == nil {
			return
		}
		current.Raw = strings.TrimRight(strings.Join(rawLines, "\n"), "\n")
		current.Body = strings.TrimRight(current.Body, "\n")
		if len(fileVars) > 0 {
			current.Variables = map[string]interface{}{}
			for key, value := range fileVars {
				current.Variables[key] = value
			}
		}
		ret = append(ret, current)
		current, rawLines, inBody = nil, nil, false
	}

	for at, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "###") {
			flush()
			if name := strings.TrimSpace(strings.TrimLeft(trimmed, "#")); name != "" {
				pendingName = name
			}
			continue
		}
		if current == nil {
			switch {
			case trimmed == "":
				continue
			case isNameDirective(trimmed):
				pendingName = nameOf(trimmed)
			case strings.HasPrefix(trimmed, "#"), strings.HasPrefix(trimmed, "//"):
				continue
			case strings.HasPrefix(trimmed, "@"):
				if key, value, ok := splitAssignment(trimmed[1:]); ok {
					fileVars[key] = value
				}
			default:
				if method, url, ok := splitRequestLine(trimmed); ok {
					current = &service.ParsedRequest{
						Method:  method,
						URL:     url,
						Name:    pendingName,
						Headers: map[string]string{},
						Line:    at,
					}
					pendingName = ""
					rawLines = append(rawLines, line)
				}
			}
			continue
		}

		rawLines = append(rawLines, line)
		if inBody {
			current.Body += line + "\n"
			continue
		}
		switch {
		case trimmed == "":
			inBody = true
		case isNameDirective(trimmed):
			current.Name = nameOf(trimmed)
		case strings.HasPrefix(trimmed, "#"), strings.HasPrefix(trimmed, "//"):
			// comment inside headers
		case strings.HasPrefix(trimmed, "<"):
			current.BodyFile = strings.TrimSpace(trimmed[1:])
		default:
			if name, value, ok := splitHeader(trimmed); ok {
				current.Headers[name] = value
			}
		}
	}
	flush()
	return ret, nil
}

var methods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "DELETE": true,
	"CONNECT": true, "OPTIONS": true, "TRACE": true, "PATCH": true,
}

func splitRequestLine(line string) (method, url string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || !methods[fields[0]] {
		return "", "", false
	}
	return fields[0], fields[1], true
}

func splitHeader(line string) (name, value string, ok bool) {
	index := strings.Index(line, ":")
	if index <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:index]), strings.TrimSpace(line[index+1:]), true
}

func splitAssignment(line string) (key, value string, ok bool) {
	index := strings.Index(line, "=")
	if index <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:index]), strings.TrimSpace(line[index+1:]), true
}

func isNameDirective(line string) bool {
	return strings.HasPrefix(line, "# @name ") || strings.HasPrefix(line, "// @name ")
}

func nameOf(line string) string {
	index := strings.Index(line, "@name ")
	return strings.TrimSpace(line[index+len("@name "):])
}
