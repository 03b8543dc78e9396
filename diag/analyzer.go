package diag

import (
	"fmt"
	"strings"
)

var validMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "DELETE": true,
	"CONNECT": true, "OPTIONS": true, "TRACE": true, "PATCH": true,
}

// methodTypos maps common method misspellings to suggestions.
var methodTypos = map[string]string{
	"GETT":    "GET",
	"POSTT":   "POST",
	"PUTT":    "PUT",
	"DELET":   "DELETE",
	"DELETEE": "DELETE",
	"PATH":    "PATCH",
	"OPTION":  "OPTIONS",
}

// Analyze runs all static checks over text and returns findings sorted by
// (line, column).
func Analyze(text string) []Diagnostic {
	var ret []Diagnostic
	ret = append(ret, checkVariables(text)...)
	ret = append(ret, checkBlocks(text)...)
	sortDiagnostics(ret)
	return ret
}

// checkVariables flags {{ without a matching }} before the next {{ or EOF,
// and empty {{ }} placeholders.
func checkVariables(text string) []Diagnostic {
	var ret []Diagnostic
	starts := lineOffsets(text)
	offset := 0
	for {
		open := strings.Index(text[offset:], "{{")
		if open < 0 {
			break
		}
		open += offset
		rest := text[open+2:]
		closing := strings.Index(rest, "}}")
		nextOpen := strings.Index(rest, "{{")
		if closing < 0 || (nextOpen >= 0 && nextOpen < closing) {
			ret = append(ret, Diagnostic{
				Severity: SeverityError,
				Code:     CodeUnclosedVariable,
				Message:  "variable placeholder is not closed",
				Range:    Range{Start: position(starts, open), End: position(starts, open+2)},
			})
			offset = open + 2
			continue
		}
		inner := rest[:closing]
		if strings.TrimSpace(inner) == "" {
			end := open + 2 + closing + 2
			ret = append(ret, Diagnostic{
				Severity: SeverityWarning,
				Code:     CodeEmptyVariable,
				Message:  "variable placeholder is empty",
				Range:    Range{Start: position(starts, open), End: position(starts, end)},
			})
		}
		offset = open + 2 + closing + 2
	}
	return ret
}

// checkBlocks walks request blocks (separated by lines starting with "###")
// validating the request line and its headers.
func checkBlocks(text string) []Diagnostic {
	var ret []Diagnostic
	lines := strings.Split(text, "\n")

	const (
		beforeRequest = iota
		inHeaders
		inBody
	)
	state := beforeRequest
	seen := map[string]int{}

	reset := func() {
		state = beforeRequest
		seen = map[string]int{}
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "###") {
			reset()
			continue
		}
		if trimmed == "" {
			if state == inHeaders {
				state = inBody
			}
			continue
		}
		if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//") {
			continue
		}

		switch state {
		case beforeRequest:
			token := firstToken(trimmed)
			col := strings.Index(line, token)
			switch {
			case validMethods[token]:
				if len(strings.Fields(trimmed)) == 1 {
					ret = append(ret, Diagnostic{
						Severity: SeverityError,
						Code:     CodeMissingURL,
						Message:  fmt.Sprintf("%s request is missing a URL", token),
						Range:    lineRange(i, col, col+len(token)),
					})
				}
				state = inHeaders
			case looksLikeMethod(token):
				message := fmt.Sprintf("unknown method %q", token)
				if suggestion, ok := methodTypos[token]; ok {
					message = fmt.Sprintf("unknown method %q, did you mean %q", token, suggestion)
				}
				ret = append(ret, Diagnostic{
					Severity: SeverityWarning,
					Code:     CodeInvalidMethod,
					Message:  message,
					Range:    lineRange(i, col, col+len(token)),
				})
				state = inHeaders
			}
		case inHeaders:
			if isBodyStart(trimmed) {
				state = inBody
				continue
			}
			colon := strings.Index(trimmed, ":")
			if colon <= 0 {
				ret = append(ret, Diagnostic{
					Severity: SeverityError,
					Code:     CodeMalformedHeader,
					Message:  "header line is missing ':'",
					Range:    lineRange(i, 0, len(line)),
				})
				continue
			}
			name := strings.ToLower(strings.TrimSpace(trimmed[:colon]))
			if prior, ok := seen[name]; ok {
				ret = append(ret, Diagnostic{
					Severity: SeverityWarning,
					Code:     CodeDuplicateHeader,
					Message:  fmt.Sprintf("header %q already set on line %d", name, prior),
					Range:    lineRange(i, 0, colon),
				})
			} else {
				seen[name] = i
			}
		case inBody:
			// body content is opaque
		}
	}
	return ret
}

func firstToken(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// looksLikeMethod reports whether token resembles an HTTP method: short and
// entirely uppercase letters.
func looksLikeMethod(token string) bool {
	if len(token) < 2 || len(token) > 10 {
		return false
	}
	for _, r := range token {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// isBodyStart treats JSON/array/XML openers as body content, not headers.
func isBodyStart(line string) bool {
	switch line[0] {
	case '{', '[', '<':
		return true
	}
	return false
}

func lineOffsets(text string) []int {
	offsets := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}

func position(starts []int, offset int) Position {
	line := 0
	for line+1 < len(starts) && starts[line+1] <= offset {
		line++
	}
	return Position{Line: line, Column: offset - starts[line]}
}

func lineRange(line, from, to int) Range {
	return Range{Start: Position{Line: line, Column: from}, End: Position{Line: line, Column: to}}
}
