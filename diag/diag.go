// Package diag performs static checks over raw .http text without invoking
// the parser. Findings carry stable codes and half-open [start,end) ranges
// with 0-based line/column positions.
package diag

import "sort"

// Severity grades a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic codes form a closed set.
const (
	CodeUnclosedVariable = "unclosed-variable"
	CodeEmptyVariable    = "empty-variable"
	CodeMissingURL       = "missing-url"
	CodeInvalidMethod    = "invalid-method"
	CodeDuplicateHeader  = "duplicate-header"
	CodeMalformedHeader  = "malformed-header"
)

// Position is a 0-based line/column pair.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range is half-open: [Start, End).
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Diagnostic is a single static finding.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Range    Range    `json:"range"`
}

// ForBlock returns the findings whose start line falls within
// [startLine, endLine].
func ForBlock(diagnostics []Diagnostic, startLine, endLine int) []Diagnostic {
	var ret []Diagnostic
	for _, d := range diagnostics {
		if d.Range.Start.Line >= startLine && d.Range.Start.Line <= endLine {
			ret = append(ret, d)
		}
	}
	return ret
}

func sortDiagnostics(diagnostics []Diagnostic) {
	sort.SliceStable(diagnostics, func(i, j int) bool {
		a, b := diagnostics[i].Range.Start, diagnostics[j].Range.Start
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
}
