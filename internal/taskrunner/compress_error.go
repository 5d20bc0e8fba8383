package taskrunner

import (
	"fmt"
	"regexp"
	"strings"
)

// CompressedError is a compact, structured summary of one failed execution
// attempt, short enough to inject into the next generation prompt without
// spending the whole token budget restating a stack trace.
//
// Grounded on original_source/core/enhanced_error_analyzer.py's
// EnhancedErrorAnalyzer.analyze_error/_compress_error_info, rebuilt against
// the error vocabulary this engine's sandbox actually produces (Go compiler
// diagnostics and recovered panics) instead of Python's exception classes.
type CompressedError struct {
	ErrorType  string
	Line       int
	Message    string
	Suggestion string
}

var errorPatterns = []struct {
	re         *regexp.Regexp
	errorType  string
	suggestion string
}{
	{regexp.MustCompile(`undefined: (\w+)`), "undefined_identifier", "declare or import the missing identifier before using it"},
	{regexp.MustCompile(`cannot use .+ as .+ value`), "type_mismatch", "convert the value to the parameter's declared type"},
	{regexp.MustCompile(`imported and not used`), "unused_import", "remove the unused import or use the package it provides"},
	{regexp.MustCompile(`declared and not used`), "unused_variable", "remove the unused variable or use its value"},
	{regexp.MustCompile(`index out of range`), "index_error", "check slice/array bounds before indexing"},
	{regexp.MustCompile(`nil pointer dereference`), "nil_pointer", "check the value for nil before dereferencing it"},
	{regexp.MustCompile(`invalid memory address`), "nil_pointer", "check the value for nil before dereferencing it"},
	{regexp.MustCompile(`no such file or directory`), "file_error", "verify the file path exists before opening it"},
	{regexp.MustCompile(`expected .*, found`), "syntax_error", "fix the syntax error at the reported position"},
	{regexp.MustCompile(`syntax error`), "syntax_error", "fix the syntax error at the reported position"},
	{regexp.MustCompile(`divide by zero`), "divide_by_zero", "guard the divisor against a zero value"},
}

var lineRe = regexp.MustCompile(`:(\d+):\d+:`)

// CompressError extracts the error class, offending line, and a fix
// suggestion from a sandbox failure message, the Go-error analogue of
// analyze_error's pattern cascade.
func CompressError(errMsg string) CompressedError {
	out := CompressedError{ErrorType: "unknown", Message: truncate(errMsg, 160)}

	for _, p := range errorPatterns {
		if p.re.MatchString(errMsg) {
			out.ErrorType = p.errorType
			out.Suggestion = p.suggestion
			break
		}
	}
	if out.Suggestion == "" {
		out.Suggestion = "review the reported error and adjust the generated code"
	}

	if m := lineRe.FindStringSubmatch(errMsg); m != nil {
		fmt.Sscanf(m[1], "%d", &out.Line)
	}

	return out
}

// Compact renders the compressed form injected into the next attempt's
// user prompt, mirroring _compress_error_info's "type:.. | line:.. |
// message:.. | suggestion:.." layout.
func (c CompressedError) Compact() string {
	var parts []string
	if c.ErrorType != "unknown" {
		parts = append(parts, "type:"+c.ErrorType)
	}
	if c.Line > 0 {
		parts = append(parts, fmt.Sprintf("line:%d", c.Line))
	}
	if c.Message != "" {
		parts = append(parts, "message:"+c.Message)
	}
	if c.Suggestion != "" {
		parts = append(parts, "suggestion:"+c.Suggestion)
	}
	return strings.Join(parts, " | ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
