package sandbox

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strings"
)

// dangerousImports blocks packages that would let generated code escape the
// sandbox outright, mirroring runner.py's dangerous_modules blacklist.
var dangerousImports = map[string]bool{
	"os/exec":            true,
	"syscall":             true,
	"unsafe":              true,
	"plugin":               true,
	"debug/plugin":         true,
	"runtime/debug":        true,
}

// networkImports are additionally blocked when the request's network policy
// is block_all or restrict, mirroring runner.py's network_modules list.
var networkImports = map[string]bool{
	"net":          true,
	"net/http":     true,
	"net/rpc":      true,
	"net/smtp":     true,
	"net/textproto": true,
}

// dangerousCallPatterns is the regex pass over raw source that supplements
// the import scan, mirroring runner.py's dangerous_patterns list.
var dangerousCallPatterns = []*regexp.Regexp{
	regexp.MustCompile(`os\.RemoveAll\(`),
	regexp.MustCompile(`exec\.Command\(`),
	regexp.MustCompile(`syscall\.Exec\(`),
	regexp.MustCompile(`os\.Chmod\(`),
	regexp.MustCompile(`unsafe\.Pointer\(`),
	regexp.MustCompile(`reflect\.NewAt\(`),
}

// Violation describes one safety check failure found before execution.
type Violation struct {
	Kind    string // "import" | "call_pattern"
	Detail  string
}

// Scan performs the safe-import/dangerous-call pass over a generated
// function body before it's ever handed to a backend, per spec.md §4.4.
// An empty return means the code is clear to compile and run.
func Scan(code string, networkPolicy NetworkPolicy) ([]Violation, error) {
	var violations []Violation

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", wrapForParse(code), parser.ImportsOnly)
	if err != nil {
		return nil, fmt.Errorf("sandbox: code does not parse: %w", err)
	}

	blockNetwork := networkPolicy != NetworkOff

	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		if dangerousImports[path] {
			violations = append(violations, Violation{Kind: "import", Detail: path})
			continue
		}
		if blockNetwork && networkImports[path] {
			violations = append(violations, Violation{Kind: "import", Detail: path + " (network disabled)"})
		}
	}

	for _, pattern := range dangerousCallPatterns {
		if pattern.MatchString(code) {
			violations = append(violations, Violation{Kind: "call_pattern", Detail: pattern.String()})
		}
	}

	return violations, nil
}

func wrapForParse(code string) string {
	return "package p\n" + code
}

// astTouches reports whether code references name as an identifier anywhere,
// used by the harness builder to decide whether to import a stdlib package
// the generated body uses but didn't explicitly import (best-effort import,
// mirroring runner.py's extract_used_names/smart_import_missing pair).
func astTouches(code, name string) bool {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", wrapForParse(code), 0)
	if err != nil {
		return strings.Contains(code, name+".")
	}

	found := false
	ast.Inspect(file, func(n ast.Node) bool {
		if found {
			return false
		}
		if ident, ok := n.(*ast.Ident); ok && ident.Name == name {
			found = true
			return false
		}
		return true
	})
	return found
}
