// Package dataflow traces how a generated function's parameters actually
// flow through its body, gating which modules are eligible for caching
// (spec.md §4.5): a module that never meaningfully uses a declared
// parameter, or that bakes a parameter's value in as a literal, must not be
// cached under a key that implies it's parametric.
//
// Grounded on original_source/core/data_flow_analyzer.py's
// DataFlowAnalyzer(ast.NodeVisitor), rebuilt over go/ast since generated
// code here is Go, not Python.
package dataflow

import (
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strconv"
	"strings"
)

// Conflict records a parameter whose intended value is contradicted by a
// literal baked into the function body, e.g. a `location` parameter beside
// a hardcoded "latitude=37.7" query string.
type Conflict struct {
	Type           string
	Parameter      string
	HardcodedValue string
	Context        string
}

// Analysis is the result of tracing one function's parameters.
type Analysis struct {
	Params         []string
	MeaningfulUses map[string]bool
	Conflicts      []Conflict
}

// HasConflicts reports whether any hardcoded-value conflict was found.
func (a Analysis) HasConflicts() bool {
	return len(a.Conflicts) > 0
}

// UnusedParams returns declared parameters the function body never put to
// meaningful use.
func (a Analysis) UnusedParams() []string {
	var out []string
	for _, p := range a.Params {
		if !a.MeaningfulUses[p] {
			out = append(out, p)
		}
	}
	return out
}

// Cacheable applies a conservative version of spec.md §4.5's gate using only
// the function's own parameter list (no instruction context): no
// hardcoded-value conflict, and every declared parameter meaningfully used.
// Gate (below) is the full four-condition check the orchestrator actually
// runs before storing a module.
func (a Analysis) Cacheable() bool {
	return len(a.UnusedParams()) == 0 && !a.HasConflicts()
}

// GateInput carries the instruction-level context spec.md §4.5's gate needs
// beyond what a bare AST walk can see: how many parameters the instruction
// required, what action verb the code is supposed to perform, and the code
// itself (for the functionality-keyword alignment check).
type GateInput struct {
	RequiredParameterCount int
	Action                 string
	Code                   string
}

// Gate applies spec.md §4.5's full four-condition cacheability gate:
//  1. declared parameters cover >=60% of the instruction's required_parameters
//  2. no parameter conflicts were detected
//  3. at least 50% of the declared parameters are meaningfully used
//  4. functionality keywords in the body align with the action verb
func (a Analysis) Gate(in GateInput) (bool, string) {
	if in.RequiredParameterCount > 0 {
		coverage := float64(len(a.Params)) / float64(in.RequiredParameterCount)
		if coverage < 0.6 {
			return false, "declared parameters cover less than 60% of required_parameters"
		}
	}

	if a.HasConflicts() {
		return false, "hardcoded value conflicts with a declared parameter"
	}

	if len(a.Params) > 0 {
		used := 0
		for _, p := range a.Params {
			if a.MeaningfulUses[p] {
				used++
			}
		}
		if float64(used)/float64(len(a.Params)) < 0.5 {
			return false, "fewer than 50% of declared parameters are meaningfully used"
		}
	}

	if in.Code != "" && in.Action != "" && !FunctionalityAligns(in.Code, in.Action) {
		return false, "code body does not contain patterns expected of the instruction's action verb"
	}

	return true, ""
}

// actionKeywordGroups maps an action-verb family to the code patterns its
// body should contain, mirroring execution_manager.py's
// _validate_functionality_consistency keyword-alignment check.
var actionKeywordGroups = []struct {
	verbs    []string
	patterns []string
}{
	{[]string{"get", "fetch", "retrieve", "search", "query"}, []string{"http", "requests", "url", "get", "fetch"}},
	{[]string{"process", "analyze", "calculate", "transform"}, []string{"for", "if", "range", "process", "analyze"}},
	{[]string{"generate", "create", "make", "build", "write"}, []string{"generate", "create", "build", "write", "sprintf", "fmt"}},
}

// FunctionalityAligns reports whether code's body contains a pattern
// expected of action's verb family. Actions outside the known families
// always align (nothing to contradict).
func FunctionalityAligns(code, action string) bool {
	action = strings.ToLower(action)
	for _, group := range actionKeywordGroups {
		for _, verb := range group.verbs {
			if !strings.Contains(action, verb) {
				continue
			}
			lowerCode := strings.ToLower(code)
			for _, pattern := range group.patterns {
				if strings.Contains(lowerCode, pattern) {
					return true
				}
			}
			return false
		}
	}
	return true
}

var coordPattern = regexp.MustCompile(`(?:latitude|longitude)=([0-9.\-]+)`)

// apiKeyPattern flags a literal API key/token baked into a URL query string,
// spec.md §4.5's second conflict class alongside hardcoded coordinates.
var apiKeyPattern = regexp.MustCompile(`(?i)(?:api_key|apikey|access_token|token)=([A-Za-z0-9_\-]{8,})`)

// AnalyzeFunc parses a single Go function's source and traces how its
// parameters flow through the body. Every generated module here follows the
// uniform `func Run(params map[string]interface{}) (interface{}, error)`
// harness contract, so a Go-declared parameter list alone never reveals
// which instruction parameters the code actually uses; callers pass the
// instruction's required_parameters keys as instructionParams so AnalyzeFunc
// can additionally recognize `params["name"]` map-key access as a reference
// to "name". When instructionParams is empty, AnalyzeFunc falls back to
// tracing whatever named parameters the function itself declares.
func AnalyzeFunc(src string, instructionParams ...string) (Analysis, error) {
	fset := token.NewFileSet()
	expr, err := parser.ParseFile(fset, "", "package p\n"+src, 0)
	if err != nil {
		return Analysis{}, err
	}

	var analysis Analysis

	ast.Inspect(expr, func(n ast.Node) bool {
		fn, ok := n.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			return true
		}

		v := newVisitor(fn, instructionParams)
		ast.Walk(v, fn.Body)
		analysis = v.result()
		return false
	})

	return analysis, nil
}

type visitor struct {
	params         map[string]bool
	orderedParams  []string
	assignments    map[string][]string
	meaningfulUses map[string]bool
	conflicts      []Conflict
	mapParamVar    string // the identifier name of the params map argument, if any
}

func newVisitor(fn *ast.FuncDecl, instructionParams []string) *visitor {
	v := &visitor{
		params:         make(map[string]bool),
		assignments:    make(map[string][]string),
		meaningfulUses: make(map[string]bool),
	}

	if len(instructionParams) > 0 {
		for _, name := range instructionParams {
			v.params[name] = true
			v.orderedParams = append(v.orderedParams, name)
		}
		if fn.Type.Params != nil && len(fn.Type.Params.List) > 0 {
			if len(fn.Type.Params.List[0].Names) > 0 {
				v.mapParamVar = fn.Type.Params.List[0].Names[0].Name
			}
		}
		return v
	}

	if fn.Type.Params != nil {
		for _, field := range fn.Type.Params.List {
			for _, name := range field.Names {
				v.params[name.Name] = true
				v.orderedParams = append(v.orderedParams, name.Name)
			}
		}
	}
	return v
}

func (v *visitor) result() Analysis {
	return Analysis{
		Params:         v.orderedParams,
		MeaningfulUses: v.meaningfulUses,
		Conflicts:      v.conflicts,
	}
}

// Visit implements ast.Visitor, dispatching the node kinds the original
// Python analyzer cared about: assignment, call, binary/compare expression,
// and index expression.
func (v *visitor) Visit(n ast.Node) ast.Visitor {
	switch node := n.(type) {
	case *ast.AssignStmt:
		v.visitAssign(node)
	case *ast.CallExpr:
		v.visitCall(node)
	case *ast.BinaryExpr:
		v.markVarsMeaningful(v.extractVars(node), "binary_expression")
	case *ast.IndexExpr:
		vars := append(v.extractVars(node.X), v.extractVars(node.Index)...)
		v.markVarsMeaningful(vars, "index_expression")
	}
	return v
}

func (v *visitor) visitAssign(node *ast.AssignStmt) {
	for i, lhs := range node.Lhs {
		ident, ok := lhs.(*ast.Ident)
		if !ok || i >= len(node.Rhs) {
			continue
		}

		sourceVars := v.extractVars(node.Rhs[i])
		v.assignments[ident.Name] = sourceVars

		for _, sv := range sourceVars {
			if v.params[sv] {
				v.markMeaningful(sv, "assignment_to_"+ident.Name)
			}
		}
	}
}

// visitCall detects the Go idiom for the Python original's
// `requests.get(url)` hardcoded-coordinate check: an http.Get (or similar)
// call whose URL argument was built with fmt.Sprintf and bakes in a
// latitude/longitude literal that contradicts a declared `location` param.
func (v *visitor) visitCall(node *ast.CallExpr) {
	sel, ok := node.Fun.(*ast.SelectorExpr)
	if !ok {
		return
	}
	if sel.Sel.Name != "Get" && sel.Sel.Name != "Post" {
		return
	}
	if len(node.Args) == 0 {
		return
	}

	v.analyzeURLArg(node.Args[0])
}

func (v *visitor) analyzeURLArg(arg ast.Expr) {
	call, ok := arg.(*ast.CallExpr)
	if !ok {
		return
	}
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "Sprintf" {
		return
	}

	var hardcoded []string
	var apiKeys []string
	for _, a := range call.Args {
		lit, ok := a.(*ast.BasicLit)
		if !ok || lit.Kind != token.STRING {
			continue
		}
		for _, m := range coordPattern.FindAllStringSubmatch(lit.Value, -1) {
			hardcoded = append(hardcoded, m[1])
		}
		for _, m := range apiKeyPattern.FindAllStringSubmatch(lit.Value, -1) {
			apiKeys = append(apiKeys, m[1])
		}
	}

	if len(hardcoded) > 0 && v.params["location"] {
		v.conflicts = append(v.conflicts, Conflict{
			Type:           "hardcoded_coordinates",
			Parameter:      "location",
			HardcodedValue: hardcoded[0],
			Context:        "api_url",
		})
	}
	if len(apiKeys) > 0 {
		v.conflicts = append(v.conflicts, Conflict{
			Type:           "hardcoded_api_key",
			Parameter:      "api_key",
			HardcodedValue: apiKeys[0],
			Context:        "api_url",
		})
	}
}

func (v *visitor) markVarsMeaningful(vars []string, context string) {
	for _, name := range vars {
		if v.params[name] {
			v.markMeaningful(name, context)
		} else if _, ok := v.assignments[name]; ok {
			v.traceIndirect(name, context, map[string]bool{})
		}
	}
}

func (v *visitor) traceIndirect(name, context string, visited map[string]bool) {
	if visited[name] {
		return
	}
	visited[name] = true

	sources, ok := v.assignments[name]
	if !ok {
		return
	}
	for _, src := range sources {
		if v.params[src] {
			v.markMeaningful(src, "indirect_via_"+name+"_in_"+context)
		} else if _, ok := v.assignments[src]; ok {
			v.traceIndirect(src, "indirect_via_"+name+"_in_"+context, visited)
		}
	}
}

func (v *visitor) markMeaningful(name, context string) {
	v.meaningfulUses[name] = true
	_ = context // retained for parity with the original's per-use audit trail
}

// extractVars collects every identifier referenced within expr, mirroring
// the original's _extract_variables_from_node. A `params["name"]` map-key
// access against this function's map-param argument is treated as a
// reference to "name" instead of to "params", since the harness contract
// means instruction parameters never appear as named Go identifiers.
func (v *visitor) extractVars(expr ast.Expr) []string {
	var out []string
	ast.Inspect(expr, func(n ast.Node) bool {
		if idx, ok := n.(*ast.IndexExpr); ok && v.mapParamVar != "" {
			if ident, ok := idx.X.(*ast.Ident); ok && ident.Name == v.mapParamVar {
				if lit, ok := idx.Index.(*ast.BasicLit); ok && lit.Kind == token.STRING {
					if name, err := strconv.Unquote(lit.Value); err == nil {
						out = append(out, name)
						return false
					}
				}
			}
		}
		if ident, ok := n.(*ast.Ident); ok {
			out = append(out, ident.Name)
		}
		return true
	})
	return out
}
