// Package parammap maps the parameters carried by a StandardizedInstruction
// onto the positional/keyword parameters a cached or generated function
// actually declares, so a cached module can be replayed against a new
// instruction whose parameter names don't match verbatim.
//
// Grounded on original_source/strategies/parameter_mapping_service.py's
// ParameterMappingService and its three concrete strategies.
package parammap

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// FuncParam describes one parameter of a candidate function signature.
type FuncParam struct {
	Name     string
	Default  interface{}
	HasDefault bool
}

// systemDefaults mirrors the Python service's system_defaults fallback.
var systemDefaults = map[string]interface{}{
	"max_results": 10,
	"min_items":   1,
	"timeout":     30,
	"limit":       10,
}

// Strategy maps available instruction parameters onto a function's declared
// parameter names. Strategies are tried in descending Priority order.
type Strategy interface {
	Priority() int
	Map(funcParams []FuncParam, available map[string]interface{}) map[string]interface{}
}

// Mapper resolves a function's call arguments from instruction parameters,
// falling back through domain strategies, then similarity, then defaults.
type Mapper struct {
	strategies []Strategy
}

// NewMapper builds a Mapper with the default strategy stack: search-style
// mapping, file-operation mapping, then generic similarity mapping.
func NewMapper() *Mapper {
	strategies := []Strategy{
		searchStrategy{},
		fileOperationStrategy{},
		generalStrategy{},
	}
	sort.Slice(strategies, func(i, j int) bool {
		return strategies[i].Priority() > strategies[j].Priority()
	})
	return &Mapper{strategies: strategies}
}

// Map resolves call arguments for funcParams from available instruction
// parameters, in the order: exact name match, strategy chain, then
// signature/system defaults.
func (m *Mapper) Map(funcParams []FuncParam, available map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(funcParams))
	unresolved := make([]FuncParam, 0, len(funcParams))

	for _, p := range funcParams {
		if v, ok := available[p.Name]; ok {
			result[p.Name] = v
			continue
		}
		unresolved = append(unresolved, p)
	}

	for _, strategy := range m.strategies {
		if len(unresolved) == 0 {
			break
		}
		mapped := strategy.Map(unresolved, available)

		remaining := unresolved[:0:0]
		for _, p := range unresolved {
			if v, ok := mapped[p.Name]; ok {
				result[p.Name] = v
				continue
			}
			remaining = append(remaining, p)
		}
		unresolved = remaining
	}

	for _, p := range unresolved {
		if p.HasDefault {
			result[p.Name] = p.Default
			continue
		}
		if v, ok := systemDefaults[p.Name]; ok {
			result[p.Name] = v
		}
	}

	return result
}

// searchStrategy maps query/limit-style parameters. Priority 100, mirroring
// SearchParameterMappingStrategy.
type searchStrategy struct{}

func (searchStrategy) Priority() int { return 100 }

var searchAliases = map[string][]string{
	"search_query": {"query", "keyword", "q"},
	"query":        {"search_query", "keyword"},
	"max_results":  {"limit", "max_count", "size"},
	"min_items":    {"quantity", "count", "min_count"},
}

func (searchStrategy) Map(funcParams []FuncParam, available map[string]interface{}) map[string]interface{} {
	return mapByAlias(funcParams, available, searchAliases)
}

// fileOperationStrategy maps path-style parameters. Priority 90, mirroring
// FileOperationMappingStrategy.
type fileOperationStrategy struct{}

func (fileOperationStrategy) Priority() int { return 90 }

var fileAliases = map[string][]string{
	"file_path":   {"path", "filename", "file"},
	"path":        {"file_path", "filename"},
	"output_path": {"output", "target_path", "destination"},
}

func (fileOperationStrategy) Map(funcParams []FuncParam, available map[string]interface{}) map[string]interface{} {
	return mapByAlias(funcParams, available, fileAliases)
}

func mapByAlias(funcParams []FuncParam, available map[string]interface{}, aliases map[string][]string) map[string]interface{} {
	out := make(map[string]interface{})
	for _, p := range funcParams {
		candidates, ok := aliases[p.Name]
		if !ok {
			continue
		}
		for _, alias := range candidates {
			if v, ok := available[alias]; ok {
				out[p.Name] = v
				break
			}
		}
	}
	return out
}

// generalStrategy is the fallback: greedy best-match by normalized name
// similarity. Priority 10, mirroring GeneralParameterMappingStrategy.
type generalStrategy struct{}

func (generalStrategy) Priority() int { return 10 }

const similarityThreshold = 0.3

func (generalStrategy) Map(funcParams []FuncParam, available map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	used := make(map[string]bool, len(available))

	for _, p := range funcParams {
		bestKey := ""
		bestScore := 0.0

		for key := range available {
			if used[key] {
				continue
			}
			score := nameSimilarity(p.Name, key)
			if score > bestScore {
				bestScore = score
				bestKey = key
			}
		}

		if bestKey != "" && bestScore >= similarityThreshold {
			out[p.Name] = available[bestKey]
			used[bestKey] = true
		}
	}

	return out
}

// nameSimilarity scores how closely two parameter names match: exact
// (normalized) match scores 1.0, a substring relationship scores 0.8,
// otherwise a normalized Levenshtein distance.
func nameSimilarity(a, b string) float64 {
	na, nb := normalize(a), normalize(b)
	if na == nb {
		return 1.0
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.8
	}

	distance := levenshtein.Distance(na, nb, nil)
	maxLen := len(na)
	if len(nb) > maxLen {
		maxLen = len(nb)
	}
	if maxLen == 0 {
		return 0
	}
	return 1.0 - float64(distance)/float64(maxLen)
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "-", "")
	return strings.TrimSpace(s)
}

// CallStrategy identifies one way to invoke a cached function when not all
// parameters can be resolved by name (spec.md §4.3's fallback chain).
type CallStrategy string

const (
	CallKeywordAll    CallStrategy = "keyword_all"
	CallKeywordSubset CallStrategy = "keyword_subset"
	CallPositional    CallStrategy = "positional"
	CallNoArg         CallStrategy = "no_arg"
)

// ResolveCallStrategy picks the strongest call strategy the resolved mapping
// supports: keyword_all when every parameter resolved, keyword_subset when
// every required (no-default) parameter and at least one parameter resolved,
// positional when some parameter resolved but a required one did not, and
// no_arg when nothing resolved or funcParams is empty.
func ResolveCallStrategy(funcParams []FuncParam, resolved map[string]interface{}) CallStrategy {
	allResolved := true
	anyResolved := len(resolved) > 0
	allRequiredResolved := true

	for _, p := range funcParams {
		_, ok := resolved[p.Name]
		if !ok {
			allResolved = false
			if !p.HasDefault {
				allRequiredResolved = false
			}
		}
	}

	switch {
	case len(funcParams) == 0:
		return CallNoArg
	case allResolved:
		return CallKeywordAll
	case allRequiredResolved && anyResolved:
		return CallKeywordSubset
	case anyResolved:
		return CallPositional
	default:
		return CallNoArg
	}
}
