package instruction

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"aiforge/internal/models"
)

// paramExtractor is one regex-driven extraction rule, mirroring
// original_source/instruction/analyzer.py's param_patterns table.
type paramExtractor struct {
	Patterns    []*regexp.Regexp
	Type        string
	Description string
}

var paramExtractors = map[string]paramExtractor{
	"query": {
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`"([^"]+)"`),
			regexp.MustCompile(`search(?:es)? for (.+?)(?:,|\.|$)`),
			regexp.MustCompile(`find (.+?)(?:,|\.|$)`),
		},
		Type: "str", Description: "search query content",
	},
	"required_count": {
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(\d+)\s*(?:items|entries|results|articles)`),
			regexp.MustCompile(`at most (\d+)`),
			regexp.MustCompile(`top (\d+)`),
			regexp.MustCompile(`at least (\d+)`),
			regexp.MustCompile(`process (\d+)`),
			regexp.MustCompile(`generate (\d+)`),
			regexp.MustCompile(`fetch (\d+)`),
		},
		Type: "int", Description: "maximum result count",
	},
	"file_path": {
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`([^\s]+\.[a-zA-Z0-9]+)`),
			regexp.MustCompile(`file (.+?)(?:,|\.|$)`),
		},
		Type: "str", Description: "file path",
	},
	"url": {
		Patterns: []*regexp.Regexp{regexp.MustCompile(`(https?://[^\s]+)`)},
		Type:     "str", Description: "URL address",
	},
	"content": {
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`content:\s*(.+?)(?:,|\.|$)`),
			regexp.MustCompile(`text:\s*(.+?)(?:,|\.|$)`),
		},
		Type: "str", Description: "content to process",
	},
	"style": {
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`style:\s*(.+?)(?:,|\.|$)`),
			regexp.MustCompile(`format:\s*(.+?)(?:,|\.|$)`),
		},
		Type: "str", Description: "output style",
	},
}

var actionKeywords = map[string][]string{
	"search":    {"search", "find"},
	"fetch":     {"fetch", "get", "retrieve"},
	"analyze":   {"analyze", "calculate"},
	"process":   {"process", "transform"},
	"generate":  {"generate", "create"},
	"save":      {"save", "write"},
	"respond":   {"respond", "explain"},
	"answer":    {"answer", "reply"},
	"translate": {"translate", "convert"},
	"summarize": {"summarize", "recap"},
	"suggest":   {"suggest", "recommend"},
}

var formatKeywords = map[string][]string{
	"json":     {"json", "dict"},
	"list":     {"list", "array"},
	"table":    {"table", "csv"},
	"text":     {"text", "string"},
	"markdown": {"markdown", "md"},
	"file":     {"file"},
	"report":   {"report"},
}

// LocalAnalyze runs the zero-dependency keyword-scoring analysis described
// in spec.md §4.1, equivalent to local_analyze_instruction in
// original_source/instruction/analyzer.py.
func LocalAnalyze(raw string) models.StandardizedInstruction {
	lower := strings.ToLower(raw)

	bestType := models.TaskType("")
	bestScore := 0
	scored := false

	for taskType, p := range patterns {
		excluded := false
		for _, kw := range p.ExcludeKeywords {
			if strings.Contains(lower, kw) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}

		score := 0
		for _, kw := range p.Keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestType = taskType
			scored = true
		}
	}

	if !scored {
		return defaultAnalysis(raw)
	}

	p := patterns[bestType]
	confidence := float64(bestScore) / float64(len(p.Keywords)) * 2
	if confidence > 1.0 {
		confidence = 1.0
	}

	params := extractParameters(raw, p.CommonParams)
	action := inferAction(lower, p.Actions)
	outputFormat := inferOutputFormat(lower, p.OutputFormats, bestType)

	return models.StandardizedInstruction{
		Original:           raw,
		TaskType:           bestType,
		Action:             action,
		Target:             truncate(raw, 100),
		RequiredParameters: params,
		ExpectedOutput:     DefaultExpectedOutput(bestType, params),
		ExecutionMode:      executionModeFor(bestType),
		Confidence:         confidence,
		CacheKey:           semanticCacheKey(bestType, raw, params),
		Source:             models.SourceLocalAnalysis,
		CreatedAt:          time.Now(),
	}
}

func defaultAnalysis(raw string) models.StandardizedInstruction {
	return models.StandardizedInstruction{
		Original:           raw,
		TaskType:           models.TaskTypeGeneral,
		Action:             "process",
		Target:             truncate(raw, 100),
		RequiredParameters: map[string]models.Parameter{},
		ExpectedOutput:     DefaultExpectedOutput(models.TaskTypeGeneral, nil),
		ExecutionMode:      models.ExecutionModeCodeGeneration,
		Confidence:         0.3,
		CacheKey:           fmt.Sprintf("general_%d", stableHash(raw)%10000),
		Source:             models.SourceDefault,
		CreatedAt:          time.Now(),
	}
}

func executionModeFor(t models.TaskType) models.ExecutionMode {
	if t == models.TaskTypeDirectResponse {
		return models.ExecutionModeDirectAIResponse
	}
	return models.ExecutionModeCodeGeneration
}

func extractParameters(raw string, commonParams []string) map[string]models.Parameter {
	out := make(map[string]models.Parameter)

	for _, name := range commonParams {
		extractor, ok := paramExtractors[name]
		if !ok {
			continue
		}

		for _, re := range extractor.Patterns {
			match := re.FindStringSubmatch(raw)
			if match == nil {
				continue
			}

			value := strings.TrimSpace(match[1])
			var parsed interface{} = value
			if extractor.Type == "int" {
				n, err := strconv.Atoi(value)
				if err != nil {
					continue
				}
				parsed = n
			}

			out[name] = models.Parameter{
				Value:       parsed,
				Type:        extractor.Type,
				Description: extractor.Description,
				Required:    true,
			}
			break
		}
	}

	return out
}

func inferAction(lower string, possible []string) string {
	for _, action := range possible {
		keywords, ok := actionKeywords[action]
		if !ok {
			continue
		}
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return action
			}
		}
	}
	if len(possible) > 0 {
		return possible[0]
	}
	return "process"
}

func inferOutputFormat(lower string, possible []string, taskType models.TaskType) string {
	for _, format := range possible {
		keywords, ok := formatKeywords[format]
		if !ok {
			continue
		}
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return format
			}
		}
	}
	if taskType == models.TaskTypeDirectResponse {
		return "text"
	}
	return "json"
}

// semanticCacheKey builds a parameter-aware cache key (spec.md §4.2): the
// task type plus the sorted name:value pairs of the extracted parameters
// (values lowercased and trimmed), so instructions worded differently but
// carrying the same parameters share a key. With no parameters, the first
// 50 bytes of the raw instruction stand in for them.
func semanticCacheKey(taskType models.TaskType, raw string, params map[string]models.Parameter) string {
	components := []string{string(taskType)}

	if len(params) > 0 {
		names := make([]string, 0, len(params))
		for name := range params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			value := fmt.Sprintf("%v", params[name].Value)
			components = append(components, fmt.Sprintf("%s:%s", name, strings.ToLower(strings.TrimSpace(value))))
		}
	} else {
		components = append(components, truncate(raw, 50))
	}

	content := strings.Join(components, "_")
	return fmt.Sprintf("%s_%d", taskType, stableHash(content)%100000)
}

func stableHash(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
