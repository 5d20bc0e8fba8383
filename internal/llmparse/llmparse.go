// Package llmparse defensively extracts structured content (JSON objects,
// fenced code blocks) from LLM chat completions, which routinely wrap the
// payload in prose or markdown fences regardless of instructions.
//
// Adapted from the teacher's internal/llm/parser package (JSONExtractor's
// brace-counting strategy) and internal/parser/intent_parser.go's fenced
// code-block stripping; simplified to the two shapes this engine's callers
// actually need instead of the teacher's five-extractor dispatch table built
// for deployment-validation response formats this engine has no use for.
package llmparse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var jsonFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
var codeFenceRe = regexp.MustCompile("(?s)```(?:\\w+)?\\s*\\n?(.*?)```")

// ExtractJSON pulls the first well-formed JSON object out of a raw LLM
// response. It tries a fenced ```json block first, then falls back to
// brace-counting over the raw text, matching the teacher's JSONExtractor
// fallback order.
func ExtractJSON(raw string) (string, error) {
	if m := jsonFenceRe.FindStringSubmatch(raw); m != nil {
		if isValidJSON(m[1]) {
			return m[1], nil
		}
	}

	start := strings.Index(raw, "{")
	if start == -1 {
		return "", fmt.Errorf("llmparse: no JSON object found in response")
	}

	depth := 0
	end := -1
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end != -1 {
			break
		}
	}

	if end == -1 {
		end = strings.LastIndex(raw, "}")
		if end == -1 || end <= start {
			return "", fmt.Errorf("llmparse: malformed JSON in response")
		}
	}

	extracted := raw[start : end+1]
	if !isValidJSON(extracted) {
		return "", fmt.Errorf("llmparse: extracted content is not valid JSON")
	}

	return extracted, nil
}

// ExtractJSONInto extracts JSON from raw and unmarshals it into v.
func ExtractJSONInto(raw string, v interface{}) error {
	extracted, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(extracted), v)
}

// ExtractCode pulls the content of the first fenced code block out of raw.
// When raw has no fence, it is returned trimmed as-is, since some models
// respond with bare code despite being asked for a fenced block.
func ExtractCode(raw string) string {
	if m := codeFenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

// ExtractAllCode returns every fenced code block in raw, in document order,
// matching spec.md §4.8's "extract code blocks (fenced ```python or generic
// fences), execute each in the sandbox" instruction. Falls back to a single
// trimmed whole-response entry when raw has no fence at all.
func ExtractAllCode(raw string) []string {
	matches := codeFenceRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		block := strings.TrimSpace(m[1])
		if block != "" {
			out = append(out, block)
		}
	}
	return out
}

func isValidJSON(s string) bool {
	var js json.RawMessage
	return json.Unmarshal([]byte(s), &js) == nil
}
