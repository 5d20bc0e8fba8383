package instruction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aiforge/internal/llm"
	"aiforge/internal/llmparse"
	"aiforge/internal/logger"
	"aiforge/internal/models"

	"github.com/agext/levenshtein"
	"go.uber.org/zap"
)

// TypeStats supplies the dynamic-task-type usage counters the adaptive
// guidance prompt reacts to, and the read/write operations the AI-analysis
// path needs to grow the registry (internal/dynregistry implements this).
type TypeStats interface {
	DynamicTypeCount() int
	BuiltinUsageRate() float64
	DynamicTypeNames() []string
	Register(taskType, target string) error
	RecordOutcome(taskType string, success bool) error
}

// Analyzer standardizes free-form instructions into StandardizedInstruction
// records, first locally then, for low-confidence results, via an
// LLM-assisted fallback. Grounded on
// original_source/instruction/analyzer.py's InstructionAnalyzer.
type Analyzer struct {
	llmClient llm.Client
	stats     TypeStats
}

// NewAnalyzer builds an Analyzer. stats may be nil, in which case guidance
// strength defaults to its neutral setting.
func NewAnalyzer(llmClient llm.Client, stats TypeStats) *Analyzer {
	return &Analyzer{llmClient: llmClient, stats: stats}
}

// Standardize runs local analysis and, when confidence is low, escalates to
// the LLM for a second opinion, falling back to the local result if the LLM
// is unavailable or returns something unusable (spec.md §4.1).
func (a *Analyzer) Standardize(ctx context.Context, raw string) (models.StandardizedInstruction, error) {
	local := LocalAnalyze(raw)

	if !local.LowConfidence() || a.llmClient == nil {
		a.registerUsage(local)
		return local, nil
	}

	logger.WithComponent("instruction").Debug("escalating low-confidence instruction to LLM",
		zap.String("cache_key", local.CacheKey), zap.Float64("confidence", local.Confidence))

	aiResult, err := a.aiAnalyze(ctx, raw)
	if err != nil {
		logger.WithComponent("instruction").Warn("LLM-assisted analysis failed, keeping local result",
			zap.Error(err))
		a.registerUsage(local)
		return local, nil
	}

	a.registerUsage(aiResult)
	return aiResult, nil
}

// registerUsage records one use of std.TaskType against the dynamic
// registry's built-in-vs-dynamic usage tally (spec.md §4.1's adaptive
// guidance strength input); Register itself distinguishes built-in from
// dynamic types, so this is the single call site for both analysis paths.
func (a *Analyzer) registerUsage(std models.StandardizedInstruction) {
	if a.stats == nil {
		return
	}
	if err := a.stats.Register(string(std.TaskType), std.Target); err != nil {
		logger.WithComponent("instruction").Warn("failed to register task type usage",
			zap.String("task_type", string(std.TaskType)), zap.Error(err))
	}
}

func (a *Analyzer) aiAnalyze(ctx context.Context, raw string) (models.StandardizedInstruction, error) {
	prompt := a.buildPrompt(raw)

	response, err := a.llmClient.Generate(ctx, instructionSystemPrompt, prompt, nil)
	if err != nil {
		return models.StandardizedInstruction{}, fmt.Errorf("instruction: llm generate failed: %w", err)
	}

	parsed, reasoning, err := parseAIResponse(response, raw)
	if err != nil {
		return models.StandardizedInstruction{}, err
	}

	if !isValid(parsed, reasoning) {
		return models.StandardizedInstruction{}, fmt.Errorf("instruction: AI analysis failed validity checks")
	}

	if !parsed.TaskType.IsBuiltin() {
		if existing, similarity := a.mostSimilarExistingType(string(parsed.TaskType)); similarity > 0.8 {
			return models.StandardizedInstruction{}, fmt.Errorf(
				"instruction: proposed task_type %q is %.0f%% similar to existing type %q, rejecting as a near-duplicate",
				parsed.TaskType, similarity*100, existing)
		}
	}

	parsed.Original = raw
	parsed.Source = models.SourceAIAnalysis
	parsed.CreatedAt = time.Now()
	if parsed.CacheKey == "" {
		parsed.CacheKey = semanticCacheKey(parsed.TaskType, raw, parsed.RequiredParameters)
	}
	if parsed.ExpectedOutput.Empty() {
		parsed.ExpectedOutput = DefaultExpectedOutput(parsed.TaskType, parsed.RequiredParameters)
	}

	return parsed, nil
}

// mostSimilarExistingType reports the highest normalized-Levenshtein
// similarity between candidate and every built-in or already-registered
// dynamic task type, mirroring original_source's
// is_similar_to_existing_type >80% near-duplicate rejection.
func (a *Analyzer) mostSimilarExistingType(candidate string) (string, float64) {
	var names []string
	for _, t := range models.BuiltinTaskTypes {
		names = append(names, string(t))
	}
	if a.stats != nil {
		names = append(names, a.stats.DynamicTypeNames()...)
	}

	var bestName string
	var bestScore float64
	for _, name := range names {
		if score := typeNameSimilarity(candidate, name); score > bestScore {
			bestScore = score
			bestName = name
		}
	}
	return bestName, bestScore
}

// RecordOutcome feeds an execution's success/failure back into the dynamic
// task-type registry (spec.md §3's success_count counter), a no-op for
// built-in types or when no registry is wired.
func (a *Analyzer) RecordOutcome(taskType models.TaskType, success bool) {
	if a.stats == nil || taskType.IsBuiltin() {
		return
	}
	if err := a.stats.RecordOutcome(string(taskType), success); err != nil {
		logger.WithComponent("instruction").Warn("failed to record task type outcome",
			zap.String("task_type", string(taskType)), zap.Error(err))
	}
}

const instructionSystemPrompt = `You are an expert instruction-standardization agent for a code-generation engine.
Given a user instruction, respond with a single JSON object describing it, never prose.`

// buildPrompt assembles the standardization prompt, including adaptive
// built-in-type guidance (original_source's get_adaptive_analysis_prompt).
func (a *Analyzer) buildPrompt(raw string) string {
	strength := a.guidanceStrength()

	var b strings.Builder
	fmt.Fprintf(&b, "User instruction: %s\n\n", raw)
	fmt.Fprintf(&b, "# Task type guidance\n%s use one of these built-in task types when it fits:\n%s\n\n",
		strength, builtinTypeList())
	b.WriteString("Built-in types carry higher cache-hit rates and better-tested execution paths. ")
	b.WriteString("Only introduce a new task_type when the instruction genuinely belongs to no existing category, ")
	b.WriteString("and explain why in a \"reasoning\" field of at least 20 characters when you do.\n\n")
	b.WriteString(`Respond with JSON shaped like:
{
  "task_type": "data_fetch",
  "action": "search",
  "target": "...",
  "parameters": {"query": {"value": "...", "type": "str", "description": "...", "required": true}},
  "output_format": "json",
  "confidence": 0.9,
  "reasoning": "only present for a new task_type"
}`)

	return b.String()
}

func builtinTypeList() string {
	names := make([]string, 0, len(models.BuiltinTaskTypes))
	for _, t := range models.BuiltinTaskTypes {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

// guidanceStrength mirrors original_source's adjust_guidance_strength: it
// pushes harder toward built-in types as the dynamic-type registry grows or
// built-in usage drops.
func (a *Analyzer) guidanceStrength() string {
	if a.stats == nil {
		return "prefer"
	}

	rate := a.stats.BuiltinUsageRate()
	dynamicCount := a.stats.DynamicTypeCount()

	switch {
	case rate < 0.5 || dynamicCount > 20:
		return "strongly prefer"
	case rate > 0.8 && dynamicCount < 5:
		return "feel free to"
	default:
		return "prefer"
	}
}

// DetectLocale reports the script family of raw so the engine can route
// between keyword tables: "zh" when raw contains a CJK unified ideograph,
// otherwise "en". Only English-language keyword tables are shipped (see
// patterns.go).
func DetectLocale(raw string) string {
	for _, r := range raw {
		if r >= 0x4E00 && r <= 0x9FFF {
			return "zh"
		}
	}
	return "en"
}

func parseAIResponse(response, fallbackTarget string) (models.StandardizedInstruction, string, error) {
	var payload struct {
		TaskType     string                       `json:"task_type"`
		Action       string                       `json:"action"`
		Target       string                       `json:"target"`
		Parameters   map[string]models.Parameter `json:"parameters"`
		OutputFormat string                       `json:"output_format"`
		Confidence   float64                      `json:"confidence"`
		CacheKey     string                       `json:"cache_key"`
		Reasoning    string                       `json:"reasoning"`
	}

	if err := llmparse.ExtractJSONInto(response, &payload); err != nil {
		return models.StandardizedInstruction{}, "", fmt.Errorf("instruction: failed to parse AI response: %w", err)
	}

	if payload.Target == "" {
		payload.Target = truncate(fallbackTarget, 100)
	}
	if payload.Parameters == nil {
		payload.Parameters = map[string]models.Parameter{}
	}

	return models.StandardizedInstruction{
		TaskType:           models.TaskType(payload.TaskType),
		Action:             payload.Action,
		Target:             payload.Target,
		RequiredParameters: payload.Parameters,
		Confidence:         payload.Confidence,
		CacheKey:           payload.CacheKey,
	}, payload.Reasoning, nil
}

// isValid mirrors original_source's is_ai_analysis_valid: required fields
// must be present, and a non-builtin task_type must carry real reasoning.
func isValid(parsed models.StandardizedInstruction, reasoning string) bool {
	if parsed.TaskType == "" || parsed.Action == "" {
		return false
	}
	if parsed.TaskType.IsBuiltin() {
		return true
	}
	return len(reasoning) >= 20
}

// typeNameSimilarity scores how closely two task-type names match via
// normalized Levenshtein distance over their lowercased, underscore-stripped
// forms, the same normalize-then-distance shape internal/parammap's
// nameSimilarity uses for parameter-name matching.
func typeNameSimilarity(a, b string) float64 {
	na := strings.ReplaceAll(strings.ToLower(a), "_", "")
	nb := strings.ReplaceAll(strings.ToLower(b), "_", "")
	if na == nb {
		return 1.0
	}
	maxLen := len(na)
	if len(nb) > maxLen {
		maxLen = len(nb)
	}
	if maxLen == 0 {
		return 0
	}
	distance := levenshtein.Distance(na, nb, nil)
	return 1.0 - float64(distance)/float64(maxLen)
}
