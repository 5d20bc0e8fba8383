package models

import "time"

// TaskType is the standardized classification of what an instruction asks for.
type TaskType string

const (
	TaskTypeDataFetch         TaskType = "data_fetch"
	TaskTypeDataProcess       TaskType = "data_process"
	TaskTypeFileOperation     TaskType = "file_operation"
	TaskTypeAutomation        TaskType = "automation"
	TaskTypeContentGeneration TaskType = "content_generation"
	TaskTypeDirectResponse    TaskType = "direct_response"
	TaskTypeGeneral           TaskType = "general"
)

// BuiltinTaskTypes lists every task type the analyzer recognizes out of the box.
var BuiltinTaskTypes = []TaskType{
	TaskTypeDataFetch,
	TaskTypeDataProcess,
	TaskTypeFileOperation,
	TaskTypeAutomation,
	TaskTypeContentGeneration,
	TaskTypeDirectResponse,
	TaskTypeGeneral,
}

// IsBuiltin reports whether t is one of the built-in task types.
func (t TaskType) IsBuiltin() bool {
	for _, b := range BuiltinTaskTypes {
		if b == t {
			return true
		}
	}
	return false
}

// ExecutionMode selects whether an instruction needs generated code or a direct LLM reply.
type ExecutionMode string

const (
	ExecutionModeCodeGeneration  ExecutionMode = "code_generation"
	ExecutionModeDirectAIResponse ExecutionMode = "direct_ai_response"
)

// InstructionSource records which analysis path produced a StandardizedInstruction.
type InstructionSource string

const (
	SourceLocalAnalysis InstructionSource = "local_analysis"
	SourceAIAnalysis    InstructionSource = "ai_analysis"
	SourceDefault       InstructionSource = "default"
)

// Parameter describes one required parameter of a standardized instruction.
type Parameter struct {
	Value       interface{} `json:"value"`
	Type        string      `json:"type"` // "str" | "int" | "float" | "bool"
	Description string      `json:"description"`
	Required    bool        `json:"required"`
}

// ValidationRules is the business-rule portion of an ExpectedOutput contract.
type ValidationRules struct {
	MinItems          int      `json:"min_items,omitempty"`
	NonEmptyFields    []string `json:"non_empty_fields,omitempty"`
	StatusField       string   `json:"status_field,omitempty"`
	SuccessIndicators []string `json:"success_indicators,omitempty"`
}

// ExpectedOutput is the declared validation contract accompanying a standardized instruction.
type ExpectedOutput struct {
	RequiredFields      []string        `json:"required_fields"`
	ValidationRules     ValidationRules `json:"validation_rules"`
	FailureIndicators   []string        `json:"failure_indicators"`
	BusinessLogicChecks []string        `json:"business_logic_checks"`
}

// Empty reports whether this contract carries no usable constraints.
func (e ExpectedOutput) Empty() bool {
	return len(e.RequiredFields) == 0
}

// StandardizedInstruction is the canonical record produced by instruction analysis.
//
// Invariants (spec.md §3, §8): CacheKey is always set; for Confidence >= 0.6,
// ExpectedOutput must be non-empty; TaskType is always a member of the builtin
// set or the dynamic registry.
type StandardizedInstruction struct {
	Original           string                `json:"original"`
	TaskType           TaskType              `json:"task_type"`
	Action             string                `json:"action"`
	Target             string                `json:"target"`
	RequiredParameters map[string]Parameter  `json:"required_parameters"`
	ExpectedOutput     ExpectedOutput        `json:"expected_output"`
	ExecutionMode      ExecutionMode         `json:"execution_mode"`
	Confidence         float64               `json:"confidence"`
	CacheKey           string                `json:"cache_key"`
	Source             InstructionSource     `json:"source"`
	CreatedAt          time.Time             `json:"created_at"`
}

// LowConfidence reports whether the local analyzer's output needs LLM-assisted review.
func (s StandardizedInstruction) LowConfidence() bool {
	return s.Confidence < 0.6
}

// IsSearchLike reports whether this is a data_fetch instruction carrying search markers,
// the trigger for the orchestrator's four-tier search strategy (spec.md §4.7 step 3).
func (s StandardizedInstruction) IsSearchLike() bool {
	if s.TaskType != TaskTypeDataFetch {
		return false
	}
	_, hasQuery := s.RequiredParameters["search_query"]
	_, hasQuery2 := s.RequiredParameters["query"]
	return s.Action == "search" || hasQuery || hasQuery2
}

// ParameterValues flattens RequiredParameters into a plain name->value map,
// the shape the Parameter Mapper and generated code consume.
func (s StandardizedInstruction) ParameterValues() map[string]interface{} {
	out := make(map[string]interface{}, len(s.RequiredParameters))
	for name, p := range s.RequiredParameters {
		out[name] = p.Value
	}
	return out
}
