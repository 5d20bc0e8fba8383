package models

import "time"

// RawExecutionResult is what the Sandbox Runner hands back after running one
// attempt's code: the parsed `__AIFORGE_RESULT__` payload (spec.md §6).
type RawExecutionResult struct {
	Success    bool                   `json:"success"`
	Result     interface{}            `json:"result"`
	Error      string                 `json:"error,omitempty"`
	Traceback  string                 `json:"traceback,omitempty"`
	Locals     map[string]interface{} `json:"locals,omitempty"`
	Globals    map[string]interface{} `json:"globals,omitempty"`
	FailureTag FailureTag             `json:"failure_tag,omitempty"`
}

// FailureTag is the sandbox-level failure taxonomy (spec.md §4.4, §7).
type FailureTag string

const (
	FailureSyntaxError   FailureTag = "syntax_error"
	FailureTimeout       FailureTag = "timeout"
	FailureRuntimeError  FailureTag = "runtime_error"
	FailureResourceLimit FailureTag = "resource_limit"
	FailureNetworkBlocked FailureTag = "network_blocked"
	FailureParseError    FailureTag = "parse_error"
	FailureSecurityBlocked FailureTag = "security_violation"
)

// ExecutionRecord is one transient attempt at running a piece of generated
// code, independent of whether it was later cached (spec.md §3).
type ExecutionRecord struct {
	Code          string
	Result        RawExecutionResult
	ExecutionTime time.Duration
	Timestamp     time.Time
	// Success is business-level success: true only when the process ran
	// AND business validation subsequently passed.
	Success bool
}

// CanonicalResult is the normalized shape every orchestration request
// eventually returns (spec.md §3).
type CanonicalResult struct {
	Data     interface{}      `json:"data"`
	Status   string           `json:"status"` // "success" | "error"
	Summary  string           `json:"summary"`
	Metadata CanonicalMetadata `json:"metadata"`
}

// CanonicalMetadata is the nested metadata block of a CanonicalResult.
type CanonicalMetadata struct {
	Timestamp     time.Time `json:"timestamp"`
	TaskType      TaskType  `json:"task_type"`
	ExecutionType string    `json:"execution_type,omitempty"`
}

// NewSuccessResult renders a populated, status="success" canonical result.
// Per spec.md §9's "templating over string substitution" note, callers never
// hand-assemble this shape with string concatenation.
func NewSuccessResult(data interface{}, summary string, taskType TaskType, executionType string) CanonicalResult {
	return CanonicalResult{
		Data:    data,
		Status:  "success",
		Summary: summary,
		Metadata: CanonicalMetadata{
			Timestamp:     time.Now(),
			TaskType:      taskType,
			ExecutionType: executionType,
		},
	}
}

// NewErrorResult renders the canonical error shape required by spec.md §7:
// status="error", a human-readable summary, metadata.task_type set, data nil.
func NewErrorResult(summary string, taskType TaskType) CanonicalResult {
	return CanonicalResult{
		Data:    nil,
		Status:  "error",
		Summary: summary,
		Metadata: CanonicalMetadata{
			Timestamp: time.Now(),
			TaskType:  taskType,
		},
	}
}

// IsError reports whether this result carries an error status.
func (c CanonicalResult) IsError() bool {
	return c.Status == "error"
}

// IsNull reports whether this is the zero-value result the orchestrator
// returns for an empty or whitespace-only instruction (spec.md §8), standing
// in for the "orchestrator returns null" boundary behavior in a language
// without a nullable return type here.
func (c CanonicalResult) IsNull() bool {
	return c.Status == "" && c.Data == nil && c.Summary == ""
}
