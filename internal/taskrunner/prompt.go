package taskrunner

import (
	"fmt"
	"strings"

	"aiforge/internal/models"
)

// buildSystemPrompt assembles the codegen system prompt for one
// instruction, adapted from the teacher's internal/agents/meta_prompt.go
// MetaPromptGenerator: the same "direct execution, no prose" framing and
// per-task-type guidance blocks, rebuilt around a StandardizedInstruction
// instead of the teacher's Task/AgentContext pair, and demanding the
// `func Run(params map[string]interface{}) (interface{}, error)` shape this
// engine's sandbox harness expects instead of the teacher's agent-role
// deliverable shapes.
func buildSystemPrompt(instruction models.StandardizedInstruction) string {
	var b strings.Builder

	fmt.Fprintf(&b, `You are an expert Go code generation agent. Write ONE complete Go function
declaration, exactly this signature:

    func Run(params map[string]interface{}) (interface{}, error)

that accomplishes the task below. Respond with ONLY that function declaration
(signature and body together) wrapped in a single fenced Go code block, no
explanations, no package declaration, no import statements (the harness
supplies those for any standard library package you reference).

TASK:
- Task type: %s
- Action: %s
- Target: %s
- Required parameters: %s

`, instruction.TaskType, instruction.Action, instruction.Target, formatParams(instruction.RequiredParameters))

	if !instruction.ExpectedOutput.Empty() {
		fmt.Fprintf(&b, "EXPECTED OUTPUT CONTRACT:\n- Required fields: %v\n- Minimum items: %d\n- Non-empty fields: %v\n\n",
			instruction.ExpectedOutput.RequiredFields,
			instruction.ExpectedOutput.ValidationRules.MinItems,
			instruction.ExpectedOutput.ValidationRules.NonEmptyFields)
	}

	b.WriteString(taskTypeGuidance(instruction.TaskType))
	return b.String()
}

func formatParams(params map[string]models.Parameter) string {
	if len(params) == 0 {
		return "(none declared)"
	}
	var parts []string
	for name, p := range params {
		parts = append(parts, fmt.Sprintf("%s (%s, required=%v): %s", name, p.Type, p.Required, p.Description))
	}
	return strings.Join(parts, "; ")
}

func taskTypeGuidance(taskType models.TaskType) string {
	switch taskType {
	case models.TaskTypeDataFetch:
		return `GUIDANCE: fetch data using net/http against a real endpoint when the
instruction names one; build the request from the declared parameters rather
than hardcoding query values. Return a map with a "status" and "data" key.
`
	case models.TaskTypeDataProcess:
		return `GUIDANCE: transform the input carried in params; avoid hardcoding values
that should come from a parameter. Return a map describing what changed.
`
	case models.TaskTypeFileOperation:
		return `GUIDANCE: operate on the file path carried in params, never a literal path.
Return a map describing the operation performed and its outcome.
`
	case models.TaskTypeAutomation:
		return `GUIDANCE: sequence the steps described by the instruction's parameters.
Return a map summarizing each step's outcome.
`
	case models.TaskTypeContentGeneration:
		return `GUIDANCE: generate the requested content from the declared parameters.
Return a map with the generated content under a "content" key.
`
	default:
		return `GUIDANCE: implement the instruction directly and return a map describing
the outcome under a "result" key.
`
	}
}

// optimizePrompt is the minimal attempt-2+ user message, verbatim in intent
// from task_manager.py's "根据错误优化代码" follow-up, carrying the
// compressed error instead of repeating the full original instruction.
func optimizePrompt(prevError CompressedError) string {
	return "Optimize the previous code based on this error: " + prevError.Compact()
}

// validationFeedbackPrompt is the attempt-2+ user message sent after a
// result failed validation rather than execution, mirroring
// generate_validation_feedback's structure.
func validationFeedbackPrompt(tier, reason string) string {
	return fmt.Sprintf("The previous code ran but failed %s validation: %s. Adjust the code so its output satisfies the expected output contract.", tier, reason)
}
