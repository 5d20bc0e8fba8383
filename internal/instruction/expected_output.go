package instruction

import "aiforge/internal/models"

// DefaultExpectedOutput returns the built-in validation contract for
// taskType, adjusted for any quantity parameter present in extractedParams.
// Mirrors original_source/instruction/analyzer.py's
// get_default_expected_output staticmethod.
func DefaultExpectedOutput(taskType models.TaskType, extractedParams map[string]models.Parameter) models.ExpectedOutput {
	base, ok := defaultOutputs[taskType]
	if !ok {
		base = defaultOutputs[models.TaskTypeGeneral]
	}

	out := base // struct copy

	for _, name := range []string{"required_count", "count", "limit", "num_items", "quantity", "amount"} {
		param, ok := extractedParams[name]
		if !ok {
			continue
		}
		n, ok := param.Value.(int)
		if !ok {
			continue
		}
		if n < 1 {
			n = 1
		}
		if n > 100 {
			n = 100
		}
		out.ValidationRules.MinItems = n
		out.BusinessLogicChecks = []string{
			"must process at least the requested number of items",
			"data format must be correct",
		}
		break
	}

	return out
}

var defaultOutputs = map[models.TaskType]models.ExpectedOutput{
	models.TaskTypeDataFetch: {
		RequiredFields: []string{"data", "status"},
		ValidationRules: models.ValidationRules{
			MinItems:          1,
			NonEmptyFields:    []string{"data"},
			StatusField:       "status",
			SuccessIndicators: []string{"status_ok"},
		},
		FailureIndicators: []string{"error", "exception", "fetch_failed"},
		BusinessLogicChecks: []string{
			"fetched data must be non-empty",
			"data format must be correct",
			"data must originate from a real external source",
			"mock or placeholder data is forbidden",
		},
	},
	models.TaskTypeDataProcess: {
		RequiredFields: []string{"data", "processed_data"},
		ValidationRules: models.ValidationRules{
			NonEmptyFields:    []string{"processed_data"},
			SuccessIndicators: []string{"processing_complete"},
		},
		FailureIndicators: []string{"error", "exception", "process_failed"},
		BusinessLogicChecks: []string{
			"processed data must differ from the source data",
			"processing result must be meaningful",
		},
	},
	models.TaskTypeFileOperation: {
		RequiredFields: []string{"data", "status"},
		ValidationRules: models.ValidationRules{
			StatusField:       "status",
			SuccessIndicators: []string{"operation_succeeded"},
		},
		FailureIndicators: []string{"error", "exception", "file_not_found", "permission_denied"},
		BusinessLogicChecks: []string{
			"the file operation must complete successfully",
			"the result must reflect the actual operation performed",
		},
	},
	models.TaskTypeAutomation: {
		RequiredFields: []string{"data", "status", "summary"},
		ValidationRules: models.ValidationRules{
			NonEmptyFields: []string{"summary"},
			StatusField:    "status",
		},
		FailureIndicators: []string{"error", "exception", "automation_failed"},
		BusinessLogicChecks: []string{
			"the automation task must execute to completion",
			"the execution summary must be detailed",
		},
	},
	models.TaskTypeContentGeneration: {
		RequiredFields: []string{"data", "generated_content"},
		ValidationRules: models.ValidationRules{
			MinItems:          1,
			NonEmptyFields:    []string{"generated_content"},
			SuccessIndicators: []string{"content_generated"},
		},
		FailureIndicators: []string{"error", "exception", "generation_failed"},
		BusinessLogicChecks: []string{
			"generated content must match the request",
			"content length must be reasonable",
		},
	},
	models.TaskTypeGeneral: {
		RequiredFields: []string{"data", "status"},
		ValidationRules: models.ValidationRules{
			StatusField: "status",
		},
		FailureIndicators:   []string{"error", "exception"},
		BusinessLogicChecks: []string{"the execution result must satisfy the basic requirements"},
	},
}
