package validator

import (
	"context"
	"testing"

	"aiforge/internal/models"

	"github.com/stretchr/testify/require"
)

func TestBasicValidationFailsOnExecutionError(t *testing.T) {
	v := New(nil)
	report := v.Validate(context.Background(), models.RawExecutionResult{Success: false, Error: "boom"}, models.StandardizedInstruction{})
	require.False(t, report.Passed)
	require.Equal(t, TierBasic, report.Tier)
}

func TestBasicValidationFailsOnEmptyData(t *testing.T) {
	v := New(nil)
	result := models.RawExecutionResult{
		Success: true,
		Result:  map[string]interface{}{"status": "success", "data": []interface{}{}},
	}
	report := v.Validate(context.Background(), result, models.StandardizedInstruction{})
	require.False(t, report.Passed)
}

func TestBusinessValidationRequiredFields(t *testing.T) {
	v := New(nil)
	result := models.RawExecutionResult{
		Success: true,
		Result:  map[string]interface{}{"data": map[string]interface{}{"title": "x"}},
	}
	instruction := models.StandardizedInstruction{
		ExpectedOutput: models.ExpectedOutput{RequiredFields: []string{"summary"}},
	}
	report := v.Validate(context.Background(), result, instruction)
	require.False(t, report.Passed)
	require.Equal(t, TierBusiness, report.Tier)
}

func TestBusinessValidationMinItems(t *testing.T) {
	v := New(nil)
	result := models.RawExecutionResult{
		Success: true,
		Result: map[string]interface{}{
			"data": map[string]interface{}{
				"results": []interface{}{"one"},
			},
		},
	}
	instruction := models.StandardizedInstruction{
		ExpectedOutput: models.ExpectedOutput{
			RequiredFields:  []string{"data"},
			ValidationRules: models.ValidationRules{MinItems: 3},
		},
	}
	report := v.Validate(context.Background(), result, instruction)
	require.False(t, report.Passed)
	require.Equal(t, TierBusiness, report.Tier)
}

func TestNoAIValidationNeededWhenNoBusinessChecks(t *testing.T) {
	v := New(nil)
	result := models.RawExecutionResult{
		Success: true,
		Result:  map[string]interface{}{"data": map[string]interface{}{"results": []interface{}{"a", "b"}}},
	}
	instruction := models.StandardizedInstruction{
		ExpectedOutput: models.ExpectedOutput{RequiredFields: []string{"data"}},
	}
	report := v.Validate(context.Background(), result, instruction)
	require.True(t, report.Passed)
	require.Equal(t, TierBusiness, report.Tier)
}

func TestAIDeepValidationAcceptsByDefaultWithoutClient(t *testing.T) {
	v := New(nil)
	result := models.RawExecutionResult{
		Success: true,
		Result:  map[string]interface{}{"data": map[string]interface{}{"results": []interface{}{"a"}}},
	}
	instruction := models.StandardizedInstruction{
		ExpectedOutput: models.ExpectedOutput{
			RequiredFields:      []string{"data"},
			BusinessLogicChecks: []string{"content must be relevant"},
		},
	}
	report := v.Validate(context.Background(), result, instruction)
	require.True(t, report.Passed)
	require.Equal(t, TierAIDeep, report.Tier)
}
