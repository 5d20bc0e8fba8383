package instruction

import (
	"context"
	"fmt"
	"testing"

	"aiforge/internal/llm"
)

// fakeStats is a minimal in-memory TypeStats double for exercising the
// analyzer's registry wiring without pulling in internal/dynregistry.
type fakeStats struct {
	builtinN, allN int
	dynamic        map[string]int
	outcomes       map[string][2]int // [success, failure]
}

func newFakeStats() *fakeStats {
	return &fakeStats{dynamic: map[string]int{}, outcomes: map[string][2]int{}}
}

func (f *fakeStats) DynamicTypeCount() int { return len(f.dynamic) }

func (f *fakeStats) BuiltinUsageRate() float64 {
	if f.allN == 0 {
		return 1.0
	}
	return float64(f.builtinN) / float64(f.allN)
}

func (f *fakeStats) DynamicTypeNames() []string {
	names := make([]string, 0, len(f.dynamic))
	for name := range f.dynamic {
		names = append(names, name)
	}
	return names
}

func (f *fakeStats) Register(taskType, target string) error {
	f.allN++
	if taskType == "data_fetch" || taskType == "data_process" || taskType == "file_operation" ||
		taskType == "automation" || taskType == "content_generation" || taskType == "direct_response" ||
		taskType == "general" {
		f.builtinN++
		return nil
	}
	f.dynamic[taskType]++
	return nil
}

func (f *fakeStats) RecordOutcome(taskType string, success bool) error {
	o := f.outcomes[taskType]
	if success {
		o[0]++
	} else {
		o[1]++
	}
	f.outcomes[taskType] = o
	return nil
}

func TestStandardizeRegistersUsageForLocalResult(t *testing.T) {
	stats := newFakeStats()
	a := NewAnalyzer(nil, stats)

	if _, err := a.Standardize(context.Background(), "get today's weather in Shanghai"); err != nil {
		t.Fatalf("Standardize: %v", err)
	}

	if stats.allN != 1 {
		t.Fatalf("expected one registered usage, got %d", stats.allN)
	}
}

func TestStandardizeRegistersNewDynamicType(t *testing.T) {
	stats := newFakeStats()
	mock := llm.NewMockClient(`{"task_type": "sentiment_analysis", "action": "classify", "target": "classify review sentiment", "parameters": {}, "confidence": 0.9, "reasoning": "no built-in type covers sentiment classification at all"}`)
	a := NewAnalyzer(mock, stats)

	result, err := a.Standardize(context.Background(), "zzz unclear gibberish instruction zzz")
	if err != nil {
		t.Fatalf("Standardize: %v", err)
	}
	if result.TaskType != "sentiment_analysis" {
		t.Fatalf("expected AI-assigned task_type, got %q", result.TaskType)
	}
	if stats.dynamic["sentiment_analysis"] != 1 {
		t.Fatalf("expected the new dynamic type to be registered, got %v", stats.dynamic)
	}
}

func TestAIAnalyzeRejectsNearDuplicateType(t *testing.T) {
	stats := newFakeStats()
	stats.dynamic["sentiment_analysis"] = 5

	mock := llm.NewMockClient(`{"task_type": "sentiment_analisys", "action": "classify", "target": "classify review sentiment", "parameters": {}, "confidence": 0.9, "reasoning": "a near-duplicate of an existing dynamic type"}`)
	a := NewAnalyzer(mock, stats)

	result, err := a.Standardize(context.Background(), "zzz unclear gibberish instruction zzz")
	if err != nil {
		t.Fatalf("Standardize should fall back to the local result rather than error: %v", err)
	}
	if result.TaskType == "sentiment_analisys" {
		t.Fatalf("expected the near-duplicate AI task_type to be rejected and the local result kept, got %q", result.TaskType)
	}
}

func TestRecordOutcomeSkipsBuiltinTypes(t *testing.T) {
	stats := newFakeStats()
	a := NewAnalyzer(nil, stats)

	a.RecordOutcome("data_fetch", true)
	if len(stats.outcomes) != 0 {
		t.Fatalf("expected built-in task types not to record outcomes, got %v", stats.outcomes)
	}
}

func TestRecordOutcomeTracksDynamicTypes(t *testing.T) {
	stats := newFakeStats()
	a := NewAnalyzer(nil, stats)

	a.RecordOutcome("sentiment_analysis", true)
	a.RecordOutcome("sentiment_analysis", false)

	if got := stats.outcomes["sentiment_analysis"]; got != [2]int{1, 1} {
		t.Fatalf("expected one success and one failure recorded, got %v", got)
	}
}

func TestTypeNameSimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		min  float64
	}{
		{"data_fetch", "data_fetch", 1.0},
		{"sentiment_analysis", "sentiment_analisys", 0.8},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s~%s", tc.a, tc.b), func(t *testing.T) {
			if got := typeNameSimilarity(tc.a, tc.b); got < tc.min {
				t.Fatalf("expected similarity >= %.2f, got %.2f", tc.min, got)
			}
		})
	}
}
