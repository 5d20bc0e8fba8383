package orchestrator

import (
	"context"
	"testing"

	"aiforge/internal/cache"
	"aiforge/internal/config"
	"aiforge/internal/instruction"
	"aiforge/internal/llm"
	"aiforge/internal/models"
	"aiforge/internal/sandbox"
	"aiforge/internal/validator"
)

type fakeSearcher struct {
	result models.RawExecutionResult
	err    error
}

func (f fakeSearcher) Search(_ context.Context, _ string, _ int) (models.RawExecutionResult, error) {
	return f.result, f.err
}

func searchInstruction() models.StandardizedInstruction {
	return models.StandardizedInstruction{
		Original: "search for the latest Go release notes",
		TaskType: models.TaskTypeDataFetch,
		Action:   "search",
		Target:   "latest Go release notes",
		RequiredParameters: map[string]models.Parameter{
			"search_query": {Value: "latest Go release notes", Type: "str"},
		},
	}
}

func newSearchTestOrchestrator(t *testing.T, llmClient llm.Client, backend sandbox.Backend, searcher Searcher) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	store, err := cache.Open(dir+"/cache.db", dir+"/modules", config.CodeCacheConfig{Enabled: true}, nil)
	if err != nil {
		t.Fatalf("failed to open cache store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	analyzer := instruction.NewAnalyzer(nil, nil)
	v := validator.New(nil)

	o := New(analyzer, store, backend, v, llmClient, 1, 1)
	return o.WithSearcher(searcher)
}

func TestSearchCascadeTierAShortCircuitsOnBuiltinHit(t *testing.T) {
	searcher := fakeSearcher{result: models.RawExecutionResult{
		Success: true,
		Result: map[string]interface{}{
			"status": "success",
			"data": []interface{}{
				map[string]interface{}{"title": "Go 1.24 released", "url": "https://go.dev"},
			},
			"summary": "one result",
		},
	}}

	// The controller/backend would fail hard if reached, proving tier (a)
	// short-circuited the rest of the cascade.
	o := newSearchTestOrchestrator(t, &fakeLLM{response: "not code"}, &fakeBackend{}, searcher)

	result, err := o.executeSearchCascade(context.Background(), searchInstruction())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError() {
		t.Fatalf("expected a built-in search success, got error result: %+v", result)
	}
	if result.Metadata.ExecutionType != "search_builtin" {
		t.Fatalf("expected execution_type search_builtin, got %q", result.Metadata.ExecutionType)
	}
}

func TestSearchCascadeFallsThroughToCodegenWhenBuiltinEmpty(t *testing.T) {
	searcher := fakeSearcher{result: models.RawExecutionResult{
		Success: true,
		Result: map[string]interface{}{
			"status":  "success",
			"data":    []interface{}{},
			"summary": "no built-in results",
		},
	}}

	llmClient := &fakeLLM{response: "```go\nfunc Run(params map[string]interface{}) (interface{}, error) {\n\treturn map[string]interface{}{\"status\": \"success\", \"data\": []interface{}{map[string]interface{}{\"title\": \"x\", \"url\": \"y\"}}, \"summary\": \"ok\"}, nil\n}\n```"}
	backend := &fakeBackend{result: models.RawExecutionResult{
		Success: true,
		Result: map[string]interface{}{
			"status":  "success",
			"data":    []interface{}{map[string]interface{}{"title": "x", "url": "y"}},
			"summary": "ok",
		},
	}}

	o := newSearchTestOrchestrator(t, llmClient, backend, searcher)

	result, err := o.executeSearchCascade(context.Background(), searchInstruction())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError() {
		t.Fatalf("expected eventual success via codegen tiers, got error result: %+v", result)
	}
}

func TestSearchQueryPrefersSearchQueryOverQuery(t *testing.T) {
	std := models.StandardizedInstruction{
		Target: "fallback target",
		RequiredParameters: map[string]models.Parameter{
			"search_query": {Value: "preferred"},
			"query":        {Value: "secondary"},
		},
	}
	if got := searchQuery(std); got != "preferred" {
		t.Fatalf("expected search_query to win, got %q", got)
	}
}

func TestSearchQueryFallsBackToTarget(t *testing.T) {
	std := models.StandardizedInstruction{Target: "fallback target"}
	if got := searchQuery(std); got != "fallback target" {
		t.Fatalf("expected fallback to Target, got %q", got)
	}
}
