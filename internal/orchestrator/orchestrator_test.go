package orchestrator

import (
	"context"
	"os"
	"testing"

	"aiforge/internal/cache"
	"aiforge/internal/config"
	"aiforge/internal/instruction"
	"aiforge/internal/llm"
	"aiforge/internal/models"
	"aiforge/internal/sandbox"
	"aiforge/internal/validator"
)

type fakeLLM struct {
	response string
}

func (f *fakeLLM) Generate(ctx context.Context, systemPrompt, userPrompt string, history []llm.Message) (string, error) {
	return f.response, nil
}

func (f *fakeLLM) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return []float32{0}, nil
}

func (f *fakeLLM) Name() string { return "fake" }

type fakeBackend struct {
	result models.RawExecutionResult
}

func (b *fakeBackend) Execute(ctx context.Context, req sandbox.Request) (models.RawExecutionResult, error) {
	return b.result, nil
}

func newTestOrchestrator(t *testing.T, llmClient llm.Client, backend sandbox.Backend) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	store, err := cache.Open(dir+"/cache.db", dir+"/modules", config.CodeCacheConfig{Enabled: true}, nil)
	if err != nil {
		t.Fatalf("failed to open cache store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	analyzer := instruction.NewAnalyzer(nil, nil)
	v := validator.New(nil)

	return New(analyzer, store, backend, v, llmClient, 1, 1)
}

func TestExecuteFallsBackToController(t *testing.T) {
	if os.Getenv("CI") != "" {
		t.Skip("exercises a temp sqlite file; skipped under constrained CI sandboxes")
	}

	llmClient := &fakeLLM{response: "```go\nfunc Run(params map[string]interface{}) (interface{}, error) {\n\tlocation, _ := params[\"location\"].(string)\n\treturn map[string]interface{}{\"status\": location}, nil\n}\n```"}
	backend := &fakeBackend{result: models.RawExecutionResult{Success: true, Result: map[string]interface{}{
		"status":    "ok",
		"status_ok": true,
		"data":      map[string]interface{}{"results": []interface{}{"sunny"}},
	}}}
	o := newTestOrchestrator(t, llmClient, backend)

	result, err := o.Execute(context.Background(), nil, "fetch the weather for a location")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError() {
		t.Fatalf("expected success, got error result: %+v", result)
	}
}

func TestSessionShutdownStopsExecution(t *testing.T) {
	ctx, session := NewSession(context.Background())
	session.Shutdown()

	if !session.ShuttingDown() {
		t.Fatalf("expected session to report shutting down")
	}
	if ctx.Err() == nil {
		t.Fatalf("expected derived context to be cancelled")
	}

	llmClient := &fakeLLM{response: "irrelevant"}
	backend := &fakeBackend{}
	o := newTestOrchestrator(t, llmClient, backend)

	_, err := o.Execute(ctx, session, "do something")
	if err == nil {
		t.Fatalf("expected an error once the session is shutting down")
	}
}
