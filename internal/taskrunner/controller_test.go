package taskrunner

import (
	"context"
	"testing"

	"aiforge/internal/llm"
	"aiforge/internal/models"
	"aiforge/internal/sandbox"
	"aiforge/internal/validator"
)

type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) Generate(ctx context.Context, systemPrompt, userPrompt string, history []llm.Message) (string, error) {
	if s.calls >= len(s.responses) {
		return s.responses[len(s.responses)-1], nil
	}
	r := s.responses[s.calls]
	s.calls++
	return r, nil
}

func (s *scriptedLLM) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return []float32{0}, nil
}

func (s *scriptedLLM) Name() string { return "scripted" }

type scriptedBackend struct {
	results []models.RawExecutionResult
	calls   int
}

func (s *scriptedBackend) Execute(ctx context.Context, req sandbox.Request) (models.RawExecutionResult, error) {
	if s.calls >= len(s.results) {
		return s.results[len(s.results)-1], nil
	}
	r := s.results[s.calls]
	s.calls++
	return r, nil
}

func testInstruction() models.StandardizedInstruction {
	return models.StandardizedInstruction{
		Original: "fetch the weather",
		TaskType: models.TaskTypeDataFetch,
		Action:   "fetch_data",
		Target:   "weather",
	}
}

func TestControllerSucceedsOnFirstAttempt(t *testing.T) {
	llmClient := &scriptedLLM{responses: []string{"```go\nreturn map[string]interface{}{\"status\": \"ok\"}, nil\n```"}}
	backend := &scriptedBackend{results: []models.RawExecutionResult{
		{Success: true, Result: map[string]interface{}{"status": "ok"}},
	}}
	c := New(llmClient, backend, validator.New(nil), 2, 2)

	outcome, err := c.Run(context.Background(), testInstruction())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected success")
	}
	if outcome.Rounds != 1 || outcome.Attempts != 1 {
		t.Fatalf("expected round 1 attempt 1, got rounds=%d attempts=%d", outcome.Rounds, outcome.Attempts)
	}
}

func TestControllerRecoversAfterExecutionError(t *testing.T) {
	llmClient := &scriptedLLM{responses: []string{
		"```go\npanic(\"nil pointer dereference\")\n```",
		"```go\nreturn map[string]interface{}{\"status\": \"ok\"}, nil\n```",
	}}
	backend := &scriptedBackend{results: []models.RawExecutionResult{
		{Success: false, Error: "invalid memory address or nil pointer dereference"},
		{Success: true, Result: map[string]interface{}{"status": "ok"}},
	}}
	c := New(llmClient, backend, validator.New(nil), 2, 3)

	outcome, err := c.Run(context.Background(), testInstruction())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected eventual success")
	}
	if outcome.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", outcome.Attempts)
	}
}

func TestControllerExhaustsRoundsOnPersistentFailure(t *testing.T) {
	llmClient := &scriptedLLM{responses: []string{"```go\nreturn nil, fmt.Errorf(\"boom\")\n```"}}
	backend := &scriptedBackend{results: []models.RawExecutionResult{
		{Success: false, Error: "boom"},
	}}
	c := New(llmClient, backend, validator.New(nil), 1, 1)

	outcome, err := c.Run(context.Background(), testInstruction())
	if err == nil {
		t.Fatalf("expected an error once rounds are exhausted")
	}
	if outcome.Success {
		t.Fatalf("did not expect success")
	}
}

func TestControllerFallsBackToLastSuccessfulBlock(t *testing.T) {
	llmClient := &scriptedLLM{responses: []string{
		"```go\nreturn map[string]interface{}{\"status\": \"ok\"}, nil\n```\n```go\npanic(\"boom\")\n```",
	}}
	backend := &scriptedBackend{results: []models.RawExecutionResult{
		{Success: true, Result: map[string]interface{}{"status": "ok"}},
		{Success: false, Error: "boom"},
	}}
	c := New(llmClient, backend, validator.New(nil), 1, 1)

	outcome, err := c.Run(context.Background(), testInstruction())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected success")
	}
}
