// Package taskrunner implements the multi-round task controller (spec.md
// §4.8): the outer round loop (conversation reset between rounds) and inner
// optimization-attempt loop (full prompt on attempt 1, minimal
// "optimize code based on errors" feedback loop on later attempts) that
// drives LLM code generation to a validated result.
//
// Grounded on original_source/core/task_manager.py's AIForgeTask.run /
// _execute_single_round_with_optimization and
// core/managers/execution_manager.py's generate_and_execute_with_code.
package taskrunner

import (
	"context"

	"aiforge/internal/ecode"
	"aiforge/internal/llm"
	"aiforge/internal/llmparse"
	"aiforge/internal/logger"
	"aiforge/internal/models"
	"aiforge/internal/retry"
	"aiforge/internal/sandbox"
	"aiforge/internal/validator"

	"go.uber.org/zap"
)

// Outcome is everything the orchestrator needs to decide whether to cache
// the generated code and how to render the final canonical result.
type Outcome struct {
	Code       string
	Result     models.RawExecutionResult
	Validation validator.Report
	Rounds     int
	Attempts   int
	Success    bool
}

// Controller runs the outer/inner generation loop for one instruction.
type Controller struct {
	llmClient               llm.Client
	backend                 sandbox.Backend
	validator                *validator.Validator
	maxRounds               int
	maxOptimizationAttempts int
	networkPolicy           sandbox.NetworkPolicy
}

// New builds a Controller. maxRounds/maxAttempts come from config.Config.
func New(llmClient llm.Client, backend sandbox.Backend, v *validator.Validator, maxRounds, maxOptimizationAttempts int) *Controller {
	if maxRounds <= 0 {
		maxRounds = 3
	}
	if maxOptimizationAttempts <= 0 {
		maxOptimizationAttempts = 3
	}
	return &Controller{
		llmClient:               llmClient,
		backend:                 backend,
		validator:               v,
		maxRounds:               maxRounds,
		maxOptimizationAttempts: maxOptimizationAttempts,
		networkPolicy:           sandbox.NetworkRestrict,
	}
}

// Run drives the outer round loop against instruction, returning the first
// validated success or the accumulated failure once rounds are exhausted.
func (c *Controller) Run(ctx context.Context, instruction models.StandardizedInstruction) (Outcome, error) {
	return c.RunWithSystemPrompt(ctx, instruction, buildSystemPrompt(instruction))
}

// RunWithSystemPrompt is Run with the codegen system prompt supplied by the
// caller instead of derived from instruction, letting the orchestrator's
// search cascade (spec.md §4.7 step 3) drive the same round/attempt loop
// with its own template-guided or free-form prompt variants.
func (c *Controller) RunWithSystemPrompt(ctx context.Context, instruction models.StandardizedInstruction, systemPrompt string) (Outcome, error) {
	conv := newConversation()
	agg := ecode.NewAggregator()

	totalAttempts := 0
	for round := 1; round <= c.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Rounds: round - 1, Attempts: totalAttempts}, err
		}
		if round > 1 {
			conv.resetRound()
		}

		log := logger.WithComponent("taskrunner")
		log.Debug("starting round", zap.Int("round", round))

		outcome, attempts, err := c.runRound(ctx, instruction, systemPrompt, conv, round)
		totalAttempts += attempts
		if err != nil {
			agg.Add(err)
		}
		if outcome.Success {
			outcome.Rounds = round
			outcome.Attempts = totalAttempts
			return outcome, nil
		}

		conv.reset()
	}

	return Outcome{Rounds: c.maxRounds, Attempts: totalAttempts},
		ecode.New(ecode.CodeRoundsExhausted, "taskrunner", "Run", agg.Error())
}

// runRound drives the inner optimization-attempt loop for one round.
func (c *Controller) runRound(ctx context.Context, instruction models.StandardizedInstruction, systemPrompt string, conv *conversation, round int) (Outcome, int, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxOptimizationAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{}, attempt - 1, err
		}

		userPrompt := instruction.Original
		history := []llm.Message(nil)
		if attempt > 1 {
			userPrompt = "optimize code based on errors"
			history = conv.history()
		}

		var response string
		genErr := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context, _ int) error {
			out, err := c.llmClient.Generate(ctx, systemPrompt, userPrompt, history)
			if err != nil {
				return ecode.Wrap(err, ecode.CodeLLMUnavailable, "taskrunner", "generate")
			}
			response = out
			return nil
		}, "taskrunner", "generate")
		if genErr != nil {
			lastErr = genErr
			continue
		}

		conv.addUser(userPrompt, tagNormal)
		conv.addAssistant(response)

		blocks := llmparse.ExtractAllCode(response)
		if len(blocks) == 0 {
			lastErr = ecode.New(ecode.CodeLLMParsingFailed, "taskrunner", "extract_code", "no code block in LLM response")
			conv.addUser(optimizePrompt(CompressedError{ErrorType: "no_code", Message: "response had no code block"}), tagErrorFeedback)
			continue
		}

		code, result, ok := c.executeLast(ctx, blocks, instruction)
		if !ok {
			compressed := CompressError(result.Error)
			conv.addUser(optimizePrompt(compressed), tagErrorFeedback)
			lastErr = ecode.New(ecode.CodeSandboxRuntimeError, "taskrunner", "execute", result.Error)
			continue
		}

		report := c.validator.Validate(ctx, result, instruction)
		if report.Passed {
			return Outcome{Code: code, Result: result, Validation: report, Success: true}, attempt, nil
		}

		conv.addUser(validationFeedbackPrompt(string(report.Tier), report.FailureReason), tagErrorFeedback)
		lastErr = ecode.New(ecode.CodeValidationFailed, "taskrunner", "validate", report.FailureReason)
	}

	return Outcome{}, c.maxOptimizationAttempts, lastErr
}

// executeLast runs every extracted code block in order (spec.md §4.8) and
// returns the last one that executed successfully, along with its result.
func (c *Controller) executeLast(ctx context.Context, blocks []string, instruction models.StandardizedInstruction) (string, models.RawExecutionResult, bool) {
	var lastCode string
	var lastResult models.RawExecutionResult
	var lastSuccessCode string
	var lastSuccessResult models.RawExecutionResult
	found := false

	for _, block := range blocks {
		result, err := c.backend.Execute(ctx, sandbox.Request{
			Code:          block,
			Params:        instruction.ParameterValues(),
			NetworkPolicy: c.networkPolicy,
		})
		if err != nil {
			lastCode = block
			lastResult = models.RawExecutionResult{Success: false, Error: err.Error()}
			continue
		}
		lastCode = block
		lastResult = result
		if result.Success {
			lastSuccessCode = block
			lastSuccessResult = result
			found = true
		}
	}

	if !found {
		return lastCode, lastResult, false
	}
	return lastSuccessCode, lastSuccessResult, true
}
