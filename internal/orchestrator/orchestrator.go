// Package orchestrator implements the Execution Orchestrator (spec.md
// §4.7): the component that actually answers one instruction end to end —
// standardizing it, taking the direct-response shortcut when confidence is
// high and no code is needed, trying the parameterized code cache before
// ever calling an LLM for codegen, and falling back to the multi-round task
// controller when nothing cached will do.
//
// Grounded on original_source/core/managers/execution_manager.py's
// AIForgeExecutionManager: execute_instruction's cache-first-or-AI dispatch,
// _handle_direct_response's confidence-gated bypass, and
// _should_cache_standardized_code's dataflow-gate-before-persist decision.
package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"

	"aiforge/internal/cache"
	"aiforge/internal/dataflow"
	"aiforge/internal/ecode"
	"aiforge/internal/events"
	"aiforge/internal/instruction"
	"aiforge/internal/llm"
	"aiforge/internal/logger"
	"aiforge/internal/models"
	"aiforge/internal/parammap"
	"aiforge/internal/sandbox"
	"aiforge/internal/taskrunner"
	"aiforge/internal/validator"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Orchestrator wires instruction analysis, the code cache, the sandbox, the
// result validator, and the multi-round controller into one entry point.
type Orchestrator struct {
	analyzer   *instruction.Analyzer
	cacheStore *cache.Store
	mapper     *parammap.Mapper
	backend    sandbox.Backend
	validator  *validator.Validator
	controller *taskrunner.Controller
	llmClient  llm.Client
	publisher  events.Publisher
	searcher   Searcher
}

// New builds an Orchestrator from its already-constructed dependencies; the
// composition root (cmd/aiforge) is responsible for wiring config into each
// of them first.
func New(
	analyzer *instruction.Analyzer,
	cacheStore *cache.Store,
	backend sandbox.Backend,
	v *validator.Validator,
	llmClient llm.Client,
	maxRounds, maxOptimizationAttempts int,
) *Orchestrator {
	return &Orchestrator{
		analyzer:   analyzer,
		cacheStore: cacheStore,
		mapper:     parammap.NewMapper(),
		backend:    backend,
		validator:  v,
		controller: taskrunner.New(llmClient, backend, v, maxRounds, maxOptimizationAttempts),
		llmClient:  llmClient,
		searcher:   BuiltinSearcher{},
	}
}

// WithPublisher attaches an out-bound progress-event sink (spec.md §6); when
// unset, Execute runs without publishing anything.
func (o *Orchestrator) WithPublisher(p events.Publisher) *Orchestrator {
	o.publisher = p
	return o
}

// WithSearcher overrides the built-in search_web stand-in used by tier (a)
// of the four-tier search cascade (spec.md §4.7 step 3), e.g. for tests.
func (o *Orchestrator) WithSearcher(s Searcher) *Orchestrator {
	o.searcher = s
	return o
}

// publish is a no-op when no publisher is attached; any publish failure,
// terminal events included, is logged at debug level and swallowed since it
// must never fail the instruction it's reporting on.
func (o *Orchestrator) publish(ctx context.Context, t models.ProgressEventType, msg string, data interface{}) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, models.NewProgressEvent(t, msg, data)); err != nil {
		logger.WithComponent("orchestrator").Debug("progress publish failed", zap.Error(err))
	}
}

// Execute answers one raw instruction end to end, returning the canonical
// result shape every orchestration request produces (spec.md §3).
func (o *Orchestrator) Execute(ctx context.Context, session *Session, raw string) (models.CanonicalResult, error) {
	if session != nil && session.ShuttingDown() {
		return models.NewErrorResult("execution cancelled: shutdown in progress", models.TaskTypeGeneral),
			ecode.New(ecode.CodeSessionStopped, "orchestrator", "Execute", "session is shutting down")
	}

	// Empty or whitespace-only instructions carry nothing to standardize or
	// execute; spec.md §8 calls for the orchestrator to return null rather
	// than routing them through analysis. models.CanonicalResult's zero
	// value (no status, no data) is that null.
	if strings.TrimSpace(raw) == "" {
		return models.CanonicalResult{}, nil
	}

	log := logger.WithComponent("orchestrator")

	o.publish(ctx, models.ProgressTypeProgress, "analyzing instruction", nil)

	std, err := o.analyzer.Standardize(ctx, raw)
	if err != nil {
		o.publish(ctx, models.ProgressTypeError, err.Error(), nil)
		return models.NewErrorResult(err.Error(), models.TaskTypeGeneral),
			ecode.Wrap(err, ecode.CodeAnalysisFailed, "orchestrator", "standardize")
	}
	log.Debug("standardized instruction",
		zap.String("task_type", string(std.TaskType)), zap.String("action", std.Action),
		zap.Float64("confidence", std.Confidence))
	o.publish(ctx, models.ProgressTypeProgress, "standardized instruction", std.TaskType)

	var (
		result models.CanonicalResult
		runErr error
	)

	switch {
	case (std.ExecutionMode == models.ExecutionModeDirectAIResponse || std.TaskType == models.TaskTypeDirectResponse) && !std.LowConfidence():
		result, runErr = o.handleDirectResponse(ctx, std)
	case std.IsSearchLike():
		result, runErr = o.executeSearchCascade(ctx, std)
	default:
		if cached, ok := o.executeWithCacheFirst(ctx, std); ok {
			result, runErr = cached, nil
			break
		}
		if session != nil && session.ShuttingDown() {
			result, runErr = models.NewErrorResult("execution cancelled: shutdown in progress", models.TaskTypeGeneral),
				ecode.New(ecode.CodeSessionStopped, "orchestrator", "Execute", "session is shutting down")
			break
		}
		result, runErr = o.executeWithController(ctx, std)
	}

	if runErr != nil {
		o.publish(ctx, models.ProgressTypeError, runErr.Error(), nil)
	} else {
		o.publish(ctx, models.ProgressTypeResult, result.Summary, result.Data)
	}
	o.publish(ctx, models.ProgressTypeComplete, "done", nil)

	return result, runErr
}

// handleDirectResponse bypasses code generation entirely for instructions
// that just need a direct LLM reply, mirroring
// execution_manager.py's _handle_direct_response.
func (o *Orchestrator) handleDirectResponse(ctx context.Context, std models.StandardizedInstruction) (models.CanonicalResult, error) {
	if o.llmClient == nil {
		return models.NewErrorResult("no LLM client configured for direct response", std.TaskType),
			ecode.New(ecode.CodeLLMUnavailable, "orchestrator", "direct_response", "no llm client")
	}

	systemPrompt := "Answer the user's request directly and concisely. Do not write code."
	response, err := o.llmClient.Generate(ctx, systemPrompt, std.Original, nil)
	if err != nil {
		return models.NewErrorResult(err.Error(), std.TaskType),
			ecode.Wrap(err, ecode.CodeLLMUnavailable, "orchestrator", "direct_response")
	}

	return models.NewSuccessResult(
		map[string]interface{}{"response": response},
		"direct AI response", std.TaskType, "direct_response",
	), nil
}

// executeWithCacheFirst mirrors _execute_with_cache_first: look up ranked
// cache candidates, try each in turn, and report back whether one produced
// a validated result.
func (o *Orchestrator) executeWithCacheFirst(ctx context.Context, std models.StandardizedInstruction) (models.CanonicalResult, bool) {
	if o.cacheStore == nil {
		return models.CanonicalResult{}, false
	}

	log := logger.WithComponent("orchestrator")

	candidates, err := o.cacheStore.Lookup(ctx, std)
	if err != nil {
		log.Warn("cache lookup failed", zap.Error(err))
		return models.CanonicalResult{}, false
	}

	for _, candidate := range candidates {
		code, err := o.cacheStore.Load(ctx, candidate.Module.ModuleID)
		if err != nil {
			log.Warn("failed to load cached module", zap.String("module_id", candidate.Module.ModuleID), zap.Error(err))
			continue
		}

		params, strategy, hasRequiredGap := o.resolveCallParams(candidate, std)
		log.Debug("resolved cache candidate call strategy",
			zap.String("module_id", candidate.Module.ModuleID), zap.String("call_strategy", string(strategy)))
		if hasRequiredGap {
			log.Debug("skipping cache candidate: required parameters unresolved",
				zap.String("module_id", candidate.Module.ModuleID))
			_ = o.cacheStore.UpdateStats(ctx, candidate.Module.ModuleID, false)
			o.analyzer.RecordOutcome(std.TaskType, false)
			continue
		}

		result, err := o.backend.Execute(ctx, sandbox.Request{
			Code:          code,
			Params:        params,
			NetworkPolicy: sandbox.NetworkRestrict,
		})
		if err != nil || !result.Success {
			_ = o.cacheStore.UpdateStats(ctx, candidate.Module.ModuleID, false)
			o.analyzer.RecordOutcome(std.TaskType, false)
			continue
		}

		report := o.validator.Validate(ctx, result, std)
		if !report.Passed {
			_ = o.cacheStore.UpdateStats(ctx, candidate.Module.ModuleID, false)
			o.analyzer.RecordOutcome(std.TaskType, false)
			continue
		}

		_ = o.cacheStore.UpdateStats(ctx, candidate.Module.ModuleID, true)
		o.analyzer.RecordOutcome(std.TaskType, true)
		log.Info("served from code cache",
			zap.String("module_id", candidate.Module.ModuleID), zap.String("strategy", string(candidate.Strategy)))

		return models.NewSuccessResult(result.Result, "served from cached module", std.TaskType, "cache_hit"), true
	}

	return models.CanonicalResult{}, false
}

// resolveCallParams maps the new instruction's available parameter values
// onto the cached module's originally declared parameter names (carried in
// its metadata), so a module stored under slightly different parameter
// names can still be replayed (spec.md §4.3's fallback chain). It also
// reports which of the chain's call strategies the mapping landed on, and
// whether a required (no-default) parameter was left unresolved. The Go
// harness's fixed Run(map[string]interface{}) signature means every
// strategy ultimately invokes the same way, so ResolveCallStrategy's real
// job here is to flag the CallNoArg/CallPositional cases where the mapping
// is too weak to bother invoking the sandbox at all.
func (o *Orchestrator) resolveCallParams(candidate models.CacheCandidate, std models.StandardizedInstruction) (map[string]interface{}, parammap.CallStrategy, bool) {
	available := std.ParameterValues()

	var stored models.StandardizedInstruction
	if err := json.Unmarshal(candidate.Module.Metadata, &stored); err != nil || len(stored.RequiredParameters) == 0 {
		return available, parammap.CallKeywordAll, false
	}

	funcParams := make([]parammap.FuncParam, 0, len(stored.RequiredParameters))
	for name, p := range stored.RequiredParameters {
		funcParams = append(funcParams, parammap.FuncParam{Name: name, Default: p.Value, HasDefault: !p.Required})
	}

	resolved := o.mapper.Map(funcParams, available)
	strategy := parammap.ResolveCallStrategy(funcParams, resolved)
	requiredGap := len(funcParams) > 0 && (strategy == parammap.CallNoArg || strategy == parammap.CallPositional)
	return resolved, strategy, requiredGap
}

// executeWithController falls back to the multi-round generation loop when
// nothing in the cache satisfied the instruction, then decides whether the
// freshly generated module earns a spot in the cache.
func (o *Orchestrator) executeWithController(ctx context.Context, std models.StandardizedInstruction) (models.CanonicalResult, error) {
	log := logger.WithComponent("orchestrator")

	outcome, err := o.controller.Run(ctx, std)
	if err != nil {
		o.analyzer.RecordOutcome(std.TaskType, false)
		return models.NewErrorResult(err.Error(), std.TaskType), err
	}
	o.analyzer.RecordOutcome(std.TaskType, true)

	if o.cacheStore != nil && o.shouldCache(outcome, std) {
		o.saveToCache(ctx, outcome, std)
	} else {
		log.Debug("generated module did not pass the cacheability gate, not persisting")
	}

	return models.NewSuccessResult(outcome.Result.Result, "generated and validated", std.TaskType, "generated"), nil
}

// shouldCache runs the dataflow cacheability gate (spec.md §4.5) over the
// freshly generated code, mirroring _should_cache_standardized_code.
func (o *Orchestrator) shouldCache(outcome taskrunner.Outcome, std models.StandardizedInstruction) bool {
	paramNames := make([]string, 0, len(std.RequiredParameters))
	for name := range std.RequiredParameters {
		paramNames = append(paramNames, name)
	}

	analysis, err := dataflow.AnalyzeFunc(outcome.Code, paramNames...)
	if err != nil {
		logger.WithComponent("orchestrator").Warn("dataflow analysis failed, skipping cache", zap.Error(err))
		return false
	}

	ok, reason := analysis.Gate(dataflow.GateInput{
		RequiredParameterCount: len(std.RequiredParameters),
		Action:                 std.Action,
		Code:                   outcome.Code,
	})
	if !ok {
		logger.WithComponent("orchestrator").Debug("cacheability gate rejected module", zap.String("reason", reason))
	}
	return ok
}

func (o *Orchestrator) saveToCache(ctx context.Context, outcome taskrunner.Outcome, std models.StandardizedInstruction) {
	metadata, err := json.Marshal(std)
	if err != nil {
		return
	}

	module := models.CodeModule{
		ModuleID:        uuid.NewString(),
		InstructionHash: std.CacheKey,
		TaskType:        std.TaskType,
		Action:          std.Action,
		IsParameterized: len(std.RequiredParameters) > 0,
		Metadata:        metadata,
	}

	if _, err := o.cacheStore.Save(ctx, module, outcome.Code); err != nil {
		logger.WithComponent("orchestrator").Warn("failed to persist generated module", zap.Error(err))
	}
}

// Session is a single request-scoped cancellation handle, grounded on
// original_source/core/managers/shutdown_manager.py's AIForgeShutdownManager:
// a flag the orchestrator and task controller poll at round/attempt
// boundaries instead of the Python original's global singleton + threading
// event, since Go callers already carry a context.Context to cancel through.
type Session struct {
	shuttingDown atomic.Bool
	cancel       context.CancelFunc
}

// NewSession derives a cancellable context and its paired Session handle.
func NewSession(ctx context.Context) (context.Context, *Session) {
	childCtx, cancel := context.WithCancel(ctx)
	return childCtx, &Session{cancel: cancel}
}

// Shutdown marks the session as shutting down and cancels its context,
// mirroring initiate_shutdown.
func (s *Session) Shutdown() {
	s.shuttingDown.Store(true)
	if s.cancel != nil {
		s.cancel()
	}
}

// ShuttingDown reports whether Shutdown has already been called.
func (s *Session) ShuttingDown() bool {
	return s.shuttingDown.Load()
}

