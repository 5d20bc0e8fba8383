// Package sandbox runs one generated Go function body in an isolated child
// process and extracts its result via the __AIFORGE_RESULT__ line protocol
// (spec.md §4.4). Two backends are available: ProcessBackend, a plain
// subprocess with best-effort rlimits, and ContainerBackend, an optional
// hardened Docker-isolated alternative adapted from the teacher's container
// runner. Grounded on original_source/core/runner.py's SecureProcessRunner.
package sandbox

import (
	"context"
	"time"

	"aiforge/internal/config"
	"aiforge/internal/models"
)

// NetworkPolicy controls what network access a sandboxed process is given.
type NetworkPolicy string

const (
	NetworkBlockAll NetworkPolicy = "block_all"
	NetworkRestrict NetworkPolicy = "restrict"
	NetworkOff      NetworkPolicy = "off" // host default, no restriction
)

// Request describes one execution: a self-contained generated function body
// plus the parameters to call it with.
type Request struct {
	// Code is a complete Go declaration of func Run(params
	// map[string]interface{}) (interface{}, error), as produced by the LLM
	// codegen stage.
	Code       string
	Params     map[string]interface{}
	NetworkPolicy NetworkPolicy
	Timeout    time.Duration
}

// Backend isolates and executes one Request, returning the parsed
// __AIFORGE_RESULT__ payload (or a synthesized failure when the child never
// produced one).
type Backend interface {
	Execute(ctx context.Context, req Request) (models.RawExecutionResult, error)
}

// NewBackend builds the process backend from cfg, or the Docker backend when
// useContainer is true (cmd/aiforge sets it from its -container-sandbox
// flag).
func NewBackend(cfg config.SecurityConfig, useContainer bool) Backend {
	if useContainer {
		return NewContainerBackend(cfg)
	}
	return NewProcessBackend(cfg)
}

func networkPolicyFromConfig(n config.NetworkConfig) NetworkPolicy {
	switch {
	case n.BlockNetworkAccess:
		return NetworkBlockAll
	case n.RestrictNetworkAccess:
		return NetworkRestrict
	default:
		return NetworkOff
	}
}
