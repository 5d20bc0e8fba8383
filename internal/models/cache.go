package models

import (
	"encoding/json"
	"time"
)

// CodeModule is a cache entry: a piece of LLM-generated code that passed the
// cacheability gate (internal/dataflow) and may be replayed against future
// instructions that share its cache key.
type CodeModule struct {
	ModuleID        string    `json:"module_id"`
	InstructionHash string    `json:"instruction_hash"`
	TaskType        TaskType  `json:"task_type"`
	Action          string    `json:"action"`
	FilePath        string    `json:"file_path"`
	CreatedAt       time.Time `json:"created_at"`
	LastUsed        time.Time `json:"last_used"`
	SuccessCount    int64     `json:"success_count"`
	FailureCount    int64     `json:"failure_count"`
	IsParameterized bool      `json:"is_parameterized"`

	// Metadata carries the full standardized instruction the module was
	// stored under, serialized as JSON, so later lookups can validate
	// intent compatibility without reloading the source file.
	Metadata json.RawMessage `json:"metadata"`
}

// SuccessRate returns the module's rolling success rate. Modules with zero
// recorded attempts receive a neutral prior per spec.md §4.2.
func (m CodeModule) SuccessRate() float64 {
	total := m.SuccessCount + m.FailureCount
	if total == 0 {
		return 0.5
	}
	return float64(m.SuccessCount) / float64(total)
}

// CacheStrategy identifies which lookup strategy produced a cache candidate,
// used to weight ranking (spec.md §4.2: exact=4 > type_action=2 > general=1).
type CacheStrategy string

const (
	StrategyExact      CacheStrategy = "exact"
	StrategyTypeAction CacheStrategy = "type_action"
	StrategySemantic   CacheStrategy = "semantic"
)

// Priority returns the strategy's ranking weight.
func (s CacheStrategy) Priority() float64 {
	switch s {
	case StrategyExact:
		return 4
	case StrategyTypeAction:
		return 2
	case StrategySemantic:
		return 1
	default:
		return 1
	}
}

// CacheCandidate is a single ranked hit returned by a Code Cache lookup.
type CacheCandidate struct {
	Module   CodeModule
	Strategy CacheStrategy
	Score    float64
}

// DynamicTaskTypeEntry is one row of the persisted dynamic task-type registry.
type DynamicTaskTypeEntry struct {
	TaskType     string    `json:"task_type"`
	Count        int64     `json:"count"`
	SuccessCount int64     `json:"success_count"`
	Patterns     []string  `json:"patterns"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsed     time.Time `json:"last_used"`
}
