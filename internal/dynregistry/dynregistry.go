// Package dynregistry tracks task types the instruction analyzer invents on
// the fly, alongside their usage and success counters, persisted to disk.
//
// Grounded on original_source/core/dynamic_task_type_manager.py's
// DynamicTaskTypeManager.
package dynregistry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"aiforge/internal/models"
)

// Registry tracks dynamically discovered task types and implements
// instruction.TypeStats so the analyzer's adaptive guidance can react to it.
type Registry struct {
	mu       sync.RWMutex
	path     string
	builtin  map[string]bool
	dynamic  map[string]*models.DynamicTaskTypeEntry
	allTime  int
	builtinN int
}

// Load reads the registry from dbPath if present, starting empty otherwise.
func Load(dbPath string) (*Registry, error) {
	r := &Registry{
		path:    dbPath,
		builtin: make(map[string]bool, len(models.BuiltinTaskTypes)),
		dynamic: make(map[string]*models.DynamicTaskTypeEntry),
	}
	for _, t := range models.BuiltinTaskTypes {
		r.builtin[string(t)] = true
	}

	data, err := os.ReadFile(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, err
	}

	var entries []models.DynamicTaskTypeEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	for i := range entries {
		r.dynamic[entries[i].TaskType] = &entries[i]
	}

	return r, nil
}

// Register records one use of taskType against an instruction's target
// description. Built-in types are tracked for the usage-rate computation but
// never persisted as dynamic entries.
func (r *Registry) Register(taskType, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.allTime++
	if r.builtin[taskType] {
		r.builtinN++
		return nil
	}

	entry, ok := r.dynamic[taskType]
	if !ok {
		entry = &models.DynamicTaskTypeEntry{
			TaskType:  taskType,
			CreatedAt: time.Now(),
		}
		r.dynamic[taskType] = entry
	}

	entry.Count++
	entry.LastUsed = time.Now()

	pattern := target
	if len(pattern) > 50 {
		pattern = pattern[:50]
	}
	if !containsString(entry.Patterns, pattern) {
		entry.Patterns = append(entry.Patterns, pattern)
	}

	return r.save()
}

// RecordOutcome updates a dynamic task type's rolling success counter.
func (r *Registry) RecordOutcome(taskType string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.dynamic[taskType]
	if !ok {
		return nil
	}
	if success {
		entry.SuccessCount++
	}
	return r.save()
}

// Priority returns the cache-matching priority for taskType: built-ins
// always rank highest, dynamic types rank by usage frequency and success
// rate (original_source's get_task_type_priority).
func (r *Registry) Priority(taskType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.builtin[taskType] {
		return 100
	}

	entry, ok := r.dynamic[taskType]
	if !ok {
		return 0
	}

	count := entry.Count
	if count == 0 {
		count = 1
	}
	successRate := float64(entry.SuccessCount) / float64(count)

	countBonus := float64(entry.Count) / 10
	if countBonus > 20 {
		countBonus = 20
	}

	return int(50 + successRate*30 + countBonus)
}

// DynamicTypeCount implements instruction.TypeStats.
func (r *Registry) DynamicTypeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.dynamic)
}

// DynamicTypeNames implements instruction.TypeStats, listing every
// previously registered dynamic task type so new candidates can be checked
// for near-duplicate similarity before being accepted.
func (r *Registry) DynamicTypeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.dynamic))
	for name := range r.dynamic {
		names = append(names, name)
	}
	return names
}

// BuiltinUsageRate implements instruction.TypeStats.
func (r *Registry) BuiltinUsageRate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.allTime == 0 {
		return 1.0
	}
	return float64(r.builtinN) / float64(r.allTime)
}

// save persists the dynamic registry via write-temp-then-rename so a crash
// mid-write never leaves a truncated task_types.json behind. Caller must
// hold r.mu.
func (r *Registry) save() error {
	if r.path == "" {
		return nil
	}

	entries := make([]models.DynamicTaskTypeEntry, 0, len(r.dynamic))
	for _, e := range r.dynamic {
		entries = append(entries, *e)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
